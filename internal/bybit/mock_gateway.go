package bybit

import (
	"context"
	"fmt"
	"sync"
)

// GatewayCall records one invocation against the mock, in arrival order.
type GatewayCall struct {
	Op            string // "SetTradingStop", "CancelOrder", "PlaceReduceLimitOrder", "GetPositions"
	Symbol        string
	Side          string
	ClientOrderID string
	Qty           float64
	Price         float64
	StopLoss      *float64
	TakeProfit    *float64
}

// MockGateway implements OrderGateway in memory, recording every call so
// tests can assert ordering and arguments. Per-operation error hooks make
// individual legs fail on demand.
type MockGateway struct {
	mu    sync.Mutex
	Calls []GatewayCall

	Positions []Position

	TradingStopErr  error
	CancelErr       error
	PlaceErr        error
	GetPositionsErr error

	nextOrderID int
}

// NewMockGateway creates an empty mock.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

var _ OrderGateway = (*MockGateway)(nil)

func (m *MockGateway) SetTradingStop(ctx context.Context, params TradingStopParams) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, GatewayCall{
		Op:         "SetTradingStop",
		Symbol:     params.Symbol,
		Side:       string(params.Side),
		StopLoss:   params.StopLoss,
		TakeProfit: params.TakeProfit,
	})
	m.mu.Unlock()
	return m.TradingStopErr
}

func (m *MockGateway) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, GatewayCall{
		Op:            "CancelOrder",
		Symbol:        symbol,
		ClientOrderID: clientOrderID,
	})
	m.mu.Unlock()
	return m.CancelErr
}

func (m *MockGateway) PlaceReduceLimitOrder(ctx context.Context, symbol string, side OrderSide, qty, price float64, clientOrderID string) (*OrderResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, GatewayCall{
		Op:            "PlaceReduceLimitOrder",
		Symbol:        symbol,
		Side:          string(side),
		Qty:           qty,
		Price:         price,
		ClientOrderID: clientOrderID,
	})
	m.nextOrderID++
	id := m.nextOrderID
	m.mu.Unlock()

	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	return &OrderResult{
		OrderID:     fmt.Sprintf("mock-%d", id),
		OrderLinkID: clientOrderID,
	}, nil
}

func (m *MockGateway) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, GatewayCall{Op: "GetPositions", Symbol: symbol})
	m.mu.Unlock()

	if m.GetPositionsErr != nil {
		return nil, m.GetPositionsErr
	}
	return m.Positions, nil
}

// CallsFor returns the recorded calls matching the given operation.
func (m *MockGateway) CallsFor(op string) []GatewayCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []GatewayCall
	for _, c := range m.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}
