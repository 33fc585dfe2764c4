package bybit

import "context"

// OrderGateway defines the remote operations the reconciler and the state
// view drive. Each call is one independently signed, independently fallible
// request; the gateway never retries internally.
type OrderGateway interface {
	// SetTradingStop updates the position-level stop-loss and/or primary
	// take-profit. Fields left nil are not sent and remain unchanged.
	SetTradingStop(ctx context.Context, params TradingStopParams) error

	// CancelOrder cancels an order by its client-assigned id.
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error

	// PlaceReduceLimitOrder places a reduce-only GTC limit order tagged with
	// the given client order id and returns the venue's acknowledgement.
	PlaceReduceLimitOrder(ctx context.Context, symbol string, side OrderSide, qty, price float64, clientOrderID string) (*OrderResult, error)

	// GetPositions lists open positions for a symbol.
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
}
