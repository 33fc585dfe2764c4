// Package position reads the exchange's current view of an open position so
// callers can decide what protection still needs converging.
package position

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"bybit-tpsl-sync/internal/bybit"
)

// Snapshot is the venue-side state of one position at read time. Nil price
// fields mean the venue has no such protection set.
type Snapshot struct {
	Symbol     string             `json:"symbol"`
	Side       bybit.PositionSide `json:"side"`
	Quantity   float64            `json:"quantity"`
	AvgPrice   float64            `json:"avg_price"`
	MarkPrice  float64            `json:"mark_price"`
	StopLoss   *float64           `json:"stop_loss,omitempty"`
	TakeProfit *float64           `json:"take_profit,omitempty"`
}

// Open reports whether the venue holds any quantity for this position.
func (s *Snapshot) Open() bool {
	return s != nil && s.Quantity > 0
}

// Viewer resolves position snapshots through the order gateway.
type Viewer struct {
	gateway bybit.OrderGateway
	logger  zerolog.Logger
}

// NewViewer creates a viewer backed by the given gateway.
func NewViewer(gateway bybit.OrderGateway, logger zerolog.Logger) *Viewer {
	return &Viewer{
		gateway: gateway,
		logger:  logger.With().Str("component", "position_viewer").Logger(),
	}
}

// Snapshot fetches the venue's current state for one symbol and side. A nil
// snapshot with nil error means the venue reports no open position there.
// Any read failure is returned as-is so callers abort before mutating.
func (v *Viewer) Snapshot(ctx context.Context, symbol string, side bybit.PositionSide) (*Snapshot, error) {
	positions, err := v.gateway.GetPositions(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching positions for %s: %w", symbol, err)
	}

	for i := range positions {
		p := &positions[i]
		if p.Symbol != symbol || bybit.SideFromVenue(p.Side) != side {
			continue
		}
		snap, err := parsePosition(p)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %s position: %w", symbol, side, err)
		}
		if !snap.Open() {
			v.logger.Debug().Str("symbol", symbol).Str("side", string(side)).Msg("Venue reports zero quantity")
			return nil, nil
		}
		return snap, nil
	}
	return nil, nil
}

func parsePosition(p *bybit.Position) (*Snapshot, error) {
	qty, err := parseRequired(p.Size, "size")
	if err != nil {
		return nil, err
	}
	avg, err := parseRequired(p.AvgPrice, "avgPrice")
	if err != nil {
		return nil, err
	}
	mark, err := parseRequired(p.MarkPrice, "markPrice")
	if err != nil {
		return nil, err
	}
	sl, err := parseOptional(p.StopLoss, "stopLoss")
	if err != nil {
		return nil, err
	}
	tp, err := parseOptional(p.TakeProfit, "takeProfit")
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Symbol:     p.Symbol,
		Side:       bybit.SideFromVenue(p.Side),
		Quantity:   qty,
		AvgPrice:   avg,
		MarkPrice:  mark,
		StopLoss:   sl,
		TakeProfit: tp,
	}, nil
}

func parseRequired(raw, field string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", field, err)
	}
	return v, nil
}

// parseOptional treats "" and "0" as protection-not-set, matching how the
// venue encodes an absent stop in position payloads.
func parseOptional(raw, field string) (*float64, error) {
	if raw == "" || raw == "0" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	if v == 0 {
		return nil, nil
	}
	return &v, nil
}
