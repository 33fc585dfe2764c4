package reconcile

import (
	"errors"
	"fmt"
	"math"

	"bybit-tpsl-sync/internal/bybit"
)

// LadderLevel identifies one of the supplemental take-profit levels. TP1 is
// the position-level take-profit set together with the stop-loss and has no
// standalone order of its own.
type LadderLevel string

const (
	LevelTP2 LadderLevel = "TP2"
	LevelTP3 LadderLevel = "TP3"
)

// Allocation fractions of total position quantity per ladder level. The
// remaining 50% stays covered by the position-level take-profit or is left
// open. Fixed policy, not caller-configurable.
const (
	AllocationTP2 = 0.30
	AllocationTP3 = 0.20
)

// QtyDecimals is the venue's quantity precision in asset-native units.
const QtyDecimals = 3

// Errors returned by intent validation. These are contract violations the
// caller must prevent, not exchange failures.
var (
	ErrEmptySymbol     = errors.New("symbol is required")
	ErrInvalidSide     = errors.New("side must be Long or Short")
	ErrInvalidLevel    = errors.New("unknown ladder level")
	ErrDuplicateLevel  = errors.New("duplicate ladder level")
	ErrInvalidPrice    = errors.New("ladder target price must be positive")
	ErrInvalidQuantity = errors.New("position quantity must be positive to place ladder orders")
)

// LadderTarget is one supplemental take-profit level the caller wants live.
type LadderTarget struct {
	Level LadderLevel `json:"level"`
	Price float64     `json:"price"`
}

// PositionIntent is the desired protective state for one open position,
// constructed by the caller immediately before each reconciliation attempt
// and discarded afterwards. Nil price fields mean "leave unchanged".
type PositionIntent struct {
	Symbol           string             `json:"symbol"`
	Side             bybit.PositionSide `json:"side"`
	StopLoss         *float64           `json:"stop_loss,omitempty"`
	TakeProfitMain   *float64           `json:"take_profit_main,omitempty"`
	Ladder           []LadderTarget     `json:"ladder,omitempty"`
	PositionQuantity float64            `json:"position_quantity"`
}

// LadderRefs maps a level to the client order id of the previously placed
// order at that level, read by the caller from its durable position record.
// Absent entries mean first-time placement.
type LadderRefs map[LadderLevel]string

// Validate rejects malformed intents before any mutation is attempted.
func (in *PositionIntent) Validate() error {
	if in.Symbol == "" {
		return ErrEmptySymbol
	}
	if !in.Side.Valid() {
		return ErrInvalidSide
	}

	seen := make(map[LadderLevel]bool, len(in.Ladder))
	for _, target := range in.Ladder {
		if target.Level != LevelTP2 && target.Level != LevelTP3 {
			return fmt.Errorf("%w: %q", ErrInvalidLevel, target.Level)
		}
		if seen[target.Level] {
			return fmt.Errorf("%w: %q", ErrDuplicateLevel, target.Level)
		}
		seen[target.Level] = true
		if target.Price <= 0 {
			return fmt.Errorf("%w: %s at %v", ErrInvalidPrice, target.Level, target.Price)
		}
	}

	if len(in.Ladder) > 0 && in.PositionQuantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// IsNoop reports whether the intent requests no change at all.
func (in *PositionIntent) IsNoop() bool {
	return in.StopLoss == nil && in.TakeProfitMain == nil && len(in.Ladder) == 0
}

// LadderQty sizes a level's order: the level's fixed fraction of total
// position quantity, rounded to the venue's quantity precision.
func LadderQty(level LadderLevel, positionQty float64) float64 {
	var fraction float64
	switch level {
	case LevelTP2:
		fraction = AllocationTP2
	case LevelTP3:
		fraction = AllocationTP3
	default:
		return 0
	}
	return roundQty(positionQty * fraction)
}

func roundQty(q float64) float64 {
	shift := math.Pow10(QtyDecimals)
	return math.Round(q*shift) / shift
}
