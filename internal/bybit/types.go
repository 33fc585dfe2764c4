package bybit

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "Long"
	SideShort PositionSide = "Short"
)

// ClosingSide returns the order side that reduces a position in this
// direction: a long closes with Sell orders, a short with Buy orders.
func (s PositionSide) ClosingSide() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Valid reports whether the side is one of the two known values.
func (s PositionSide) Valid() bool {
	return s == SideLong || s == SideShort
}

// SideFromVenue normalizes the venue's position-list side encoding, which
// uses order-side words, to a PositionSide. Flat positions map to "".
func SideFromVenue(raw string) PositionSide {
	switch raw {
	case "Buy", "Long":
		return SideLong
	case "Sell", "Short":
		return SideShort
	}
	return ""
}

// OrderSide is the venue's order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// TradingStopParams carries the position-level protection update. Nil price
// fields are omitted from the request entirely; the venue treats an absent
// field as "leave unchanged", so a sentinel zero must never be sent.
type TradingStopParams struct {
	Symbol     string
	Side       PositionSide
	StopLoss   *float64
	TakeProfit *float64
}

// OrderResult is the venue's acknowledgement of a newly created order.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// Position is one entry from the venue's position-list query.
type Position struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"` // "Buy"/"Long", "Sell"/"Short", "" for flat
	Size       string `json:"size"`
	AvgPrice   string `json:"avgPrice"`
	StopLoss   string `json:"stopLoss"`
	TakeProfit string `json:"takeProfit"`
	MarkPrice  string `json:"markPrice"`
}

// apiResponse is the venue's common envelope.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  responsePayload `json:"result"`
}

// responsePayload holds the union of result shapes this client consumes.
type responsePayload struct {
	OrderID     string     `json:"orderId"`
	OrderLinkID string     `json:"orderLinkId"`
	List        []Position `json:"list"`
}
