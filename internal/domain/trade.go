package domain

import "time"

// TradeType is the action recorded by a trade row.
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// ClosureReasonSettlement marks trades generated by the settlement engine
// rather than a user-initiated sell.
const ClosureReasonSettlement = "market_settlement"

// Trade is the immutable audit record of one executed BUY or SELL. RealizedPnL
// is nil for buys and always populated for sells; PositionID is never empty.
type Trade struct {
	ID            string
	AccountID     string
	PositionID    string
	MarketID      string
	Type          TradeType
	Direction     Direction
	FillPrice     float64 // direction-adjusted, size-weighted average
	DollarAmount  float64
	Shares        float64
	RealizedPnL   *float64
	ClosureReason *string
	ExecutedAt    time.Time
}
