package domain

import "time"

// Direction is the side of the binary outcome a stake is taken on.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// Valid reports whether the direction is one of the two known outcomes.
func (d Direction) Valid() bool {
	return d == DirectionYes || d == DirectionNo
}

// EffectivePrice converts a YES-quoted price into the price of the traded
// side. All ledger math downstream works in direction-adjusted prices so the
// sign logic lives in exactly one place.
func (d Direction) EffectivePrice(yesPrice float64) float64 {
	if d == DirectionNo {
		return 1 - yesPrice
	}
	return yesPrice
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position is one directional stake in one market for one account. At most
// one OPEN position exists per (account, market, direction); a repeat BUY on
// the same key merges into the existing row via weighted-average entry price.
type Position struct {
	ID            string
	AccountID     string
	MarketID      string
	Direction     Direction
	Shares        float64
	CostBasis     float64 // dollars committed, reduced proportionally on partial sells
	EntryPrice    float64 // direction-adjusted, size-weighted average
	Status        PositionStatus
	ClosureReason string // empty unless closed by settlement
	RealizedPnL   *float64
	OpenedAt      time.Time
	ClosedAt      *time.Time
	UpdatedAt     time.Time
}

// UnrealizedPnL marks the open stake against a live YES-quoted price.
func (p Position) UnrealizedPnL(yesPrice float64) float64 {
	return p.Shares * (p.Direction.EffectivePrice(yesPrice) - p.EntryPrice)
}

// MarkValue is the current liquidation value of the open stake at a live
// YES-quoted price.
func (p Position) MarkValue(yesPrice float64) float64 {
	return p.Shares * p.Direction.EffectivePrice(yesPrice)
}
