package domain

import "time"

// MarketStatus represents the lifecycle state of a market listing.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is the locally synced metadata for one prediction market. Category
// and volume feed the risk gate; resolution fields feed the settlement engine.
type Market struct {
	ID              string
	Question        string
	Slug            string
	Category        string
	Volume          float64
	Status          MarketStatus
	ResolutionPrice *float64 // YES-quoted terminal price in [0,1], nil until resolved
	WinningOutcome  *string  // "Yes" or "No", nil until resolved
	ClosedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Resolution is the externally reported outcome state for a market.
type Resolution struct {
	IsResolved      bool
	ResolutionPrice *float64
	WinningOutcome  *string
}

// Price derives the terminal YES price from whichever resolution field is
// present. The second return is false when neither a price nor a winning
// outcome was reported, in which case settlement must skip the market rather
// than fabricate a price.
func (r Resolution) Price() (float64, bool) {
	if r.ResolutionPrice != nil {
		return *r.ResolutionPrice, true
	}
	if r.WinningOutcome != nil {
		switch *r.WinningOutcome {
		case "Yes", "YES", "yes":
			return 1, true
		case "No", "NO", "no":
			return 0, true
		}
	}
	return 0, false
}
