package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full snapshot of bids and asks for a market's YES
// token, as written by the external ingestion process. Timestamp is the
// snapshot time used for staleness checks; consumers must reject stale books
// rather than trade on them.
type OrderbookSnapshot struct {
	MarketID  string
	Bids      []PriceLevel // sorted best (highest) first
	Asks      []PriceLevel // sorted best (lowest) first
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}

// PriceQuote is the latest consolidated YES price for a market.
type PriceQuote struct {
	MarketID  string
	Price     float64
	Timestamp time.Time
}
