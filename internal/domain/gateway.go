package domain

import (
	"context"
	"io"
	"time"
)

// MarketDataGateway is read-only access to the consolidated price and depth
// snapshots maintained by the external ingestion process. Every read carries
// a timestamp; consumers decide staleness, the gateway never does.
type MarketDataGateway interface {
	GetPrice(ctx context.Context, marketID string) (PriceQuote, error)
	GetOrderBook(ctx context.Context, marketID string) (OrderbookSnapshot, error)
	GetVolume(ctx context.Context, marketID string) (float64, error)
}

// ResolutionFeed reports market resolution state from the upstream venue.
type ResolutionFeed interface {
	BatchGetResolutionStatus(ctx context.Context, marketIDs []string) (map[string]Resolution, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged audit data from the database to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error)
}
