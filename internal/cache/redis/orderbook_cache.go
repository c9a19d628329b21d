package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/redis/go-redis/v9"
)

const bookTTL = 2 * time.Minute

// OrderbookCache implements domain.OrderbookCache storing one JSON depth
// snapshot per market. The ingestion process overwrites the whole snapshot on
// every book update; consumers always read a consistent book and decide
// staleness from the embedded timestamp.
//
// Key schema:
//
//	book:{marketID} - string value containing the JSON snapshot
type OrderbookCache struct {
	rdb *redis.Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying()}
}

func bookKey(marketID string) string { return "book:" + marketID }

// SetSnapshot replaces the depth snapshot for a market. The TTL keeps dead
// markets from pinning stale books forever.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, marketID string, snap domain.OrderbookSnapshot) error {
	snap.MarketID = marketID
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", marketID, err)
	}
	if err := oc.rdb.Set(ctx, bookKey(marketID), data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", marketID, err)
	}
	return nil
}

// GetSnapshot retrieves the latest depth snapshot for a market.
// It returns domain.ErrNotFound when no snapshot exists.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, marketID string) (domain.OrderbookSnapshot, error) {
	data, err := oc.rdb.Get(ctx, bookKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderbookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get book %s: %w", marketID, err)
	}

	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: unmarshal book %s: %w", marketID, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
