// Package engine implements the trading core: pre-trade risk gating, trade
// execution, continuous risk monitoring, settlement, and the daily boundary
// job. All money mutations flow through domain.Store.WithTx so a rejected or
// failed trade never leaves partial state.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/polyprop/polyprop/internal/domain"
)

// ExposureCache is a read-through cache of each account's open cost basis per
// market category. It exists so the risk gate's category check does not join
// positions against market metadata on every trade; correctness only requires
// that it is invalidated on every position write for the same account.
type ExposureCache struct {
	positions domain.PositionStore
	markets   domain.MarketStore

	mu        sync.RWMutex
	byAccount map[string]map[string]float64 // accountID -> category -> open cost basis
}

// NewExposureCache creates an empty cache over the given stores.
func NewExposureCache(positions domain.PositionStore, markets domain.MarketStore) *ExposureCache {
	return &ExposureCache{
		positions: positions,
		markets:   markets,
		byAccount: make(map[string]map[string]float64),
	}
}

// Get returns the category exposure map for an account, rebuilding it from
// the position book on a miss. The returned map must not be mutated.
func (c *ExposureCache) Get(ctx context.Context, accountID string) (map[string]float64, error) {
	c.mu.RLock()
	cached, ok := c.byAccount[accountID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	built, err := c.build(ctx, accountID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byAccount[accountID] = built
	c.mu.Unlock()
	return built, nil
}

// Invalidate drops the cached exposure for an account. Callers must invoke it
// after every position mutation for that account.
func (c *ExposureCache) Invalidate(accountID string) {
	c.mu.Lock()
	delete(c.byAccount, accountID)
	c.mu.Unlock()
}

func (c *ExposureCache) build(ctx context.Context, accountID string) (map[string]float64, error) {
	open, err := c.positions.ListOpenByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("engine: exposure: list open positions: %w", err)
	}

	marketIDs := make([]string, 0, len(open))
	for _, p := range open {
		marketIDs = append(marketIDs, p.MarketID)
	}

	markets, err := c.markets.GetByIDs(ctx, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("engine: exposure: get markets: %w", err)
	}

	out := make(map[string]float64)
	for _, p := range open {
		category := ""
		if m, ok := markets[p.MarketID]; ok {
			category = m.Category
		}
		out[category] += p.CostBasis
	}
	return out, nil
}
