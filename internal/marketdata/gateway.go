// Package marketdata exposes consolidated price and depth reads to the
// trading engine. The data itself is maintained out of process; this package
// only layers the hot caches over the synced metadata.
package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/polyprop/polyprop/internal/domain"
)

// Gateway implements domain.MarketDataGateway over the Redis caches with the
// market store as the fallback for volume reads.
type Gateway struct {
	prices  domain.PriceCache
	books   domain.OrderbookCache
	markets domain.MarketCache
	store   domain.MarketStore
}

func NewGateway(prices domain.PriceCache, books domain.OrderbookCache, markets domain.MarketCache, store domain.MarketStore) *Gateway {
	return &Gateway{
		prices:  prices,
		books:   books,
		markets: markets,
		store:   store,
	}
}

// GetPrice returns the latest consolidated YES price for a market.
func (g *Gateway) GetPrice(ctx context.Context, marketID string) (domain.PriceQuote, error) {
	price, ts, err := g.prices.GetPrice(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceQuote{}, domain.ErrNotFound
		}
		return domain.PriceQuote{}, fmt.Errorf("marketdata: get price: %w", err)
	}
	return domain.PriceQuote{MarketID: marketID, Price: price, Timestamp: ts}, nil
}

// GetOrderBook returns the latest depth snapshot for a market.
func (g *Gateway) GetOrderBook(ctx context.Context, marketID string) (domain.OrderbookSnapshot, error) {
	snap, err := g.books.GetSnapshot(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderbookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderbookSnapshot{}, fmt.Errorf("marketdata: get order book: %w", err)
	}
	return snap, nil
}

// GetVolume returns the traded volume for a market, preferring the metadata
// cache and falling back to the database.
func (g *Gateway) GetVolume(ctx context.Context, marketID string) (float64, error) {
	if g.markets != nil {
		if m, err := g.markets.Get(ctx, marketID); err == nil {
			return m.Volume, nil
		}
	}
	m, err := g.store.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("marketdata: get volume: %w", err)
	}
	return m.Volume, nil
}

// Compile-time interface check.
var _ domain.MarketDataGateway = (*Gateway)(nil)
