package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway serves canned order books and prices keyed by market.
type fakeGateway struct {
	books  map[string]domain.OrderbookSnapshot
	prices map[string]float64
	asOf   time.Time
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		books:  map[string]domain.OrderbookSnapshot{},
		prices: map[string]float64{},
		asOf:   time.Now().UTC(),
	}
}

func (g *fakeGateway) setBook(marketID string, bids, asks []domain.PriceLevel) {
	g.books[marketID] = domain.OrderbookSnapshot{
		MarketID:  marketID,
		Bids:      bids,
		Asks:      asks,
		Timestamp: g.asOf,
	}
}

func (g *fakeGateway) GetOrderBook(_ context.Context, marketID string) (domain.OrderbookSnapshot, error) {
	book, ok := g.books[marketID]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return book, nil
}

func (g *fakeGateway) GetPrice(_ context.Context, marketID string) (domain.PriceQuote, error) {
	p, ok := g.prices[marketID]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return domain.PriceQuote{MarketID: marketID, Price: p, Timestamp: g.asOf}, nil
}

func (g *fakeGateway) GetVolume(_ context.Context, marketID string) (float64, error) {
	if _, ok := g.books[marketID]; !ok {
		return 0, domain.ErrNotFound
	}
	return g.prices[marketID] * 1e6, nil
}

// fakePriceCache is an in-memory domain.PriceCache.
type fakePriceCache struct {
	prices map[string]float64
	asOf   time.Time
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{prices: map[string]float64{}, asOf: time.Now().UTC()}
}

func (c *fakePriceCache) SetPrice(_ context.Context, marketID string, price float64, ts time.Time) error {
	c.prices[marketID] = price
	c.asOf = ts
	return nil
}

func (c *fakePriceCache) GetPrice(_ context.Context, marketID string) (float64, time.Time, error) {
	p, ok := c.prices[marketID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, c.asOf, nil
}

func (c *fakePriceCache) GetPrices(_ context.Context, marketIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(marketIDs))
	for _, id := range marketIDs {
		if p, ok := c.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// fakeBus records published events.
type fakeBus struct {
	published map[string][][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{published: map[string][][]byte{}} }

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeResolutionFeed serves canned resolutions.
type fakeResolutionFeed struct {
	resolutions map[string]domain.Resolution
}

func (f *fakeResolutionFeed) BatchGetResolutionStatus(_ context.Context, ids []string) (map[string]domain.Resolution, error) {
	out := make(map[string]domain.Resolution, len(ids))
	for _, id := range ids {
		if r, ok := f.resolutions[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func defaultRules() domain.RuleSet {
	return domain.RuleSet{
		MaxDrawdown:            1000,
		DailyLossLimitPct:      0.05,
		ProfitTargetPct:        0.10,
		MinTradingDays:         0,
		MaxPositionSizePct:     0.25,
		MaxCategoryExposurePct: 0.50,
		MinMarketVolume:        10000,
		FundedInactivityDays:   30,
	}
}

func seedAccount(t *testing.T, store *memory.Store, id string, balance float64) domain.Account {
	t.Helper()
	now := time.Now().UTC()
	acct := domain.Account{
		ID:                id,
		UserID:            "user-" + id,
		Phase:             domain.PhaseChallenge,
		Status:            domain.AccountStatusActive,
		StartingBalance:   balance,
		CurrentBalance:    balance,
		StartOfDayBalance: balance,
		StartOfDayEquity:  balance,
		HighWaterMark:     balance,
		Rules:             defaultRules(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.Accounts().Create(context.Background(), acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return acct
}

func seedMarket(t *testing.T, store *memory.Store, id, category string, volume float64) domain.Market {
	t.Helper()
	now := time.Now().UTC()
	m := domain.Market{
		ID:        id,
		Question:  "Will it happen? (" + id + ")",
		Slug:      id,
		Category:  category,
		Volume:    volume,
		Status:    domain.MarketStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Markets().Upsert(context.Background(), m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	return m
}

func seedPosition(t *testing.T, store *memory.Store, accountID, marketID string, dir domain.Direction, shares, entry float64) domain.Position {
	t.Helper()
	now := time.Now().UTC()
	pos := domain.Position{
		ID:         "pos-" + accountID + "-" + marketID + "-" + string(dir),
		AccountID:  accountID,
		MarketID:   marketID,
		Direction:  dir,
		Shares:     shares,
		CostBasis:  shares * entry,
		EntryPrice: entry,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   now,
	}
	if err := store.Positions().Create(context.Background(), pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	return pos
}

// testRig wires a full engine over the in-memory store.
type testRig struct {
	store    *memory.Store
	gateway  *fakeGateway
	prices   *fakePriceCache
	bus      *fakeBus
	exposure *ExposureCache
	gate     *RiskGate
	executor *Executor
	valuer   *Valuer
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	logger := testLogger()
	store := memory.NewStore()
	gateway := newFakeGateway()
	prices := newFakePriceCache()
	bus := newFakeBus()
	exposure := NewExposureCache(store.Positions(), store.Markets())
	gate := NewRiskGate(store.Positions(), exposure, logger)
	executor := NewExecutor(store, gateway, gate, exposure, bus, time.Minute, logger)
	valuer := NewValuer(store, prices, logger)
	return &testRig{
		store:    store,
		gateway:  gateway,
		prices:   prices,
		bus:      bus,
		exposure: exposure,
		gate:     gate,
		executor: executor,
		valuer:   valuer,
	}
}

func wantTradeError(t *testing.T, err error, code domain.TradeErrorCode) {
	t.Helper()
	te, ok := domain.AsTradeError(err)
	if !ok {
		t.Fatalf("want TradeError %s, got %v", code, err)
	}
	if te.Code != code {
		t.Fatalf("want code %s, got %s (%s)", code, te.Code, te.Message)
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-6
}
