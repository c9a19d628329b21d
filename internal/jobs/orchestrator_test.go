package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeed serves markets in fixed-size pages.
type fakeFeed struct {
	markets []domain.Market
	calls   int
}

func (f *fakeFeed) ListMarkets(_ context.Context, limit, offset int) ([]domain.Market, error) {
	f.calls++
	if offset >= len(f.markets) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.markets) {
		end = len(f.markets)
	}
	return f.markets[offset:end], nil
}

// fakeMarketCache records Set calls.
type fakeMarketCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeMarketCache) Set(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[m.ID] = true
	return nil
}

func (f *fakeMarketCache) Get(_ context.Context, _ string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeMarketCache) Invalidate(_ context.Context, _ string) error { return nil }

// fakeLocks always reports the lock as held elsewhere.
type fakeLocks struct {
	held bool
}

func (f *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

// fakeArchiver returns fixed counts.
type fakeArchiver struct {
	trades int64
	audit  int64
	err    error
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, _ time.Time) (int64, error) {
	return f.trades, f.err
}

func (f *fakeArchiver) ArchiveAuditLog(_ context.Context, _ time.Time) (int64, error) {
	return f.audit, f.err
}

func newTestOrchestrator(store domain.Store, feed MarketFeed, cache domain.MarketCache, archiver domain.Archiver, locks domain.LockManager) *Orchestrator {
	var markets domain.MarketStore
	if store != nil {
		markets = store.Markets()
	}
	return NewOrchestrator(nil, nil, nil, feed, markets, cache, archiver, locks, Config{
		MonitorInterval:      time.Minute,
		SettlementInterval:   time.Minute,
		RefreshInterval:      time.Minute,
		RefreshPageSize:      2,
		ArchiveInterval:      time.Hour,
		ArchiveRetentionDays: 90,
	}, testLogger())
}

func TestRunMarketRefreshPagesAndCaches(t *testing.T) {
	store := memory.NewStore()
	feed := &fakeFeed{markets: []domain.Market{
		{ID: "m1", Question: "q1", Status: domain.MarketStatusActive},
		{ID: "m2", Question: "q2", Status: domain.MarketStatusActive},
		{ID: "m3", Question: "q3", Status: domain.MarketStatusActive},
	}}
	cache := &fakeMarketCache{}
	o := newTestOrchestrator(store, feed, cache, nil, nil)

	count, err := o.RunMarketRefresh(context.Background())
	if err != nil {
		t.Fatalf("RunMarketRefresh: %v", err)
	}
	if count != 3 {
		t.Errorf("synced = %d, want 3", count)
	}
	// Page size 2 over 3 markets: full page then short page.
	if feed.calls != 2 {
		t.Errorf("feed calls = %d, want 2", feed.calls)
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := store.Markets().GetByID(context.Background(), id); err != nil {
			t.Errorf("market %s not upserted: %v", id, err)
		}
		if !cache.seen[id] {
			t.Errorf("market %s not cached", id)
		}
	}
}

func TestSweepSkippedWhenLockHeld(t *testing.T) {
	store := memory.NewStore()
	feed := &fakeFeed{markets: []domain.Market{
		{ID: "m1", Question: "q1", Status: domain.MarketStatusActive},
	}}
	o := newTestOrchestrator(store, feed, nil, nil, &fakeLocks{held: true})

	count, err := o.RunMarketRefresh(context.Background())
	if err != nil {
		t.Fatalf("RunMarketRefresh: %v", err)
	}
	if count != 0 {
		t.Errorf("synced = %d, want 0 when lock held", count)
	}
	if feed.calls != 0 {
		t.Errorf("feed should not be called when lock held, got %d calls", feed.calls)
	}
}

func TestRunArchiveTotals(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, &fakeArchiver{trades: 120, audit: 30}, nil)

	total, err := o.RunArchive(context.Background())
	if err != nil {
		t.Fatalf("RunArchive: %v", err)
	}
	if total != 150 {
		t.Errorf("total = %d, want 150", total)
	}
}

func TestRunArchivePropagatesErrors(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, &fakeArchiver{err: errors.New("s3 down")}, nil)

	if _, err := o.RunArchive(context.Background()); err == nil {
		t.Fatal("RunArchive should propagate archiver errors")
	}
}

func TestNextUTCMidnight(t *testing.T) {
	now := time.Date(2025, 6, 15, 23, 59, 30, 0, time.UTC)
	next := nextUTCMidnight(now)

	if next.Day() != 16 || next.Hour() != 0 {
		t.Errorf("next = %v, want first instant of June 16", next)
	}
	if !next.After(now) {
		t.Errorf("next %v should be after now %v", next, now)
	}
}
