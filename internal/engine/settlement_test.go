package engine

import (
	"context"
	"testing"

	"github.com/polyprop/polyprop/internal/domain"
)

func newSettlement(rig *testRig, feed *fakeResolutionFeed) *SettlementEngine {
	return NewSettlementEngine(rig.store, feed, rig.exposure, rig.bus, testLogger())
}

func resolvedYes() domain.Resolution {
	outcome := "Yes"
	return domain.Resolution{IsResolved: true, WinningOutcome: &outcome}
}

func resolvedNo() domain.Resolution {
	outcome := "No"
	return domain.Resolution{IsResolved: true, WinningOutcome: &outcome}
}

func TestSettlementPaysWinningNoPosition(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)
	mkt := seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, mkt.ID, domain.DirectionNo, 200, 0.60)

	feed := &fakeResolutionFeed{resolutions: map[string]domain.Resolution{mkt.ID: resolvedNo()}}
	report, err := newSettlement(rig, feed).Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.MarketsSettled != 1 || report.PositionsClosed != 1 {
		t.Fatalf("report = %+v, want 1 market, 1 position", report)
	}

	// NO pays 1 per share when YES resolves to 0: payout 200, cost 120.
	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.CurrentBalance, 10200) {
		t.Errorf("balance = %v, want 10200", got.CurrentBalance)
	}

	history, err := rig.store.Positions().ListHistory(ctx, acct.ID, domain.ListOpts{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(history))
	}
	pos := history[0]
	if pos.Status != domain.PositionStatusClosed {
		t.Errorf("status = %s, want closed", pos.Status)
	}
	if pos.ClosureReason != domain.ClosureReasonSettlement {
		t.Errorf("closure reason = %q, want %q", pos.ClosureReason, domain.ClosureReasonSettlement)
	}
	if pos.RealizedPnL == nil || !almostEqual(*pos.RealizedPnL, 80) {
		t.Errorf("realized pnl = %v, want 80", pos.RealizedPnL)
	}
}

func TestSettlementLosingPositionPaysNothing(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)
	mkt := seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, mkt.ID, domain.DirectionNo, 200, 0.60)

	feed := &fakeResolutionFeed{resolutions: map[string]domain.Resolution{mkt.ID: resolvedYes()}}
	if _, err := newSettlement(rig, feed).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.CurrentBalance, 10000) {
		t.Errorf("balance = %v, want unchanged 10000", got.CurrentBalance)
	}
	history, _ := rig.store.Positions().ListHistory(ctx, acct.ID, domain.ListOpts{})
	if len(history) != 1 || history[0].RealizedPnL == nil || !almostEqual(*history[0].RealizedPnL, -120) {
		t.Fatalf("want one closed position with -120 realized, got %+v", history)
	}
}

func TestSettlementUsesResolutionPriceWhenPresent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)
	mkt := seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, mkt.ID, domain.DirectionYes, 100, 0.50)

	price := 1.0
	feed := &fakeResolutionFeed{resolutions: map[string]domain.Resolution{
		mkt.ID: {IsResolved: true, ResolutionPrice: &price},
	}}
	if _, err := newSettlement(rig, feed).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.CurrentBalance, 10100) {
		t.Errorf("balance = %v, want 10100", got.CurrentBalance)
	}
}

func TestSettlementSkipsAmbiguousResolution(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)
	mkt := seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, mkt.ID, domain.DirectionYes, 100, 0.50)

	// Resolved flag set but no price and no outcome: nothing to settle on.
	feed := &fakeResolutionFeed{resolutions: map[string]domain.Resolution{
		mkt.ID: {IsResolved: true},
	}}
	report, err := newSettlement(rig, feed).Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.MarketsSkipped != 1 || report.MarketsSettled != 0 {
		t.Fatalf("report = %+v, want one skip", report)
	}

	pos, err := rig.store.Positions().GetOpen(ctx, acct.ID, mkt.ID, domain.DirectionYes)
	if err != nil {
		t.Fatalf("position should remain open: %v", err)
	}
	if pos.Status != domain.PositionStatusOpen {
		t.Errorf("status = %s, want open", pos.Status)
	}
}

func TestSettlementIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)
	mkt := seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, mkt.ID, domain.DirectionYes, 100, 0.50)

	feed := &fakeResolutionFeed{resolutions: map[string]domain.Resolution{mkt.ID: resolvedYes()}}
	engine := newSettlement(rig, feed)

	if _, err := engine.Sweep(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	// The position is closed, so the market drops out of the open set; a
	// direct re-settle of the market must also be a no-op.
	if _, err := engine.SettleMarket(ctx, mkt.ID, resolvedYes()); err != nil {
		t.Fatalf("re-settle: %v", err)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.CurrentBalance, 10100) {
		t.Errorf("balance = %v, want single payout 10100", got.CurrentBalance)
	}
	trades, _ := rig.store.Trades().ListByAccount(ctx, acct.ID, domain.ListOpts{})
	if len(trades) != 1 {
		t.Errorf("settlement trades = %d, want 1", len(trades))
	}
}

func TestSettlementMarksMarketResolved(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)
	mkt := seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, mkt.ID, domain.DirectionYes, 100, 0.50)

	feed := &fakeResolutionFeed{resolutions: map[string]domain.Resolution{mkt.ID: resolvedYes()}}
	if _, err := newSettlement(rig, feed).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := rig.store.Markets().GetByID(ctx, mkt.ID)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if got.Status != domain.MarketStatusResolved {
		t.Errorf("market status = %s, want resolved", got.Status)
	}
	if got.ResolutionPrice == nil || !almostEqual(*got.ResolutionPrice, 1) {
		t.Errorf("resolution price = %v, want 1", got.ResolutionPrice)
	}

	if len(rig.bus.published["settlements"]) != 1 {
		t.Errorf("settlement events = %d, want 1", len(rig.bus.published["settlements"]))
	}
}

func TestSettlementRatchetsHighWaterMark(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)
	mkt := seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, mkt.ID, domain.DirectionYes, 1000, 0.50)

	feed := &fakeResolutionFeed{resolutions: map[string]domain.Resolution{mkt.ID: resolvedYes()}}
	if _, err := newSettlement(rig, feed).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.HighWaterMark, 11000) {
		t.Errorf("high-water mark = %v, want 11000", got.HighWaterMark)
	}
}
