package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
)

func newDaily(rig *testRig) *DailyBoundary {
	return NewDailyBoundary(rig.store, rig.valuer, rig.bus, testLogger())
}

func TestDailyRebasesStartOfDay(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)

	// Yesterday left the account up 400 in cash plus an open position
	// marking at 500.
	seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, "m1", domain.DirectionYes, 1000, 0.40)
	row, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	row.CurrentBalance = 10400
	if err := rig.store.Accounts().Update(ctx, row); err != nil {
		t.Fatalf("update account: %v", err)
	}
	rig.prices.prices["m1"] = 0.50

	report, err := newDaily(rig).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Rebased != 1 {
		t.Fatalf("rebased = %d, want 1", report.Rebased)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.StartOfDayBalance, 10400) {
		t.Errorf("start-of-day balance = %v, want 10400", got.StartOfDayBalance)
	}
	if !almostEqual(got.StartOfDayEquity, 10900) {
		t.Errorf("start-of-day equity = %v, want 10900", got.StartOfDayEquity)
	}
	if got.LastDailyResetAt == nil {
		t.Error("reset time not stamped")
	}
}

func TestDailyRunIsIdempotentWithinADay(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)
	daily := newDaily(rig)

	if _, err := daily.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := rig.store.Accounts().GetByID(ctx, acct.ID)

	// Trade intraday, then re-run: the baseline must not chase the balance.
	first.CurrentBalance = 9000
	if err := rig.store.Accounts().Update(ctx, first); err != nil {
		t.Fatalf("update account: %v", err)
	}
	report, err := daily.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Rebased != 0 || report.Skipped != 1 {
		t.Fatalf("report = %+v, want skip on second run", report)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.StartOfDayBalance, first.StartOfDayBalance) {
		t.Errorf("start-of-day balance moved on re-run: %v", got.StartOfDayBalance)
	}
}

func TestDailyFinalizesStalePendingFailure(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)

	yesterday := time.Now().UTC().Add(-26 * time.Hour)
	row, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	row.Status = domain.AccountStatusPendingFailure
	row.PendingFailureAt = &yesterday
	if err := rig.store.Accounts().Update(ctx, row); err != nil {
		t.Fatalf("update account: %v", err)
	}

	report, err := newDaily(rig).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Finalized != 1 {
		t.Fatalf("finalized = %d, want 1", report.Finalized)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if got.Status != domain.AccountStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if len(rig.bus.published["accounts"]) != 1 {
		t.Errorf("account events = %d, want 1", len(rig.bus.published["accounts"]))
	}
}

func TestDailyKeepsSameDayPendingFailure(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)

	// Breached moments ago, today: still recoverable, so the boundary only
	// rebases it.
	now := time.Now().UTC()
	if now.Hour() == 0 && now.Minute() < 5 {
		t.Skip("too close to the UTC day rollover for a same-day assertion")
	}
	justNow := now.Add(-time.Minute)
	row, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	row.Status = domain.AccountStatusPendingFailure
	row.PendingFailureAt = &justNow
	if err := rig.store.Accounts().Update(ctx, row); err != nil {
		t.Fatalf("update account: %v", err)
	}

	report, err := newDaily(rig).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Finalized != 0 {
		t.Fatalf("finalized = %d, want 0 for a same-day breach", report.Finalized)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if got.Status != domain.AccountStatusPendingFailure {
		t.Errorf("status = %s, want still pending_failure", got.Status)
	}
}

func TestDailyBaselinesAtCostWhenUnpriced(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)

	// Open position with no cached price: the baseline marks it at entry,
	// so start-of-day equity is cost basis rather than cash alone.
	seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, "m1", domain.DirectionYes, 1000, 0.40)
	row, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	row.CurrentBalance = 9600
	if err := rig.store.Accounts().Update(ctx, row); err != nil {
		t.Fatalf("update account: %v", err)
	}

	if _, err := newDaily(rig).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.StartOfDayBalance, 9600) {
		t.Errorf("start-of-day balance = %v, want 9600", got.StartOfDayBalance)
	}
	if !almostEqual(got.StartOfDayEquity, 10000) {
		t.Errorf("start-of-day equity = %v, want cost-marked 10000", got.StartOfDayEquity)
	}
}

// brokenPositions fails every open-position read while leaving the rest of
// the store intact.
type brokenPositions struct {
	domain.PositionStore
}

func (brokenPositions) ListOpenByAccount(context.Context, string) ([]domain.Position, error) {
	return nil, errors.New("positions unavailable")
}

type brokenPositionsStore struct {
	domain.Store
}

func (s brokenPositionsStore) Positions() domain.PositionStore {
	return brokenPositions{s.Store.Positions()}
}

func TestDailyBaselinesOnCashWhenValuationFails(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	acct := seedAccount(t, rig.store, "a1", 10000)

	seedMarket(t, rig.store, "m1", "politics", 50000)
	seedPosition(t, rig.store, acct.ID, "m1", domain.DirectionYes, 1000, 0.40)
	row, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	row.CurrentBalance = 9600
	if err := rig.store.Accounts().Update(ctx, row); err != nil {
		t.Fatalf("update account: %v", err)
	}

	// Valuation cannot read the position book; the rebase still lands, on
	// cash alone.
	valuer := NewValuer(brokenPositionsStore{rig.store}, rig.prices, testLogger())
	daily := NewDailyBoundary(rig.store, valuer, rig.bus, testLogger())

	report, err := daily.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Rebased != 1 {
		t.Fatalf("rebased = %d, want 1", report.Rebased)
	}

	got, _ := rig.store.Accounts().GetByID(ctx, acct.ID)
	if !almostEqual(got.StartOfDayBalance, 9600) {
		t.Errorf("start-of-day balance = %v, want 9600", got.StartOfDayBalance)
	}
	if !almostEqual(got.StartOfDayEquity, 9600) {
		t.Errorf("start-of-day equity = %v, want cash-only 9600", got.StartOfDayEquity)
	}
}
