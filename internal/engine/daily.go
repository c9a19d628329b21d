package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
)

// DailyReport summarizes one daily boundary run.
type DailyReport struct {
	Finalized int
	Rebased   int
	Skipped   int
	Errors    int
}

// DailyBoundary runs at the UTC day rollover. Accounts that ended the
// previous day in pending_failure are finalized as failed; everything still
// live gets fresh start-of-day baselines. Safe to run more than once per
// day: already rebased accounts are skipped.
type DailyBoundary struct {
	store  domain.Store
	valuer *Valuer
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

func NewDailyBoundary(store domain.Store, valuer *Valuer, bus domain.SignalBus, logger *slog.Logger) *DailyBoundary {
	return &DailyBoundary{
		store:  store,
		valuer: valuer,
		bus:    bus,
		logger: logger.With(slog.String("component", "daily_boundary")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run processes every live account with per-account error isolation.
func (d *DailyBoundary) Run(ctx context.Context) (DailyReport, error) {
	accounts, err := d.store.Accounts().ListByStatus(ctx,
		domain.AccountStatusActive, domain.AccountStatusPendingFailure)
	if err != nil {
		return DailyReport{}, fmt.Errorf("daily: list accounts: %w", err)
	}

	var report DailyReport
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := d.processAccount(ctx, acct.ID)
		if err != nil {
			report.Errors++
			d.logger.ErrorContext(ctx, "daily: process account",
				slog.String("account_id", acct.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch outcome {
		case dailyFinalized:
			report.Finalized++
		case dailyRebased:
			report.Rebased++
		default:
			report.Skipped++
		}
	}

	d.logger.InfoContext(ctx, "daily: boundary complete",
		slog.Int("finalized", report.Finalized),
		slog.Int("rebased", report.Rebased),
		slog.Int("skipped", report.Skipped),
		slog.Int("errors", report.Errors),
	)
	return report, nil
}

type dailyOutcome int

const (
	dailySkipped dailyOutcome = iota
	dailyFinalized
	dailyRebased
)

func (d *DailyBoundary) processAccount(ctx context.Context, accountID string) (dailyOutcome, error) {
	acct, err := d.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return dailySkipped, fmt.Errorf("daily: get account: %w", err)
	}

	now := d.now()
	dayStart := startOfUTCDay(now)

	// Equity is valued before taking the lock; worst case the baseline lags
	// a concurrent trade by one snapshot. Missing prices never land here
	// (the valuer marks those positions at entry), so this fallback only
	// covers a failed position read, baselining on cash alone.
	equity, err := d.valuer.Equity(ctx, acct)
	if err != nil {
		d.logger.WarnContext(ctx, "daily: valuation failed, baselining on cash",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		equity = acct.CurrentBalance
	}

	outcome := dailySkipped
	err = d.store.WithTx(ctx, func(tx domain.Store) error {
		locked, err := tx.Accounts().GetForUpdate(ctx, accountID)
		if err != nil {
			return fmt.Errorf("daily: lock account: %w", err)
		}
		if locked.Status.Terminal() {
			return nil
		}

		// A soft breach left standing at the end of its day becomes final.
		if locked.Status == domain.AccountStatusPendingFailure &&
			locked.PendingFailureAt != nil &&
			locked.PendingFailureAt.Before(dayStart) {
			locked.Status = domain.AccountStatusFailed
			if err := tx.Accounts().Update(ctx, locked); err != nil {
				return fmt.Errorf("daily: finalize failure: %w", err)
			}
			if err := tx.Audit().Log(ctx, "account_failed", map[string]any{
				"account_id": locked.ID,
				"user_id":    locked.UserID,
				"reason":     "daily_loss_limit_unrecovered",
			}); err != nil {
				return fmt.Errorf("daily: audit log: %w", err)
			}
			publishEvent(ctx, d.bus, d.logger, "accounts", map[string]any{
				"event":      "account_failed",
				"account_id": locked.ID,
				"user_id":    locked.UserID,
				"reason":     "daily_loss_limit_unrecovered",
				"timestamp":  now.Format(time.RFC3339Nano),
			})
			outcome = dailyFinalized
			return nil
		}

		if locked.LastDailyResetAt != nil && !locked.LastDailyResetAt.Before(dayStart) {
			return nil // already rebased today
		}

		equity = equity - acct.CurrentBalance + locked.CurrentBalance
		locked.StartOfDayBalance = locked.CurrentBalance
		locked.StartOfDayEquity = equity
		t := now
		locked.LastDailyResetAt = &t
		if err := tx.Accounts().Update(ctx, locked); err != nil {
			return fmt.Errorf("daily: rebase account: %w", err)
		}
		outcome = dailyRebased
		return nil
	})
	if err != nil {
		return dailySkipped, err
	}
	return outcome, nil
}

func startOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
