package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyprop/polyprop/internal/domain"
)

// MonitorReport summarizes one monitoring sweep.
type MonitorReport struct {
	Evaluated   int
	HardBreach  int
	SoftBreach  int
	Recovered   int
	Passed      int
	InactiveOut int
	Errors      int
}

// RiskMonitor evaluates live accounts against their rules and drives the
// status state machine: hard breaches fail immediately, soft breaches park
// the account in pending_failure until the equity recovers or the day rolls
// over, profit targets advance the account to the next phase.
type RiskMonitor struct {
	store  domain.Store
	valuer *Valuer
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

func NewRiskMonitor(store domain.Store, valuer *Valuer, bus domain.SignalBus, logger *slog.Logger) *RiskMonitor {
	return &RiskMonitor{
		store:  store,
		valuer: valuer,
		bus:    bus,
		logger: logger.With(slog.String("component", "risk_monitor")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep evaluates every live account. One bad account never stops the sweep;
// its error is counted and logged.
func (m *RiskMonitor) Sweep(ctx context.Context) (MonitorReport, error) {
	accounts, err := m.store.Accounts().ListByStatus(ctx,
		domain.AccountStatusActive, domain.AccountStatusPendingFailure)
	if err != nil {
		return MonitorReport{}, fmt.Errorf("monitor: list accounts: %w", err)
	}

	var report MonitorReport
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := m.Evaluate(ctx, acct.ID)
		if err != nil {
			report.Errors++
			m.logger.ErrorContext(ctx, "monitor: evaluate account",
				slog.String("account_id", acct.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Evaluated++
		switch outcome {
		case outcomeHardBreach:
			report.HardBreach++
		case outcomeSoftBreach:
			report.SoftBreach++
		case outcomeRecovered:
			report.Recovered++
		case outcomePassed:
			report.Passed++
		case outcomeInactive:
			report.InactiveOut++
		}
	}

	m.logger.InfoContext(ctx, "monitor: sweep complete",
		slog.Int("evaluated", report.Evaluated),
		slog.Int("hard_breach", report.HardBreach),
		slog.Int("soft_breach", report.SoftBreach),
		slog.Int("recovered", report.Recovered),
		slog.Int("passed", report.Passed),
		slog.Int("inactive_out", report.InactiveOut),
		slog.Int("errors", report.Errors),
	)
	return report, nil
}

type evalOutcome int

const (
	outcomeNone evalOutcome = iota
	outcomeHardBreach
	outcomeSoftBreach
	outcomeRecovered
	outcomePassed
	outcomeInactive
)

// Evaluate runs the rule checks for one account. Checks run in severity
// order: a hard breach wins over a simultaneous pass.
func (m *RiskMonitor) Evaluate(ctx context.Context, accountID string) (evalOutcome, error) {
	acct, err := m.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return outcomeNone, fmt.Errorf("monitor: get account: %w", err)
	}
	if acct.Status.Terminal() {
		return outcomeNone, nil
	}

	equity, err := m.valuer.Equity(ctx, acct)
	if err != nil {
		return outcomeNone, err
	}

	outcome := m.classify(acct, equity)
	if outcome == outcomeNone {
		return outcomeNone, nil
	}

	err = m.store.WithTx(ctx, func(tx domain.Store) error {
		locked, err := tx.Accounts().GetForUpdate(ctx, accountID)
		if err != nil {
			return fmt.Errorf("monitor: lock account: %w", err)
		}
		if locked.Status.Terminal() {
			outcome = outcomeNone
			return nil
		}
		// Re-classify against the locked row; a concurrent trade may have
		// moved the cash component.
		equity = equity - acct.CurrentBalance + locked.CurrentBalance
		if outcome = m.classify(locked, equity); outcome == outcomeNone {
			return nil
		}
		return m.apply(ctx, tx, &locked, equity, outcome)
	})
	if err != nil {
		return outcomeNone, err
	}
	return outcome, nil
}

func (m *RiskMonitor) classify(acct domain.Account, equity float64) evalOutcome {
	// Drawdown is measured from the high-water mark against the day's
	// ratcheted allowance, not from the static floor alone: an intraday peak
	// that is given back can fail the account even while cash sits above
	// startingBalance - maxDrawdown.
	if acct.HighWaterMark-equity > acct.MaxDrawdownAllowance() {
		return outcomeHardBreach
	}

	if acct.Phase == domain.PhaseFunded && acct.Rules.FundedInactivityDays > 0 {
		last := acct.CreatedAt
		if acct.LastActivityAt != nil {
			last = *acct.LastActivityAt
		}
		if m.now().Sub(last) > time.Duration(acct.Rules.FundedInactivityDays)*24*time.Hour {
			return outcomeInactive
		}
	}

	// The daily loss window is anchored on the start-of-day cash balance on
	// both sides; positions carried across the boundary do not shift it.
	dailyLoss := acct.StartOfDayBalance - equity
	if limit := acct.DailyLossLimit(); limit > 0 {
		if dailyLoss > limit && acct.Status == domain.AccountStatusActive {
			return outcomeSoftBreach
		}
		if dailyLoss <= limit && acct.Status == domain.AccountStatusPendingFailure {
			return outcomeRecovered
		}
	}

	if acct.Phase != domain.PhaseFunded &&
		acct.Status == domain.AccountStatusActive &&
		equity >= acct.ProfitTarget() &&
		acct.ActiveTradingDays >= acct.Rules.MinTradingDays {
		return outcomePassed
	}
	return outcomeNone
}

func (m *RiskMonitor) apply(ctx context.Context, tx domain.Store, acct *domain.Account, equity float64, outcome evalOutcome) error {
	now := m.now()
	event := map[string]any{
		"account_id": acct.ID,
		"user_id":    acct.UserID,
		"phase":      string(acct.Phase),
		"equity":     equity,
		"timestamp":  now.Format(time.RFC3339Nano),
	}

	switch outcome {
	case outcomeHardBreach:
		acct.Status = domain.AccountStatusFailed
		event["event"] = "account_failed"
		event["reason"] = "max_drawdown_breach"
		event["high_water_mark"] = acct.HighWaterMark
		event["allowance"] = acct.MaxDrawdownAllowance()
	case outcomeInactive:
		acct.Status = domain.AccountStatusFailed
		event["event"] = "account_failed"
		event["reason"] = "funded_inactivity"
	case outcomeSoftBreach:
		acct.Status = domain.AccountStatusPendingFailure
		t := now
		acct.PendingFailureAt = &t
		event["event"] = "account_soft_breach"
		event["daily_loss_limit"] = acct.DailyLossLimit()
	case outcomeRecovered:
		acct.Status = domain.AccountStatusActive
		acct.PendingFailureAt = nil
		event["event"] = "account_recovered"
	case outcomePassed:
		acct.Status = domain.AccountStatusPassed
		event["event"] = "account_passed"
		event["target"] = acct.ProfitTarget()
	}

	if err := tx.Accounts().Update(ctx, *acct); err != nil {
		return fmt.Errorf("monitor: update account: %w", err)
	}
	if err := tx.Audit().Log(ctx, event["event"].(string), event); err != nil {
		return fmt.Errorf("monitor: audit log: %w", err)
	}

	if outcome == outcomePassed {
		if err := m.advancePhase(ctx, tx, *acct); err != nil {
			return err
		}
	}

	publishEvent(ctx, m.bus, m.logger, "accounts", event)
	return nil
}

// advancePhase opens the next-phase account for the user with fresh balances
// under the same rule set. The passed account stays behind as the record of
// the completed phase.
func (m *RiskMonitor) advancePhase(ctx context.Context, tx domain.Store, passed domain.Account) error {
	var next domain.Phase
	switch passed.Phase {
	case domain.PhaseChallenge:
		next = domain.PhaseVerification
	case domain.PhaseVerification:
		next = domain.PhaseFunded
	default:
		return nil
	}

	now := m.now()
	acct := domain.Account{
		ID:                uuid.New().String(),
		UserID:            passed.UserID,
		Phase:             next,
		Status:            domain.AccountStatusActive,
		StartingBalance:   passed.StartingBalance,
		CurrentBalance:    passed.StartingBalance,
		StartOfDayBalance: passed.StartingBalance,
		StartOfDayEquity:  passed.StartingBalance,
		HighWaterMark:     passed.StartingBalance,
		Rules:             passed.Rules,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.Accounts().Create(ctx, acct); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Another instance already advanced this user; nothing to do.
			return nil
		}
		return fmt.Errorf("monitor: create next-phase account: %w", err)
	}

	m.logger.InfoContext(ctx, "monitor: phase advanced",
		slog.String("user_id", passed.UserID),
		slog.String("from_account", passed.ID),
		slog.String("to_account", acct.ID),
		slog.String("phase", string(next)),
	)
	return nil
}
