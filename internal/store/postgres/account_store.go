package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/polyprop/polyprop/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	db querier
}

const accountSelectCols = `id, user_id, phase, status,
	starting_balance, current_balance, start_of_day_balance, start_of_day_equity,
	high_water_mark,
	max_drawdown, daily_loss_limit_pct, profit_target_pct, min_trading_days,
	max_position_size_pct, max_category_exposure_pct, min_market_volume,
	funded_inactivity_days,
	pending_failure_at, last_daily_reset_at, active_trading_days, last_activity_at,
	created_at, updated_at`

func scanAccountRow(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	var phase, status string

	err := row.Scan(
		&a.ID, &a.UserID, &phase, &status,
		&a.StartingBalance, &a.CurrentBalance, &a.StartOfDayBalance, &a.StartOfDayEquity,
		&a.HighWaterMark,
		&a.Rules.MaxDrawdown, &a.Rules.DailyLossLimitPct, &a.Rules.ProfitTargetPct, &a.Rules.MinTradingDays,
		&a.Rules.MaxPositionSizePct, &a.Rules.MaxCategoryExposurePct, &a.Rules.MinMarketVolume,
		&a.Rules.FundedInactivityDays,
		&a.PendingFailureAt, &a.LastDailyResetAt, &a.ActiveTradingDays, &a.LastActivityAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, err
	}
	a.Phase = domain.Phase(phase)
	a.Status = domain.AccountStatus(status)
	return a, nil
}

// Create inserts a new account. The partial unique index on (user_id) for
// non-terminal statuses enforces the single-active-account gate; a violation
// surfaces as domain.ErrAlreadyExists.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	const query = `
		INSERT INTO accounts (
			id, user_id, phase, status,
			starting_balance, current_balance, start_of_day_balance, start_of_day_equity,
			high_water_mark,
			max_drawdown, daily_loss_limit_pct, profit_target_pct, min_trading_days,
			max_position_size_pct, max_category_exposure_pct, min_market_volume,
			funded_inactivity_days,
			pending_failure_at, last_daily_reset_at, active_trading_days, last_activity_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9,
			$10, $11, $12, $13,
			$14, $15, $16,
			$17,
			$18, $19, $20, $21,
			NOW(), NOW()
		)`

	_, err := s.db.Exec(ctx, query,
		a.ID, a.UserID, string(a.Phase), string(a.Status),
		a.StartingBalance, a.CurrentBalance, a.StartOfDayBalance, a.StartOfDayEquity,
		a.HighWaterMark,
		a.Rules.MaxDrawdown, a.Rules.DailyLossLimitPct, a.Rules.ProfitTargetPct, a.Rules.MinTradingDays,
		a.Rules.MaxPositionSizePct, a.Rules.MaxCategoryExposurePct, a.Rules.MinMarketVolume,
		a.Rules.FundedInactivityDays,
		a.PendingFailureAt, a.LastDailyResetAt, a.ActiveTradingDays, a.LastActivityAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves a single account by its ID.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE id = $1`, id)

	a, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// GetForUpdate locks the account row for the enclosing transaction.
func (s *AccountStore) GetForUpdate(ctx context.Context, id string) (domain.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE id = $1 FOR UPDATE`, id)

	a, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: lock account %s: %w", id, err)
	}
	return a, nil
}

// GetActiveByUser returns the user's single non-terminal account.
func (s *AccountStore) GetActiveByUser(ctx context.Context, userID string) (domain.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts
		 WHERE user_id = $1 AND status IN ('active', 'pending_failure')`, userID)

	a, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get active account for user %s: %w", userID, err)
	}
	return a, nil
}

// ListByStatus returns all accounts in any of the given statuses.
func (s *AccountStore) ListByStatus(ctx context.Context, statuses ...domain.AccountStatus) ([]domain.Account, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	vals := make([]string, 0, len(statuses))
	for _, st := range statuses {
		vals = append(vals, string(st))
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+accountSelectCols+` FROM accounts
		 WHERE status = ANY($1) ORDER BY created_at`, vals)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts by status: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Update replaces all mutable fields of an account.
func (s *AccountStore) Update(ctx context.Context, a domain.Account) error {
	const query = `
		UPDATE accounts SET
			phase                = $2,
			status               = $3,
			current_balance      = $4,
			start_of_day_balance = $5,
			start_of_day_equity  = $6,
			high_water_mark      = $7,
			pending_failure_at   = $8,
			last_daily_reset_at  = $9,
			active_trading_days  = $10,
			last_activity_at     = $11,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		a.ID, string(a.Phase), string(a.Status),
		a.CurrentBalance, a.StartOfDayBalance, a.StartOfDayEquity, a.HighWaterMark,
		a.PendingFailureAt, a.LastDailyResetAt, a.ActiveTradingDays, a.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update account %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
