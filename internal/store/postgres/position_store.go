package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/polyprop/polyprop/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db querier
}

const positionSelectCols = `id, account_id, market_id, direction, shares,
	cost_basis, entry_price, status, closure_reason, realized_pnl,
	opened_at, closed_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status string

	err := row.Scan(
		&p.ID, &p.AccountID, &p.MarketID, &direction, &p.Shares,
		&p.CostBasis, &p.EntryPrice, &status, &p.ClosureReason, &p.RealizedPnL,
		&p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, account_id, market_id, direction, shares,
			cost_basis, entry_price, status, closure_reason, realized_pnl,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, NOW()
		)`

	_, err := s.db.Exec(ctx, query,
		p.ID, p.AccountID, p.MarketID, string(p.Direction), p.Shares,
		p.CostBasis, p.EntryPrice, string(p.Status), p.ClosureReason, p.RealizedPnL,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			shares         = $2,
			cost_basis     = $3,
			entry_price    = $4,
			status         = $5,
			closure_reason = $6,
			realized_pnl   = $7,
			closed_at      = $8,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		p.ID, p.Shares, p.CostBasis, p.EntryPrice,
		string(p.Status), p.ClosureReason, p.RealizedPnL, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

const openPositionWhere = ` FROM positions
	 WHERE account_id = $1 AND market_id = $2 AND direction = $3 AND status = 'OPEN'`

// GetOpen returns the single OPEN position for (account, market, direction).
func (s *PositionStore) GetOpen(ctx context.Context, accountID, marketID string, dir domain.Direction) (domain.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+openPositionWhere, accountID, marketID, string(dir))

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position: %w", err)
	}
	return p, nil
}

// GetOpenForUpdate locks the open position row for the enclosing transaction.
func (s *PositionStore) GetOpenForUpdate(ctx context.Context, accountID, marketID string, dir domain.Direction) (domain.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+openPositionWhere+` FOR UPDATE`,
		accountID, marketID, string(dir))

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: lock open position: %w", err)
	}
	return p, nil
}

// ListOpenByAccount returns all open positions for the given account.
func (s *PositionStore) ListOpenByAccount(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account_id = $1 AND status = 'OPEN'
		 ORDER BY opened_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	return scanPositionRows(rows)
}

// ListOpenByMarket returns all open positions across accounts for a market.
func (s *PositionStore) ListOpenByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market_id = $1 AND status = 'OPEN'
		 ORDER BY opened_at`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions by market: %w", err)
	}
	defer rows.Close()

	return scanPositionRows(rows)
}

// ListOpenMarketIDs returns the distinct market IDs with at least one open
// position, used by the settlement sweep.
func (s *PositionStore) ListOpenMarketIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT market_id FROM positions WHERE status = 'OPEN'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open market ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan market id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListHistory returns positions for an account with pagination and optional
// time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE account_id = $1`
	args := []any{accountID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	return scanPositionRows(rows)
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
