package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polyprop/polyprop/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trade rows are
// append-only; there is no update path.
type TradeStore struct {
	db querier
}

const tradeSelectCols = `id, account_id, position_id, market_id, type, direction,
	fill_price, dollar_amount, shares, realized_pnl, closure_reason, executed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var tradeType, direction string

		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.PositionID, &t.MarketID, &tradeType, &direction,
			&t.FillPrice, &t.DollarAmount, &t.Shares, &t.RealizedPnL, &t.ClosureReason,
			&t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.Type = domain.TradeType(tradeType)
		t.Direction = domain.Direction(direction)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends a new trade audit record.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, account_id, position_id, market_id, type, direction,
			fill_price, dollar_amount, shares, realized_pnl, closure_reason,
			executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12
		)`

	_, err := s.db.Exec(ctx, query,
		t.ID, t.AccountID, t.PositionID, t.MarketID, string(t.Type), string(t.Direction),
		t.FillPrice, t.DollarAmount, t.Shares, t.RealizedPnL, t.ClosureReason,
		t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByAccount returns trades for an account, newest first.
func (s *TradeStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE account_id = $1`
	args := []any{accountID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

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
		return nil, fmt.Errorf("postgres: list trades for account %s: %w", accountID, err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

// SumRealizedPnL returns the total realized PnL over all SELL trades for an
// account, the reconciliation counterpart to the live balance.
func (s *TradeStore) SumRealizedPnL(ctx context.Context, accountID string) (float64, error) {
	var sum float64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM trades
		 WHERE account_id = $1 AND type = 'SELL'`, accountID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum realized pnl for account %s: %w", accountID, err)
	}
	return sum, nil
}

// ListBefore returns all trades executed strictly before the cutoff, used by
// the cold-storage archiver.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE executed_at < $1 ORDER BY executed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
