package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/polyprop/polyprop/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	db querier
}

const marketSelectCols = `id, question, slug, category, volume, status,
	resolution_price, winning_outcome, closed_at, created_at, updated_at`

const marketUpsertQuery = `
	INSERT INTO markets (
		id, question, slug, category, volume, status,
		resolution_price, winning_outcome, closed_at, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, NOW(), NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		question         = EXCLUDED.question,
		slug             = EXCLUDED.slug,
		category         = EXCLUDED.category,
		volume           = EXCLUDED.volume,
		status           = EXCLUDED.status,
		resolution_price = EXCLUDED.resolution_price,
		winning_outcome  = EXCLUDED.winning_outcome,
		closed_at        = EXCLUDED.closed_at,
		updated_at       = NOW()`

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string

	err := row.Scan(
		&m.ID, &m.Question, &m.Slug, &m.Category, &m.Volume, &status,
		&m.ResolutionPrice, &m.WinningOutcome, &m.ClosedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// Upsert inserts or updates a market row.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	_, err := s.db.Exec(ctx, marketUpsertQuery,
		m.ID, m.Question, m.Slug, m.Category, m.Volume, string(m.Status),
		m.ResolutionPrice, m.WinningOutcome, m.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch upserts a batch of markets in one transaction-free pass; the
// caller decides whether to wrap it in WithTx.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	for _, m := range markets {
		if err := s.Upsert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a single market by its ID.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)

	m, err := scanMarketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetByIDs returns the markets present for the given IDs, keyed by ID.
// Missing IDs are simply absent from the map.
func (s *MarketStore) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Market, error) {
	if len(ids) == 0 {
		return map[string]domain.Market{}, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get markets by ids: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Market, len(ids))
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		result[m.ID] = m
	}
	return result, rows.Err()
}

// ListActive returns active markets with pagination.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE status = 'active' ORDER BY volume DESC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
