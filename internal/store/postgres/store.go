package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyprop/polyprop/internal/domain"
)

// querier is the subset of pgx operations the stores need. Both *pgxpool.Pool
// and pgx.Tx satisfy it, which is what lets one store type serve plain calls
// and transactional calls alike.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store over a pgx pool. A Store built from a pool
// executes each call on its own connection; WithTx derives a Store bound to a
// single transaction and passes it to the callback.
type Store struct {
	db   querier
	pool *pgxpool.Pool // nil when this Store is a transaction view
}

// NewStore creates the root Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

func (s *Store) Accounts() domain.AccountStore   { return &AccountStore{db: s.db} }
func (s *Store) Positions() domain.PositionStore { return &PositionStore{db: s.db} }
func (s *Store) Trades() domain.TradeStore       { return &TradeStore{db: s.db} }
func (s *Store) Markets() domain.MarketStore     { return &MarketStore{db: s.db} }
func (s *Store) Audit() domain.AuditStore        { return &AuditStore{db: s.db} }

// WithTx runs fn against a transactional view of the store. fn returning nil
// commits; any error rolls back. Calls nested inside an existing transaction
// reuse it rather than opening a second one.
func (s *Store) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	txStore := &Store{db: tx}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("postgres: rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Store = (*Store)(nil)
