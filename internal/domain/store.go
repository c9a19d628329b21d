package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists evaluation accounts.
type AccountStore interface {
	Create(ctx context.Context, a Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	// GetForUpdate locks the account row for the remainder of the enclosing
	// transaction. Only valid inside Store.WithTx.
	GetForUpdate(ctx context.Context, id string) (Account, error)
	GetActiveByUser(ctx context.Context, userID string) (Account, error)
	ListByStatus(ctx context.Context, statuses ...AccountStatus) ([]Account, error)
	Update(ctx context.Context, a Account) error
}

// PositionStore persists directional stakes.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpen(ctx context.Context, accountID, marketID string, dir Direction) (Position, error)
	// GetOpenForUpdate locks the open position row for the remainder of the
	// enclosing transaction. Only valid inside Store.WithTx.
	GetOpenForUpdate(ctx context.Context, accountID, marketID string, dir Direction) (Position, error)
	ListOpenByAccount(ctx context.Context, accountID string) ([]Position, error)
	ListOpenByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListOpenMarketIDs(ctx context.Context) ([]string, error)
	ListHistory(ctx context.Context, accountID string, opts ListOpts) ([]Position, error)
}

// TradeStore persists the immutable trade audit log.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Trade, error)
	SumRealizedPnL(ctx context.Context, accountID string) (float64, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// MarketStore persists synced market metadata.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// Store bundles all persistence and exposes transactional composition. WithTx
// runs fn against a Store view whose operations share one transaction; the
// transaction commits when fn returns nil and rolls back otherwise. Row locks
// taken via the ForUpdate methods are held until the transaction ends, which
// is what serializes concurrent mutations of the same account or position.
type Store interface {
	Accounts() AccountStore
	Positions() PositionStore
	Trades() TradeStore
	Markets() MarketStore
	Audit() AuditStore
	WithTx(ctx context.Context, fn func(Store) error) error
}
