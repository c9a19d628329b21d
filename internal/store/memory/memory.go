// Package memory implements the domain store interfaces with in-memory maps.
// Used for testing and development; not suitable for production. WithTx
// serializes on a single mutex and restores a snapshot on error, which gives
// tests the same all-or-nothing semantics as the PostgreSQL store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
)

type data struct {
	accounts  map[string]domain.Account
	positions map[string]domain.Position
	trades    []domain.Trade
	markets   map[string]domain.Market
	audit     []domain.AuditEntry
	auditSeq  int64
}

func (d *data) clone() *data {
	out := &data{
		accounts:  make(map[string]domain.Account, len(d.accounts)),
		positions: make(map[string]domain.Position, len(d.positions)),
		trades:    make([]domain.Trade, len(d.trades)),
		markets:   make(map[string]domain.Market, len(d.markets)),
		audit:     make([]domain.AuditEntry, len(d.audit)),
		auditSeq:  d.auditSeq,
	}
	for k, v := range d.accounts {
		out.accounts[k] = v
	}
	for k, v := range d.positions {
		out.positions[k] = v
	}
	copy(out.trades, d.trades)
	for k, v := range d.markets {
		out.markets[k] = v
	}
	copy(out.audit, d.audit)
	return out
}

// Store implements domain.Store with in-memory maps.
type Store struct {
	mu   *sync.Mutex
	data *data
	inTx bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		mu: &sync.Mutex{},
		data: &data{
			accounts:  make(map[string]domain.Account),
			positions: make(map[string]domain.Position),
			markets:   make(map[string]domain.Market),
		},
	}
}

// lock acquires the store mutex unless the caller already holds it through an
// open transaction. It returns the matching release func.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Accounts() domain.AccountStore   { return accountStore{s} }
func (s *Store) Positions() domain.PositionStore { return positionStore{s} }
func (s *Store) Trades() domain.TradeStore       { return tradeStore{s} }
func (s *Store) Markets() domain.MarketStore     { return marketStore{s} }
func (s *Store) Audit() domain.AuditStore        { return auditStore{s} }

// WithTx serializes fn under the store mutex. On error the pre-transaction
// snapshot is restored, so partial writes never become visible.
func (s *Store) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.data.clone()
	txView := &Store{mu: s.mu, data: s.data, inTx: true}
	if err := fn(txView); err != nil {
		*s.data = *backup
		return err
	}
	return nil
}

// --- accounts ---

type accountStore struct{ s *Store }

func (a accountStore) Create(_ context.Context, acct domain.Account) error {
	defer a.s.lock()()

	if _, ok := a.s.data.accounts[acct.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range a.s.data.accounts {
		if existing.UserID == acct.UserID && !existing.Status.Terminal() &&
			existing.Status != domain.AccountStatusPending {
			return domain.ErrAlreadyExists
		}
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	a.s.data.accounts[acct.ID] = acct
	return nil
}

func (a accountStore) GetByID(_ context.Context, id string) (domain.Account, error) {
	defer a.s.lock()()

	acct, ok := a.s.data.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return acct, nil
}

func (a accountStore) GetForUpdate(ctx context.Context, id string) (domain.Account, error) {
	// The transaction already holds the global mutex.
	return a.GetByID(ctx, id)
}

func (a accountStore) GetActiveByUser(_ context.Context, userID string) (domain.Account, error) {
	defer a.s.lock()()

	for _, acct := range a.s.data.accounts {
		if acct.UserID == userID &&
			(acct.Status == domain.AccountStatusActive || acct.Status == domain.AccountStatusPendingFailure) {
			return acct, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (a accountStore) ListByStatus(_ context.Context, statuses ...domain.AccountStatus) ([]domain.Account, error) {
	defer a.s.lock()()

	want := make(map[domain.AccountStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []domain.Account
	for _, acct := range a.s.data.accounts {
		if want[acct.Status] {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (a accountStore) Update(_ context.Context, acct domain.Account) error {
	defer a.s.lock()()

	existing, ok := a.s.data.accounts[acct.ID]
	if !ok {
		return domain.ErrNotFound
	}
	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	a.s.data.accounts[acct.ID] = acct
	return nil
}

// --- positions ---

type positionStore struct{ s *Store }

func (p positionStore) Create(_ context.Context, pos domain.Position) error {
	defer p.s.lock()()

	if _, ok := p.s.data.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if pos.Status == domain.PositionStatusOpen {
		for _, existing := range p.s.data.positions {
			if existing.Status == domain.PositionStatusOpen &&
				existing.AccountID == pos.AccountID &&
				existing.MarketID == pos.MarketID &&
				existing.Direction == pos.Direction {
				return domain.ErrAlreadyExists
			}
		}
	}
	pos.UpdatedAt = time.Now().UTC()
	p.s.data.positions[pos.ID] = pos
	return nil
}

func (p positionStore) Update(_ context.Context, pos domain.Position) error {
	defer p.s.lock()()

	if _, ok := p.s.data.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	pos.UpdatedAt = time.Now().UTC()
	p.s.data.positions[pos.ID] = pos
	return nil
}

func (p positionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	defer p.s.lock()()

	pos, ok := p.s.data.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (p positionStore) GetOpen(_ context.Context, accountID, marketID string, dir domain.Direction) (domain.Position, error) {
	defer p.s.lock()()

	for _, pos := range p.s.data.positions {
		if pos.Status == domain.PositionStatusOpen &&
			pos.AccountID == accountID && pos.MarketID == marketID && pos.Direction == dir {
			return pos, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (p positionStore) GetOpenForUpdate(ctx context.Context, accountID, marketID string, dir domain.Direction) (domain.Position, error) {
	return p.GetOpen(ctx, accountID, marketID, dir)
}

func (p positionStore) ListOpenByAccount(_ context.Context, accountID string) ([]domain.Position, error) {
	defer p.s.lock()()

	var out []domain.Position
	for _, pos := range p.s.data.positions {
		if pos.Status == domain.PositionStatusOpen && pos.AccountID == accountID {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

func (p positionStore) ListOpenByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	defer p.s.lock()()

	var out []domain.Position
	for _, pos := range p.s.data.positions {
		if pos.Status == domain.PositionStatusOpen && pos.MarketID == marketID {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (p positionStore) ListOpenMarketIDs(_ context.Context) ([]string, error) {
	defer p.s.lock()()

	seen := make(map[string]bool)
	var ids []string
	for _, pos := range p.s.data.positions {
		if pos.Status == domain.PositionStatusOpen && !seen[pos.MarketID] {
			seen[pos.MarketID] = true
			ids = append(ids, pos.MarketID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (p positionStore) ListHistory(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.Position, error) {
	defer p.s.lock()()

	var out []domain.Position
	for _, pos := range p.s.data.positions {
		if pos.AccountID != accountID {
			continue
		}
		if opts.Since != nil && pos.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && pos.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return paginate(out, opts), nil
}

// --- trades ---

type tradeStore struct{ s *Store }

func (t tradeStore) Insert(_ context.Context, trade domain.Trade) error {
	defer t.s.lock()()

	t.s.data.trades = append(t.s.data.trades, trade)
	return nil
}

func (t tradeStore) ListByAccount(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.Trade, error) {
	defer t.s.lock()()

	var out []domain.Trade
	for _, trade := range t.s.data.trades {
		if trade.AccountID != accountID {
			continue
		}
		if opts.Since != nil && trade.ExecutedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && trade.ExecutedAt.After(*opts.Until) {
			continue
		}
		out = append(out, trade)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return paginate(out, opts), nil
}

func (t tradeStore) SumRealizedPnL(_ context.Context, accountID string) (float64, error) {
	defer t.s.lock()()

	var sum float64
	for _, trade := range t.s.data.trades {
		if trade.AccountID == accountID && trade.Type == domain.TradeTypeSell && trade.RealizedPnL != nil {
			sum += *trade.RealizedPnL
		}
	}
	return sum, nil
}

func (t tradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	defer t.s.lock()()

	var out []domain.Trade
	for _, trade := range t.s.data.trades {
		if trade.ExecutedAt.Before(before) {
			out = append(out, trade)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

// --- markets ---

type marketStore struct{ s *Store }

func (m marketStore) Upsert(_ context.Context, market domain.Market) error {
	defer m.s.lock()()

	now := time.Now().UTC()
	if existing, ok := m.s.data.markets[market.ID]; ok {
		market.CreatedAt = existing.CreatedAt
	} else {
		market.CreatedAt = now
	}
	market.UpdatedAt = now
	m.s.data.markets[market.ID] = market
	return nil
}

func (m marketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	for _, mk := range markets {
		if err := m.Upsert(ctx, mk); err != nil {
			return err
		}
	}
	return nil
}

func (m marketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	defer m.s.lock()()

	market, ok := m.s.data.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return market, nil
}

func (m marketStore) GetByIDs(_ context.Context, ids []string) (map[string]domain.Market, error) {
	defer m.s.lock()()

	out := make(map[string]domain.Market, len(ids))
	for _, id := range ids {
		if market, ok := m.s.data.markets[id]; ok {
			out[id] = market
		}
	}
	return out, nil
}

func (m marketStore) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	defer m.s.lock()()

	var out []domain.Market
	for _, market := range m.s.data.markets {
		if market.Status == domain.MarketStatusActive {
			out = append(out, market)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	return paginate(out, opts), nil
}

// --- audit ---

type auditStore struct{ s *Store }

func (a auditStore) Log(_ context.Context, event string, detail map[string]any) error {
	defer a.s.lock()()

	a.s.data.auditSeq++
	a.s.data.audit = append(a.s.data.audit, domain.AuditEntry{
		ID:        a.s.data.auditSeq,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a auditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	defer a.s.lock()()

	out := make([]domain.AuditEntry, len(a.s.data.audit))
	copy(out, a.s.data.audit)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (a auditStore) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	defer a.s.lock()()

	var out []domain.AuditEntry
	for _, e := range a.s.data.audit {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface check.
var _ domain.Store = (*Store)(nil)
