package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/fill"
)

// DefaultStaleThreshold is how old a book snapshot may be before the trade
// path refuses to price against it.
const DefaultStaleThreshold = 5 * time.Second

// TradeRequest is one inbound trade to execute.
type TradeRequest struct {
	AccountID    string
	MarketID     string
	Type         domain.TradeType
	Direction    domain.Direction
	DollarAmount float64  // required for BUY
	Shares       *float64 // optional for SELL; nil sells the whole position
}

// Validate rejects malformed requests before any lookup happens.
func (r TradeRequest) Validate() error {
	if r.AccountID == "" {
		return domain.NewTradeError(domain.CodeValidation, "account id is required")
	}
	if r.MarketID == "" {
		return domain.NewTradeError(domain.CodeValidation, "market id is required")
	}
	if !r.Direction.Valid() {
		return domain.NewTradeError(domain.CodeValidation, "direction must be YES or NO")
	}
	switch r.Type {
	case domain.TradeTypeBuy:
		if r.DollarAmount <= 0 {
			return domain.NewTradeError(domain.CodeValidation, "dollar amount must be positive")
		}
	case domain.TradeTypeSell:
		if r.Shares != nil && *r.Shares <= 0 {
			return domain.NewTradeError(domain.CodeValidation, "share quantity must be positive")
		}
	default:
		return domain.NewTradeError(domain.CodeValidation, "trade type must be BUY or SELL")
	}
	return nil
}

// Executor orchestrates a single trade end-to-end: quote, gate, simulated
// fill, ledger and position writes, audit record. All writes happen in one
// transaction; a rejection at any step leaves no trace.
type Executor struct {
	store          domain.Store
	gateway        domain.MarketDataGateway
	gate           *RiskGate
	exposure       *ExposureCache
	bus            domain.SignalBus
	logger         *slog.Logger
	staleThreshold time.Duration
	now            func() time.Time
}

// NewExecutor creates an Executor with all required dependencies.
func NewExecutor(
	store domain.Store,
	gateway domain.MarketDataGateway,
	gate *RiskGate,
	exposure *ExposureCache,
	bus domain.SignalBus,
	staleThreshold time.Duration,
	logger *slog.Logger,
) *Executor {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &Executor{
		store:          store,
		gateway:        gateway,
		gate:           gate,
		exposure:       exposure,
		bus:            bus,
		logger:         logger.With(slog.String("component", "executor")),
		staleThreshold: staleThreshold,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteTrade runs one trade. Typed rejections come back as
// *domain.TradeError; anything else is an internal failure.
func (e *Executor) ExecuteTrade(ctx context.Context, req TradeRequest) (domain.Trade, error) {
	if err := req.Validate(); err != nil {
		return domain.Trade{}, err
	}

	acct, err := e.store.Accounts().GetByID(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, domain.NewTradeError(domain.CodeValidation, "unknown account")
		}
		return domain.Trade{}, fmt.Errorf("executor: get account: %w", err)
	}
	if acct.Status != domain.AccountStatusActive && acct.Status != domain.AccountStatusPendingFailure {
		return domain.Trade{}, domain.NewTradeError(domain.CodeValidation,
			"account is %s and cannot trade", acct.Status)
	}

	market, err := e.store.Markets().GetByID(ctx, req.MarketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, domain.NewTradeError(domain.CodeValidation, "unknown market")
		}
		return domain.Trade{}, fmt.Errorf("executor: get market: %w", err)
	}
	if market.Status != domain.MarketStatusActive {
		return domain.Trade{}, domain.NewTradeError(domain.CodeValidation, "market is not open for trading")
	}

	// Quote. A missing or stale book is the same failure from the trader's
	// point of view: no trustworthy price.
	book, err := e.gateway.GetOrderBook(ctx, req.MarketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, domain.NewTradeError(domain.CodeStaleMarketData, "no book snapshot for market")
		}
		return domain.Trade{}, fmt.Errorf("executor: get order book: %w", err)
	}
	if age := e.now().Sub(book.Timestamp); age > e.staleThreshold {
		return domain.Trade{}, domain.NewTradeError(domain.CodeStaleMarketData,
			"book snapshot is %s old", age.Truncate(time.Millisecond))
	}

	// Pre-trade gate. No mutation has happened yet.
	if err := e.gate.Admit(ctx, acct, market, req); err != nil {
		return domain.Trade{}, err
	}

	// All prices below are direction-adjusted once, here.
	bids, asks := fill.DirectionBook(book, req.Direction)

	var trade domain.Trade
	txErr := e.store.WithTx(ctx, func(tx domain.Store) error {
		var err error
		switch req.Type {
		case domain.TradeTypeBuy:
			trade, err = e.executeBuy(ctx, tx, req, asks)
		case domain.TradeTypeSell:
			trade, err = e.executeSell(ctx, tx, req, bids)
		}
		return err
	})
	if txErr != nil {
		return domain.Trade{}, txErr
	}

	e.exposure.Invalidate(req.AccountID)

	e.publishTrade(ctx, trade)
	if auditErr := e.store.Audit().Log(ctx, "trade_executed", map[string]any{
		"trade_id":    trade.ID,
		"account_id":  trade.AccountID,
		"market_id":   trade.MarketID,
		"type":        string(trade.Type),
		"direction":   string(trade.Direction),
		"fill_price":  trade.FillPrice,
		"amount":      trade.DollarAmount,
		"shares":      trade.Shares,
		"market_name": market.Question,
	}); auditErr != nil {
		e.logger.WarnContext(ctx, "executor: audit log failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	e.logger.InfoContext(ctx, "executor: trade executed",
		slog.String("trade_id", trade.ID),
		slog.String("account_id", trade.AccountID),
		slog.String("market_id", trade.MarketID),
		slog.String("type", string(trade.Type)),
		slog.String("direction", string(trade.Direction)),
		slog.Float64("fill_price", trade.FillPrice),
		slog.Float64("amount", trade.DollarAmount),
	)

	return trade, nil
}

func (e *Executor) executeBuy(ctx context.Context, tx domain.Store, req TradeRequest, asks []domain.PriceLevel) (domain.Trade, error) {
	now := e.now()

	acct, err := tx.Accounts().GetForUpdate(ctx, req.AccountID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("executor: lock account: %w", err)
	}

	// Re-check funds under the row lock; the gate ran on a possibly older
	// balance.
	if req.DollarAmount > acct.CurrentBalance {
		return domain.Trade{}, domain.NewTradeError(domain.CodeInsufficientFunds,
			"trade amount %.2f exceeds balance %.2f", req.DollarAmount, acct.CurrentBalance)
	}

	res, err := fill.BuyNotional(asks, req.DollarAmount)
	if err != nil {
		if errors.Is(err, fill.ErrInsufficientDepth) {
			return domain.Trade{}, domain.NewTradeError(domain.CodeInsufficientLiquidity,
				"book depth cannot absorb %.2f", req.DollarAmount)
		}
		return domain.Trade{}, fmt.Errorf("executor: simulate buy: %w", err)
	}

	// Upsert the position: merge into an existing open stake on the same
	// (market, direction) key via weighted-average entry, else open fresh.
	pos, err := tx.Positions().GetOpenForUpdate(ctx, req.AccountID, req.MarketID, req.Direction)
	switch {
	case err == nil:
		totalShares := pos.Shares + res.Shares
		pos.EntryPrice = (pos.Shares*pos.EntryPrice + res.Shares*res.AvgPrice) / totalShares
		pos.Shares = totalShares
		pos.CostBasis += req.DollarAmount
		if err := tx.Positions().Update(ctx, pos); err != nil {
			return domain.Trade{}, fmt.Errorf("executor: merge position: %w", err)
		}
	case errors.Is(err, domain.ErrNotFound):
		pos = domain.Position{
			ID:         uuid.New().String(),
			AccountID:  req.AccountID,
			MarketID:   req.MarketID,
			Direction:  req.Direction,
			Shares:     res.Shares,
			CostBasis:  req.DollarAmount,
			EntryPrice: res.AvgPrice,
			Status:     domain.PositionStatusOpen,
			OpenedAt:   now,
		}
		if err := tx.Positions().Create(ctx, pos); err != nil {
			return domain.Trade{}, fmt.Errorf("executor: create position: %w", err)
		}
	default:
		return domain.Trade{}, fmt.Errorf("executor: lock position: %w", err)
	}

	acct.CurrentBalance -= req.DollarAmount
	e.bumpTradingDay(&acct, now)
	if err := tx.Accounts().Update(ctx, acct); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: debit account: %w", err)
	}

	trade := domain.Trade{
		ID:           uuid.New().String(),
		AccountID:    req.AccountID,
		PositionID:   pos.ID,
		MarketID:     req.MarketID,
		Type:         domain.TradeTypeBuy,
		Direction:    req.Direction,
		FillPrice:    res.AvgPrice,
		DollarAmount: req.DollarAmount,
		Shares:       res.Shares,
		ExecutedAt:   now,
	}
	if err := tx.Trades().Insert(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: insert trade: %w", err)
	}
	return trade, nil
}

func (e *Executor) executeSell(ctx context.Context, tx domain.Store, req TradeRequest, bids []domain.PriceLevel) (domain.Trade, error) {
	now := e.now()

	acct, err := tx.Accounts().GetForUpdate(ctx, req.AccountID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("executor: lock account: %w", err)
	}

	pos, err := tx.Positions().GetOpenForUpdate(ctx, req.AccountID, req.MarketID, req.Direction)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The gate saw it, but it may have been closed since (settlement
			// or a concurrent sell).
			return domain.Trade{}, domain.NewTradeError(domain.CodePositionNotFound,
				"no open %s position in market", req.Direction)
		}
		return domain.Trade{}, fmt.Errorf("executor: lock position: %w", err)
	}

	soldShares := pos.Shares
	if req.Shares != nil {
		soldShares = *req.Shares
	}
	if soldShares > pos.Shares+1e-9 {
		return domain.Trade{}, domain.NewTradeError(domain.CodeValidation,
			"cannot sell %.4f of a %.4f share position", soldShares, pos.Shares)
	}

	res, err := fill.SellShares(bids, soldShares)
	if err != nil {
		if errors.Is(err, fill.ErrInsufficientDepth) {
			return domain.Trade{}, domain.NewTradeError(domain.CodeInsufficientLiquidity,
				"book depth cannot absorb %.4f shares", soldShares)
		}
		return domain.Trade{}, fmt.Errorf("executor: simulate sell: %w", err)
	}

	// Both prices are direction-adjusted, so the sign falls out directly.
	realized := res.Notional - soldShares*pos.EntryPrice
	proceeds := res.Notional

	cumulative := realized
	if pos.RealizedPnL != nil {
		cumulative += *pos.RealizedPnL
	}
	pos.RealizedPnL = &cumulative

	if soldShares < pos.Shares-1e-9 {
		pos.Shares -= soldShares
		pos.CostBasis -= soldShares * pos.EntryPrice
	} else {
		pos.Shares = 0
		pos.CostBasis = 0
		pos.Status = domain.PositionStatusClosed
		pos.ClosedAt = &now
	}
	if err := tx.Positions().Update(ctx, pos); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: update position: %w", err)
	}

	acct.CurrentBalance += proceeds
	if acct.CurrentBalance > acct.HighWaterMark {
		acct.HighWaterMark = acct.CurrentBalance
	}
	e.bumpTradingDay(&acct, now)
	if err := tx.Accounts().Update(ctx, acct); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: credit account: %w", err)
	}

	trade := domain.Trade{
		ID:           uuid.New().String(),
		AccountID:    req.AccountID,
		PositionID:   pos.ID,
		MarketID:     req.MarketID,
		Type:         domain.TradeTypeSell,
		Direction:    req.Direction,
		FillPrice:    res.AvgPrice,
		DollarAmount: proceeds,
		Shares:       soldShares,
		RealizedPnL:  &realized,
		ExecutedAt:   now,
	}
	if err := tx.Trades().Insert(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: insert trade: %w", err)
	}
	return trade, nil
}

// bumpTradingDay counts the first executed trade of each UTC day toward the
// account's active trading days.
func (e *Executor) bumpTradingDay(acct *domain.Account, now time.Time) {
	if acct.LastActivityAt == nil || !sameUTCDay(*acct.LastActivityAt, now) {
		acct.ActiveTradingDays++
	}
	t := now
	acct.LastActivityAt = &t
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func (e *Executor) publishTrade(ctx context.Context, t domain.Trade) {
	publishEvent(ctx, e.bus, e.logger, "trades", map[string]any{
		"event":      "trade_executed",
		"trade_id":   t.ID,
		"account_id": t.AccountID,
		"market_id":  t.MarketID,
		"type":       string(t.Type),
		"direction":  string(t.Direction),
		"fill_price": t.FillPrice,
		"amount":     t.DollarAmount,
		"shares":     t.Shares,
		"timestamp":  t.ExecutedAt.Format(time.RFC3339Nano),
	})
}
