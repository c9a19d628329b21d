package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
)

// PositionView is an open position enriched with its live mark.
type PositionView struct {
	Position      domain.Position
	MarkPrice     float64 // direction-adjusted
	MarkValue     float64
	UnrealizedPnL float64
	Priced        bool // false when no live price was available and entry was used
}

// Valuer marks open positions to market and derives account equity. Prices
// come from the hot cache; a market with no cached price is marked at its
// entry price so equity degrades to cost instead of erroring out.
type Valuer struct {
	store  domain.Store
	prices domain.PriceCache
	logger *slog.Logger
	now    func() time.Time
}

func NewValuer(store domain.Store, prices domain.PriceCache, logger *slog.Logger) *Valuer {
	return &Valuer{
		store:  store,
		prices: prices,
		logger: logger.With(slog.String("component", "valuer")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OpenPositions returns the account's open positions with live marks attached.
func (v *Valuer) OpenPositions(ctx context.Context, accountID string) ([]PositionView, error) {
	positions, err := v.store.Positions().ListOpenByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("valuer: list open positions: %w", err)
	}
	if len(positions) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.MarketID)
	}
	prices, err := v.prices.GetPrices(ctx, ids)
	if err != nil {
		v.logger.WarnContext(ctx, "valuer: price cache unavailable, marking at entry",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		prices = nil
	}

	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		view := PositionView{Position: p}
		if yes, ok := prices[p.MarketID]; ok {
			view.Priced = true
			view.MarkPrice = p.Direction.EffectivePrice(yes)
			view.MarkValue = p.MarkValue(yes)
			view.UnrealizedPnL = p.UnrealizedPnL(yes)
		} else {
			view.MarkPrice = p.EntryPrice
			view.MarkValue = p.Shares * p.EntryPrice
			view.UnrealizedPnL = 0
		}
		views = append(views, view)
	}
	return views, nil
}

// Equity is cash plus the mark value of every open position.
func (v *Valuer) Equity(ctx context.Context, acct domain.Account) (float64, error) {
	views, err := v.OpenPositions(ctx, acct.ID)
	if err != nil {
		return 0, err
	}
	equity := acct.CurrentBalance
	for _, view := range views {
		equity += view.MarkValue
	}
	return equity, nil
}

// Snapshot computes the point-in-time risk summary served by the API.
func (v *Valuer) Snapshot(ctx context.Context, acct domain.Account) (domain.EquitySnapshot, error) {
	views, err := v.OpenPositions(ctx, acct.ID)
	if err != nil {
		return domain.EquitySnapshot{}, err
	}

	equity := acct.CurrentBalance
	unrealized := 0.0
	for _, view := range views {
		equity += view.MarkValue
		unrealized += view.UnrealizedPnL
	}

	snap := domain.EquitySnapshot{
		AccountID:     acct.ID,
		Equity:        equity,
		Balance:       acct.CurrentBalance,
		UnrealizedPnL: unrealized,
		Timestamp:     v.now(),
	}

	if acct.Rules.MaxDrawdown > 0 {
		used := acct.StartingBalance - equity
		snap.DrawdownUsagePct = clampPct(used / acct.Rules.MaxDrawdown)
	}
	if allowance := acct.MaxDrawdownAllowance(); allowance > 0 {
		used := acct.StartOfDayEquity - equity
		snap.DailyDrawdownUsagePct = clampPct(used / allowance)
	}
	if target := acct.StartingBalance * acct.Rules.ProfitTargetPct; target > 0 {
		snap.ProfitProgressPct = clampPct((equity - acct.StartingBalance) / target)
	}
	return snap, nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
