package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polyprop/polyprop/internal/domain"
)

// RiskGate performs pre-trade admission control. It is a pure decision
// function over the account, market, and position state: Admit never mutates
// anything, it only returns nil or a typed rejection.
type RiskGate struct {
	positions domain.PositionStore
	exposure  *ExposureCache
	logger    *slog.Logger
}

// NewRiskGate creates a RiskGate with all required dependencies.
func NewRiskGate(positions domain.PositionStore, exposure *ExposureCache, logger *slog.Logger) *RiskGate {
	return &RiskGate{
		positions: positions,
		exposure:  exposure,
		logger:    logger.With(slog.String("component", "risk_gate")),
	}
}

// Admit runs the admission checks in order, short-circuiting on the first
// failure. A non-nil return is always a *domain.TradeError.
//
// Checks:
//  1. Market liquidity floor
//  2. Sufficient funds (BUY)
//  3. Per-market exposure limit (BUY)
//  4. Per-category exposure limit (BUY)
//  5. Open position exists (SELL)
func (g *RiskGate) Admit(ctx context.Context, acct domain.Account, market domain.Market, req TradeRequest) error {
	// 1. Liquidity floor.
	if acct.Rules.MinMarketVolume > 0 && market.Volume < acct.Rules.MinMarketVolume {
		g.warn(ctx, acct.ID, "market below liquidity floor",
			slog.Float64("volume", market.Volume),
			slog.Float64("min_volume", acct.Rules.MinMarketVolume),
		)
		return domain.NewTradeError(domain.CodeRiskLimitExceeded,
			"market volume %.0f below minimum %.0f", market.Volume, acct.Rules.MinMarketVolume)
	}

	if req.Type == domain.TradeTypeBuy {
		return g.admitBuy(ctx, acct, market, req)
	}
	return g.admitSell(ctx, acct, req)
}

func (g *RiskGate) admitBuy(ctx context.Context, acct domain.Account, market domain.Market, req TradeRequest) error {
	// 2. Funds.
	if req.DollarAmount > acct.CurrentBalance {
		g.warn(ctx, acct.ID, "insufficient funds",
			slog.Float64("amount", req.DollarAmount),
			slog.Float64("balance", acct.CurrentBalance),
		)
		return domain.NewTradeError(domain.CodeInsufficientFunds,
			"trade amount %.2f exceeds balance %.2f", req.DollarAmount, acct.CurrentBalance)
	}

	// 3. Per-market exposure: existing open stake in this market plus the new
	// amount, against a fraction of the starting balance.
	marketStake, err := g.openStakeInMarket(ctx, acct.ID, market.ID)
	if err != nil {
		return fmt.Errorf("risk_gate: market stake: %w", err)
	}
	maxPosition := acct.Rules.MaxPositionSizePct * acct.StartingBalance
	if marketStake+req.DollarAmount > maxPosition {
		g.warn(ctx, acct.ID, "per-market exposure limit",
			slog.Float64("stake", marketStake+req.DollarAmount),
			slog.Float64("max", maxPosition),
		)
		return domain.NewTradeError(domain.CodeRiskLimitExceeded,
			"exceeds per-market exposure limit of %.2f", maxPosition)
	}

	// 4. Category exposure, from the in-memory exposure cache. The base is
	// the starting balance, deliberately: it stays computable without a live
	// equity recomputation on the trade path.
	exposure, err := g.exposure.Get(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("risk_gate: category exposure: %w", err)
	}
	maxCategory := acct.Rules.MaxCategoryExposurePct * acct.StartingBalance
	if exposure[market.Category]+req.DollarAmount > maxCategory {
		g.warn(ctx, acct.ID, "category exposure limit",
			slog.String("category", market.Category),
			slog.Float64("exposure", exposure[market.Category]+req.DollarAmount),
			slog.Float64("max", maxCategory),
		)
		return domain.NewTradeError(domain.CodeRiskLimitExceeded,
			"exceeds %q category exposure limit of %.2f", market.Category, maxCategory)
	}

	return nil
}

func (g *RiskGate) admitSell(ctx context.Context, acct domain.Account, req TradeRequest) error {
	// 5. Position existence.
	_, err := g.positions.GetOpen(ctx, acct.ID, req.MarketID, req.Direction)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewTradeError(domain.CodePositionNotFound,
				"no open %s position in market", req.Direction)
		}
		return fmt.Errorf("risk_gate: get open position: %w", err)
	}
	return nil
}

func (g *RiskGate) openStakeInMarket(ctx context.Context, accountID, marketID string) (float64, error) {
	open, err := g.positions.ListOpenByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	var stake float64
	for _, p := range open {
		if p.MarketID == marketID {
			stake += p.CostBasis
		}
	}
	return stake, nil
}

func (g *RiskGate) warn(ctx context.Context, accountID, msg string, attrs ...any) {
	args := append([]any{slog.String("account_id", accountID)}, attrs...)
	g.logger.WarnContext(ctx, "risk_gate: "+msg, args...)
}
