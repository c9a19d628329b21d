package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyprop/polyprop/internal/domain"
)

// SettlementReport summarizes one settlement sweep.
type SettlementReport struct {
	MarketsChecked  int
	MarketsSettled  int
	MarketsSkipped  int // resolved but without a usable terminal price
	PositionsClosed int
	Errors          int
}

// SettlementEngine closes open positions in resolved markets and pays the
// terminal value into account balances. Every position settles in its own
// transaction so one poisoned row never blocks the rest of the market.
type SettlementEngine struct {
	store    domain.Store
	feed     domain.ResolutionFeed
	exposure *ExposureCache
	bus      domain.SignalBus
	logger   *slog.Logger
	now      func() time.Time
}

func NewSettlementEngine(store domain.Store, feed domain.ResolutionFeed, exposure *ExposureCache, bus domain.SignalBus, logger *slog.Logger) *SettlementEngine {
	return &SettlementEngine{
		store:    store,
		feed:     feed,
		exposure: exposure,
		bus:      bus,
		logger:   logger.With(slog.String("component", "settlement")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep asks the venue about every market we still hold positions in and
// settles the resolved ones.
func (s *SettlementEngine) Sweep(ctx context.Context) (SettlementReport, error) {
	marketIDs, err := s.store.Positions().ListOpenMarketIDs(ctx)
	if err != nil {
		return SettlementReport{}, fmt.Errorf("settlement: list open markets: %w", err)
	}
	if len(marketIDs) == 0 {
		return SettlementReport{}, nil
	}

	resolutions, err := s.feed.BatchGetResolutionStatus(ctx, marketIDs)
	if err != nil {
		return SettlementReport{}, fmt.Errorf("settlement: resolution status: %w", err)
	}

	report := SettlementReport{MarketsChecked: len(marketIDs)}
	for _, id := range marketIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, ok := resolutions[id]
		if !ok || !res.IsResolved {
			continue
		}
		closed, err := s.SettleMarket(ctx, id, res)
		if err != nil {
			if errors.Is(err, errAmbiguousResolution) {
				report.MarketsSkipped++
				continue
			}
			report.Errors++
			s.logger.ErrorContext(ctx, "settlement: settle market",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.MarketsSettled++
		report.PositionsClosed += closed
	}

	if report.MarketsSettled > 0 || report.Errors > 0 {
		s.logger.InfoContext(ctx, "settlement: sweep complete",
			slog.Int("checked", report.MarketsChecked),
			slog.Int("settled", report.MarketsSettled),
			slog.Int("skipped", report.MarketsSkipped),
			slog.Int("positions_closed", report.PositionsClosed),
			slog.Int("errors", report.Errors),
		)
	}
	return report, nil
}

var errAmbiguousResolution = errors.New("settlement: resolution carries no usable terminal price")

// SettleMarket settles every open position in one resolved market and
// records the terminal state on the market row. Safe to call twice: already
// closed positions are skipped under lock.
func (s *SettlementEngine) SettleMarket(ctx context.Context, marketID string, res domain.Resolution) (int, error) {
	terminalYes, ok := res.Price()
	if !ok {
		s.logger.WarnContext(ctx, "settlement: ambiguous resolution, skipping market",
			slog.String("market_id", marketID),
		)
		return 0, errAmbiguousResolution
	}

	if err := s.markMarketResolved(ctx, marketID, terminalYes, res); err != nil {
		return 0, err
	}

	positions, err := s.store.Positions().ListOpenByMarket(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("settlement: list open positions: %w", err)
	}

	closed := 0
	for _, pos := range positions {
		if err := s.settlePosition(ctx, pos, terminalYes); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Closed by a concurrent sell or a parallel sweep.
				continue
			}
			return closed, fmt.Errorf("settlement: position %s: %w", pos.ID, err)
		}
		closed++
		s.exposure.Invalidate(pos.AccountID)
	}

	publishEvent(ctx, s.bus, s.logger, "settlements", map[string]any{
		"event":            "market_settled",
		"market_id":        marketID,
		"resolution_price": terminalYes,
		"positions_closed": closed,
		"timestamp":        s.now().Format(time.RFC3339Nano),
	})
	return closed, nil
}

func (s *SettlementEngine) markMarketResolved(ctx context.Context, marketID string, terminalYes float64, res domain.Resolution) error {
	market, err := s.store.Markets().GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Positions can outlive a delisted metadata row; settle anyway.
			return nil
		}
		return fmt.Errorf("settlement: get market: %w", err)
	}
	if market.Status == domain.MarketStatusResolved {
		return nil
	}

	now := s.now()
	market.Status = domain.MarketStatusResolved
	market.ResolutionPrice = &terminalYes
	market.WinningOutcome = res.WinningOutcome
	market.ClosedAt = &now
	if err := s.store.Markets().Upsert(ctx, market); err != nil {
		return fmt.Errorf("settlement: mark market resolved: %w", err)
	}
	return nil
}

// settlePosition pays one position out at the terminal price. Lock order is
// account first, position second, same as the trade path.
func (s *SettlementEngine) settlePosition(ctx context.Context, pos domain.Position, terminalYes float64) error {
	now := s.now()
	return s.store.WithTx(ctx, func(tx domain.Store) error {
		acct, err := tx.Accounts().GetForUpdate(ctx, pos.AccountID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		locked, err := tx.Positions().GetOpenForUpdate(ctx, pos.AccountID, pos.MarketID, pos.Direction)
		if err != nil {
			return err // ErrNotFound means already settled
		}

		sharesSettled := locked.Shares
		payout := sharesSettled * locked.Direction.EffectivePrice(terminalYes)
		realized := payout - sharesSettled*locked.EntryPrice

		cumulative := realized
		if locked.RealizedPnL != nil {
			cumulative += *locked.RealizedPnL
		}
		locked.RealizedPnL = &cumulative
		locked.Shares = 0
		locked.CostBasis = 0
		locked.Status = domain.PositionStatusClosed
		locked.ClosureReason = domain.ClosureReasonSettlement
		locked.ClosedAt = &now
		if err := tx.Positions().Update(ctx, locked); err != nil {
			return fmt.Errorf("close position: %w", err)
		}

		acct.CurrentBalance += payout
		if acct.CurrentBalance > acct.HighWaterMark {
			acct.HighWaterMark = acct.CurrentBalance
		}
		if err := tx.Accounts().Update(ctx, acct); err != nil {
			return fmt.Errorf("credit payout: %w", err)
		}

		reason := domain.ClosureReasonSettlement
		trade := domain.Trade{
			ID:            uuid.New().String(),
			AccountID:     pos.AccountID,
			PositionID:    locked.ID,
			MarketID:      pos.MarketID,
			Type:          domain.TradeTypeSell,
			Direction:     pos.Direction,
			FillPrice:     pos.Direction.EffectivePrice(terminalYes),
			DollarAmount:  payout,
			Shares:        sharesSettled,
			RealizedPnL:   &realized,
			ClosureReason: &reason,
			ExecutedAt:    now,
		}
		if err := tx.Trades().Insert(ctx, trade); err != nil {
			return fmt.Errorf("insert settlement trade: %w", err)
		}

		return tx.Audit().Log(ctx, "position_settled", map[string]any{
			"position_id":  locked.ID,
			"account_id":   pos.AccountID,
			"market_id":    pos.MarketID,
			"direction":    string(pos.Direction),
			"payout":       payout,
			"realized_pnl": realized,
		})
	})
}
