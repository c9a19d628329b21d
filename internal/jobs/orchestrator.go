// Package jobs runs the scheduled background sweeps: risk monitoring,
// settlement, daily boundary processing, market refresh, and archival.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/engine"
	"github.com/polyprop/polyprop/internal/notify"
)

// MarketFeed pages market metadata from the upstream venue.
type MarketFeed interface {
	ListMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error)
}

// Config holds the job intervals and tuning knobs.
type Config struct {
	MonitorInterval      time.Duration
	SettlementInterval   time.Duration
	RefreshInterval      time.Duration
	RefreshPageSize      int
	ArchiveInterval      time.Duration
	ArchiveRetentionDays int
}

// Orchestrator coordinates all background job goroutines. Each sweep is
// single-flighted through a distributed lock so that redundant instances
// never run the same sweep concurrently.
type Orchestrator struct {
	monitor     *engine.RiskMonitor
	settlement  *engine.SettlementEngine
	daily       *engine.DailyBoundary
	feed        MarketFeed
	markets     domain.MarketStore
	marketCache domain.MarketCache
	archiver    domain.Archiver
	locks       domain.LockManager
	notifier    *notify.Notifier
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// NewOrchestrator creates an Orchestrator coordinating all scheduled sweeps.
// The lock manager may be nil in single-instance deployments.
func NewOrchestrator(
	monitor *engine.RiskMonitor,
	settlement *engine.SettlementEngine,
	daily *engine.DailyBoundary,
	feed MarketFeed,
	markets domain.MarketStore,
	marketCache domain.MarketCache,
	archiver domain.Archiver,
	locks domain.LockManager,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.RefreshPageSize <= 0 {
		cfg.RefreshPageSize = 200
	}
	return &Orchestrator{
		monitor:     monitor,
		settlement:  settlement,
		daily:       daily,
		feed:        feed,
		markets:     markets,
		marketCache: marketCache,
		archiver:    archiver,
		locks:       locks,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "jobs")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier enables operational alerts on sweep failures.
func (o *Orchestrator) WithNotifier(n *notify.Notifier) *Orchestrator {
	o.notifier = n
	return o
}

// Run starts all job loops as concurrent goroutines using an errgroup. Each
// loop respects ctx cancellation. If any loop returns a non-context error,
// the errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("job orchestrator starting",
		slog.Duration("monitor_interval", o.cfg.MonitorInterval),
		slog.Duration("settlement_interval", o.cfg.SettlementInterval),
		slog.Duration("refresh_interval", o.cfg.RefreshInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.loop(ctx, "monitor", o.cfg.MonitorInterval, func(ctx context.Context) error {
			report, err := o.RunMonitorSweep(ctx)
			if err != nil {
				return err
			}
			if report.HardBreach+report.SoftBreach+report.Passed > 0 {
				o.logger.InfoContext(ctx, "monitor sweep transitions",
					slog.Int("hard_breaches", report.HardBreach),
					slog.Int("soft_breaches", report.SoftBreach),
					slog.Int("passed", report.Passed),
				)
			}
			return nil
		})
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("monitor loop: %w", err)
	})

	g.Go(func() error {
		err := o.loop(ctx, "settlement", o.cfg.SettlementInterval, func(ctx context.Context) error {
			report, err := o.RunSettlementSweep(ctx)
			if err != nil {
				return err
			}
			if report.MarketsSettled > 0 {
				o.logger.InfoContext(ctx, "settlement sweep settled markets",
					slog.Int("markets", report.MarketsSettled),
					slog.Int("positions", report.PositionsClosed),
				)
			}
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("settlement loop: %w", err)
	})

	g.Go(func() error {
		err := o.dailyLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("daily loop: %w", err)
	})

	g.Go(func() error {
		err := o.loop(ctx, "refresh", o.cfg.RefreshInterval, func(ctx context.Context) error {
			count, err := o.RunMarketRefresh(ctx)
			if err != nil {
				return err
			}
			o.logger.DebugContext(ctx, "market refresh complete", slog.Int("markets", count))
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("refresh loop: %w", err)
	})

	if o.archiver != nil && o.cfg.ArchiveInterval > 0 {
		g.Go(func() error {
			err := o.loop(ctx, "archive", o.cfg.ArchiveInterval, func(ctx context.Context) error {
				count, err := o.RunArchive(ctx)
				if err != nil {
					return err
				}
				if count > 0 {
					o.logger.InfoContext(ctx, "archived aged records", slog.Int64("records", count))
				}
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archive loop: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("job orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("job orchestrator stopped cleanly")
	return nil
}

// loop runs fn immediately and then on every tick until ctx is cancelled.
// Individual sweep failures are logged and do not stop the loop.
func (o *Orchestrator) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("jobs: %s interval must be positive", name)
	}

	run := func() {
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.ErrorContext(ctx, "sweep failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			o.alertFailure(ctx, name, err)
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// dailyLoop fires the daily boundary shortly after each UTC midnight. It also
// runs once at startup, which is a no-op for accounts already rebased today.
func (o *Orchestrator) dailyLoop(ctx context.Context) error {
	run := func() {
		report, err := o.RunDailyBoundary(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				o.logger.ErrorContext(ctx, "daily boundary failed", slog.String("error", err.Error()))
				o.alertFailure(ctx, "daily", err)
			}
			return
		}
		o.logger.InfoContext(ctx, "daily boundary complete",
			slog.Int("rebased", report.Rebased),
			slog.Int("finalized", report.Finalized),
			slog.Int("skipped", report.Skipped),
		)
	}

	run()

	for {
		next := nextUTCMidnight(o.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			run()
		}
	}
}

// nextUTCMidnight returns the first instant of the next UTC day, plus a small
// grace offset so clock skew between instances cannot fire before midnight.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return midnight.Add(5 * time.Second)
}

// alertFailure pushes a job-failure alert to the operational channels.
func (o *Orchestrator) alertFailure(ctx context.Context, job string, err error) {
	if o.notifier == nil {
		return
	}
	title := fmt.Sprintf("Job failed: %s", job)
	if nerr := o.notifier.Notify(ctx, "job_error", title, err.Error()); nerr != nil {
		o.logger.WarnContext(ctx, "job failure alert not delivered",
			slog.String("job", job),
			slog.String("error", nerr.Error()),
		)
	}
}

// withLock single-flights fn through the distributed lock manager. When the
// lock is held elsewhere, the sweep is skipped silently. A nil lock manager
// runs fn directly.
func (o *Orchestrator) withLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if o.locks == nil {
		return fn(ctx)
	}

	unlock, err := o.locks.Acquire(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			o.logger.DebugContext(ctx, "sweep already running elsewhere", slog.String("job", key))
			return nil
		}
		// Redis being down should not stop risk enforcement.
		o.logger.WarnContext(ctx, "lock acquire failed, running unlocked",
			slog.String("job", key),
			slog.String("error", err.Error()),
		)
		return fn(ctx)
	}
	defer unlock()

	return fn(ctx)
}

// RunMonitorSweep evaluates every live account against its risk rules.
func (o *Orchestrator) RunMonitorSweep(ctx context.Context) (engine.MonitorReport, error) {
	var report engine.MonitorReport
	err := o.withLock(ctx, "jobs:monitor", 2*time.Minute, func(ctx context.Context) error {
		var err error
		report, err = o.monitor.Sweep(ctx)
		return err
	})
	return report, err
}

// RunSettlementSweep settles positions in markets that have resolved.
func (o *Orchestrator) RunSettlementSweep(ctx context.Context) (engine.SettlementReport, error) {
	var report engine.SettlementReport
	err := o.withLock(ctx, "jobs:settlement", 5*time.Minute, func(ctx context.Context) error {
		var err error
		report, err = o.settlement.Sweep(ctx)
		return err
	})
	return report, err
}

// RunDailyBoundary finalizes unrecovered soft breaches and rebases the daily
// loss baselines for all live accounts.
func (o *Orchestrator) RunDailyBoundary(ctx context.Context) (engine.DailyReport, error) {
	var report engine.DailyReport
	err := o.withLock(ctx, "jobs:daily", 5*time.Minute, func(ctx context.Context) error {
		var err error
		report, err = o.daily.Run(ctx)
		return err
	})
	return report, err
}

// RunMarketRefresh pages active markets from the venue, upserts them into the
// store, and refreshes the metadata cache. Returns the number of markets
// synced.
func (o *Orchestrator) RunMarketRefresh(ctx context.Context) (int, error) {
	var synced int
	err := o.withLock(ctx, "jobs:refresh", 5*time.Minute, func(ctx context.Context) error {
		offset := 0
		for {
			page, err := o.feed.ListMarkets(ctx, o.cfg.RefreshPageSize, offset)
			if err != nil {
				return fmt.Errorf("jobs: list markets at offset %d: %w", offset, err)
			}
			if len(page) == 0 {
				return nil
			}

			if err := o.markets.UpsertBatch(ctx, page); err != nil {
				return fmt.Errorf("jobs: upsert markets: %w", err)
			}

			if o.marketCache != nil {
				for _, m := range page {
					if err := o.marketCache.Set(ctx, m); err != nil {
						o.logger.WarnContext(ctx, "market cache set failed",
							slog.String("market_id", m.ID),
							slog.String("error", err.Error()),
						)
						break
					}
				}
			}

			synced += len(page)
			if len(page) < o.cfg.RefreshPageSize {
				return nil
			}
			offset += len(page)
		}
	})
	return synced, err
}

// RunArchive moves trades and audit rows older than the retention window to
// cold storage. Returns the total number of records archived.
func (o *Orchestrator) RunArchive(ctx context.Context) (int64, error) {
	if o.archiver == nil {
		return 0, errors.New("jobs: archiver not configured")
	}

	var total int64
	err := o.withLock(ctx, "jobs:archive", 10*time.Minute, func(ctx context.Context) error {
		cutoff := o.now().AddDate(0, 0, -o.cfg.ArchiveRetentionDays)

		trades, err := o.archiver.ArchiveTrades(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("jobs: archive trades: %w", err)
		}
		total += trades

		audit, err := o.archiver.ArchiveAuditLog(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("jobs: archive audit log: %w", err)
		}
		total += audit

		return nil
	})
	return total, err
}
