package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/polyprop/polyprop/internal/engine"
)

// JobRunner exposes the scheduled sweeps for manual triggering.
type JobRunner interface {
	RunMonitorSweep(ctx context.Context) (engine.MonitorReport, error)
	RunSettlementSweep(ctx context.Context) (engine.SettlementReport, error)
	RunDailyBoundary(ctx context.Context) (engine.DailyReport, error)
	RunMarketRefresh(ctx context.Context) (int, error)
	RunArchive(ctx context.Context) (int64, error)
}

// JobsHandler lets operators trigger a scheduled job out of band.
type JobsHandler struct {
	runner JobRunner
	logger *slog.Logger
}

// NewJobsHandler creates a JobsHandler with the given runner and logger.
func NewJobsHandler(runner JobRunner, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		runner: runner,
		logger: logger,
	}
}

// TriggerMonitor runs one risk monitoring sweep.
// POST /api/jobs/monitor
func (h *JobsHandler) TriggerMonitor(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunMonitorSweep(r.Context())
	h.respond(w, r, "monitor", report, err)
}

// TriggerSettlement runs one settlement sweep.
// POST /api/jobs/settlement
func (h *JobsHandler) TriggerSettlement(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunSettlementSweep(r.Context())
	h.respond(w, r, "settlement", report, err)
}

// TriggerDaily runs the daily boundary processing.
// POST /api/jobs/daily-reset
func (h *JobsHandler) TriggerDaily(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunDailyBoundary(r.Context())
	h.respond(w, r, "daily", report, err)
}

// TriggerRefresh re-syncs market metadata from the venue.
// POST /api/jobs/refresh
func (h *JobsHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	count, err := h.runner.RunMarketRefresh(r.Context())
	h.respond(w, r, "refresh", map[string]any{"markets_synced": count}, err)
}

// TriggerArchive archives aged trades and audit rows to cold storage.
// POST /api/jobs/archive
func (h *JobsHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	count, err := h.runner.RunArchive(r.Context())
	h.respond(w, r, "archive", map[string]any{"records_archived": count}, err)
}

func (h *JobsHandler) respond(w http.ResponseWriter, r *http.Request, job string, report any, err error) {
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: job trigger failed",
			slog.String("job", job),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "job failed: "+job)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":    job,
		"report": report,
	})
}
