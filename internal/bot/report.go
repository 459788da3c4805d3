package bot

import (
	"context"
	"time"

	"github.com/roach88/botsync/internal/store"
)

// saveReport records the outcome of an Update. Failures are logged only.
func (o *Orchestrator) saveReport(ctx context.Context, runID string, started time.Time, summary RunSummary, runErr error) {
	if o.reports == nil {
		return
	}

	report := store.RunReport{
		RunID:      runID,
		Bot:        o.cfg.Name,
		Status:     store.StatusSuccess,
		Updated:    summary.Updated,
		Output:     summary.Output,
		StartedAt:  started,
		FinishedAt: o.now(),
	}
	switch {
	case runErr != nil:
		report.Status = store.StatusFailed
		report.Output = runErr.Error()
	case summary.State == Aborted:
		report.Status = store.StatusAborted
	}

	if err := o.reports.SaveRunReport(ctx, report); err != nil {
		o.logger.Error("failed to save run report", "run_id", runID, "error", err)
	}
}
