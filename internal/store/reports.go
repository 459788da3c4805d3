package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/botsync/internal/record"
)

// Run report statuses.
const (
	StatusSuccess = "success"
	StatusAborted = "aborted"
	StatusFailed  = "failed"
)

// RunReport summarises one update cycle of a bot.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Bot        string    `json:"bot"`
	Status     string    `json:"status"`
	Updated    int       `json:"updated"`
	Output     string    `json:"output,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// SaveRunReport records a run. Saving the same RunID twice keeps the latest.
func (s *Store) SaveRunReport(ctx context.Context, r RunReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_reports
		(run_id, bot, status, updated, output, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			updated = excluded.updated,
			output = excluded.output,
			finished_at = excluded.finished_at
	`,
		r.RunID,
		r.Bot,
		r.Status,
		r.Updated,
		nullString(r.Output),
		record.FormatTime(r.StartedAt),
		record.FormatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("save run report: %w", err)
	}
	return nil
}

// RunReports returns the most recent reports for bot, newest first.
// A limit of zero or less returns all of them.
func (s *Store) RunReports(ctx context.Context, bot string, limit int) ([]RunReport, error) {
	query := `
		SELECT run_id, bot, status, updated, output, started_at, finished_at
		FROM run_reports
		WHERE bot = ?
		ORDER BY started_at DESC, run_id DESC
	`
	args := []any{bot}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run reports: %w", err)
	}
	defer rows.Close()

	var reports []RunReport
	for rows.Next() {
		var (
			r                   RunReport
			output              sql.NullString
			started, finished string
		)
		if err := rows.Scan(&r.RunID, &r.Bot, &r.Status, &r.Updated, &output, &started, &finished); err != nil {
			return nil, fmt.Errorf("run reports: scan: %w", err)
		}
		r.Output = output.String
		if r.StartedAt, err = record.ParseTime(started); err != nil {
			return nil, fmt.Errorf("run reports: started_at: %w", err)
		}
		if r.FinishedAt, err = record.ParseTime(finished); err != nil {
			return nil, fmt.Errorf("run reports: finished_at: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
