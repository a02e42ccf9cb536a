package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/churn-analytics/internal/logger"
)

// Run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

const maxErrorMessage = 2000

// tsLayout sorts lexically in time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Run is one row of feature_runs.
type Run struct {
	RunID        string     `json:"run_id"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Customers    *int       `json:"customers,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// StartRun implements pipeline.RunTracker.
func (s *Store) StartRun(ctx context.Context, runID, source string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_runs (run_id, source, status, started_ts) VALUES (?, ?, ?, ?)`,
		runID, source, RunStatusRunning, time.Now().UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("StartRun: %w", err)
	}
	return nil
}

// MarkRunSucceeded implements pipeline.RunTracker.
func (s *Store) MarkRunSucceeded(ctx context.Context, runID string, customers int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feature_runs SET status = ?, finished_ts = ?, customers = ?, error_message = '' WHERE run_id = ?`,
		RunStatusSuccess, time.Now().UTC().Format(tsLayout), customers, runID,
	)
	if err != nil {
		return fmt.Errorf("MarkRunSucceeded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("MarkRunSucceeded: run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// MarkRunFailed implements pipeline.RunTracker. The error message is
// truncated; failures to record are logged, not returned.
func (s *Store) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
		if len(msg) > maxErrorMessage {
			msg = msg[:maxErrorMessage]
		}
	}
	// The run context may already be cancelled; record the failure anyway.
	ctx = context.WithoutCancel(ctx)
	_, err := s.db.ExecContext(ctx,
		`UPDATE feature_runs SET status = ?, finished_ts = ?, error_message = ? WHERE run_id = ?`,
		RunStatusFailed, time.Now().UTC().Format(tsLayout), msg, runID,
	)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("run_id", runID).Msg("MarkRunFailed: update failed")
	}
}

const runColumns = "run_id, source, status, started_ts, finished_ts, customers, error_message"

func scanRun(row scanner) (*Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
		count    sql.NullInt64
	)
	if err := row.Scan(&r.RunID, &r.Source, &r.Status, &started, &finished, &count, &r.ErrorMessage); err != nil {
		return nil, err
	}
	t, err := time.ParseInLocation(tsLayout, started, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("started_ts %q: %w", started, err)
	}
	r.StartedAt = t
	if finished.Valid {
		t, err := time.ParseInLocation(tsLayout, finished.String, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("finished_ts %q: %w", finished.String, err)
		}
		r.FinishedAt = &t
	}
	if count.Valid {
		n := int(count.Int64)
		r.Customers = &n
	}
	return &r, nil
}

// GetRun returns one run, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM feature_runs WHERE run_id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM feature_runs ORDER BY started_ts DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRuns: scan: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRuns: rows: %w", err)
	}
	return runs, nil
}
