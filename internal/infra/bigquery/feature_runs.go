package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/churn-analytics/internal/logger"
)

const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"

	maxErrorMessage = 2000
)

// FeatureRunRow is one row of the feature_runs table.
type FeatureRunRow struct {
	RunID  string `bigquery:"run_id"` // REQUIRED
	Source string `bigquery:"source"`

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string             `bigquery:"status"`
	Customers    bigquery.NullInt64 `bigquery:"customers"`     // NULLABLE
	ErrorMessage string             `bigquery:"error_message"` // NULLABLE
}

// StartRun inserts a feature_runs row with status=RUNNING.
func (c *Client) StartRun(ctx context.Context, runID, source string) error {
	q := c.client.Query(fmt.Sprintf(`
		INSERT %s (run_id, source, started_ts, status)
		VALUES (@run_id, @source, @started_ts, @status)
	`, c.table(runsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "source", Value: source},
		{Name: "started_ts", Value: time.Now()},
		{Name: "status", Value: RunStatusRunning},
	}
	return runQuery(ctx, q, "StartRun")
}

// MarkRunSucceeded sets status=SUCCESS, finished_ts and the customer count,
// and clears error_message.
func (c *Client) MarkRunSucceeded(ctx context.Context, runID string, customers int) error {
	q := c.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    customers = @customers,
		    error_message = ""
		WHERE run_id = @run_id
	`, c.table(runsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "customers", Value: int64(customers)},
		{Name: "run_id", Value: runID},
	}
	return runQuery(ctx, q, "MarkRunSucceeded")
}

// MarkRunFailed sets status=FAILED, finished_ts and error_message. Failures
// are logged, not returned: the run has already failed.
func (c *Client) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	log := logger.FromContext(ctx)

	q := c.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, c.table(runsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: truncateError(runErr)},
		{Name: "run_id", Value: runID},
	}

	// The run may have failed because ctx was cancelled.
	if err := runQuery(context.WithoutCancel(ctx), q, "MarkRunFailed"); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: updating run")
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}
