package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	featuresTable = "customer_features"
	runsTable     = "feature_runs"
)

// Client is the BigQuery side of the churn pipeline: it publishes the
// feature table, tracks runs, and reads the raw order tables. It holds one
// shared BigQuery client to avoid a new connection per operation.
type Client struct {
	client     *bigquery.Client
	project    string
	dataset    string
	rawDataset string
}

// NewClient connects to project. dataset holds the feature table and run
// history; rawDataset holds the raw order tables and may be empty when the
// client is only used as a sink.
func NewClient(ctx context.Context, project, dataset, rawDataset string) (*Client, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating client: %w", err)
	}
	return &Client{
		client:     client,
		project:    project,
		dataset:    dataset,
		rawDataset: rawDataset,
	}, nil
}

// Close closes the BigQuery client connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Name identifies the client as a feature sink.
func (c *Client) Name() string {
	return "bigquery"
}

// table returns the backtick-quoted, fully qualified name of a table in the
// feature dataset.
func (c *Client) table(name string) string {
	return qualified(c.project, c.dataset, name)
}

func qualified(project, dataset, table string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table)
}

// runQuery runs q and waits for it to finish.
func runQuery(ctx context.Context, q *bigquery.Query, op string) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}
