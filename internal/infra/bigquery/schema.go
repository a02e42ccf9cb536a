package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/churn-analytics/internal/logger"
)

// EnsureTables creates the feature dataset, the customer_features table and
// the feature_runs table when they do not exist yet. Existing tables are
// left untouched.
func (c *Client) EnsureTables(ctx context.Context) error {
	log := logger.FromContext(ctx)

	ds := c.client.Dataset(c.dataset)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTables: creating dataset %s: %w", c.dataset, err)
	}

	tables := []struct {
		name string
		row  any
		meta func(bigquery.Schema) *bigquery.TableMetadata
	}{
		{featuresTable, FeatureRow{}, func(s bigquery.Schema) *bigquery.TableMetadata {
			return &bigquery.TableMetadata{
				Schema:     s,
				Clustering: &bigquery.Clustering{Fields: []string{"churn_risk"}},
			}
		}},
		{runsTable, FeatureRunRow{}, func(s bigquery.Schema) *bigquery.TableMetadata {
			return &bigquery.TableMetadata{
				Schema:           s,
				TimePartitioning: &bigquery.TimePartitioning{Field: "started_ts"},
			}
		}},
	}

	for _, t := range tables {
		schema, err := bigquery.InferSchema(t.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: inferring %s schema: %w", t.name, err)
		}
		err = ds.Table(t.name).Create(ctx, t.meta(schema))
		switch {
		case isAlreadyExists(err):
			log.Info().Str("table", t.name).Msg("Table already exists")
		case err != nil:
			return fmt.Errorf("EnsureTables: creating %s: %w", t.name, err)
		default:
			log.Info().Str("table", t.name).Msg("Created table")
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
