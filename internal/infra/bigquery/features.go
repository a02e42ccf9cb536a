package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/logger"
	"github.com/dvloznov/churn-analytics/internal/pipeline"
)

var _ pipeline.StagingSink = (*Client)(nil)

const (
	// stagingExpiry bounds how long an orphaned staging table survives a
	// crashed run.
	stagingExpiry = 24 * time.Hour
	insertBatch   = 500
)

// FeatureRow is one row of the customer_features table.
type FeatureRow struct {
	CustomerUniqueID string `bigquery:"customer_unique_id"` // REQUIRED

	TotalOrders    int64          `bigquery:"total_orders"`
	FirstOrderDate civil.DateTime `bigquery:"first_order_date"`
	LastOrderDate  civil.DateTime `bigquery:"last_order_date"`

	TotalPrice   float64 `bigquery:"total_price"`
	AvgPrice     float64 `bigquery:"avg_price"`
	StdPrice     float64 `bigquery:"std_price"`
	TotalFreight float64 `bigquery:"total_freight"`
	AvgFreight   float64 `bigquery:"avg_freight"`
	TotalPayment float64 `bigquery:"total_payment"`
	AvgPayment   float64 `bigquery:"avg_payment"`
	StdPayment   float64 `bigquery:"std_payment"`

	UniqueProducts      int64   `bigquery:"unique_products"`
	UniqueCategories    int64   `bigquery:"unique_categories"`
	AvgReviewScore      float64 `bigquery:"avg_review_score"`
	TotalReviewComments int64   `bigquery:"total_review_comments"`
	AvgPaymentMethods   float64 `bigquery:"avg_payment_methods"`
	MaxInstallments     int64   `bigquery:"max_installments"`

	CustomerCity          string `bigquery:"customer_city"`
	CustomerState         string `bigquery:"customer_state"`
	CustomerZipCodePrefix string `bigquery:"customer_zip_code_prefix"`

	RecencyDays            int64   `bigquery:"recency_days"`
	Frequency              int64   `bigquery:"frequency"`
	Monetary               float64 `bigquery:"monetary"`
	CustomerLifetimeDays   int64   `bigquery:"customer_lifetime_days"`
	AvgDaysBetweenOrders   float64 `bigquery:"avg_days_between_orders"`
	AvgOrderValue          float64 `bigquery:"avg_order_value"`
	ProductDiversityRatio  float64 `bigquery:"product_diversity_ratio"`
	CategoryDiversityRatio float64 `bigquery:"category_diversity_ratio"`

	ChurnRisk string             `bigquery:"churn_risk"`
	Cluster   bigquery.NullInt64 `bigquery:"cluster"` // NULLABLE

	RunID string `bigquery:"run_id"`
}

// NewFeatureRow maps a customer record to its BigQuery row.
func NewFeatureRow(runID string, r *features.CustomerFeatures) *FeatureRow {
	row := &FeatureRow{
		CustomerUniqueID:       r.CustomerUniqueID,
		TotalOrders:            int64(r.TotalOrders),
		FirstOrderDate:         civil.DateTimeOf(r.FirstOrderDate.UTC()),
		LastOrderDate:          civil.DateTimeOf(r.LastOrderDate.UTC()),
		TotalPrice:             r.TotalPrice,
		AvgPrice:               r.AvgPrice,
		StdPrice:               r.StdPrice,
		TotalFreight:           r.TotalFreight,
		AvgFreight:             r.AvgFreight,
		TotalPayment:           r.TotalPayment,
		AvgPayment:             r.AvgPayment,
		StdPayment:             r.StdPayment,
		UniqueProducts:         int64(r.UniqueProducts),
		UniqueCategories:       int64(r.UniqueCategories),
		AvgReviewScore:         r.AvgReviewScore,
		TotalReviewComments:    int64(r.TotalReviewComments),
		AvgPaymentMethods:      r.AvgPaymentMethods,
		MaxInstallments:        int64(r.MaxInstallments),
		CustomerCity:           r.CustomerCity,
		CustomerState:          r.CustomerState,
		CustomerZipCodePrefix:  r.CustomerZipCodePrefix,
		RecencyDays:            int64(r.RecencyDays),
		Frequency:              int64(r.Frequency),
		Monetary:               r.Monetary,
		CustomerLifetimeDays:   int64(r.CustomerLifetimeDays),
		AvgDaysBetweenOrders:   r.AvgDaysBetweenOrders,
		AvgOrderValue:          r.AvgOrderValue,
		ProductDiversityRatio:  r.ProductDiversityRatio,
		CategoryDiversityRatio: r.CategoryDiversityRatio,
		ChurnRisk:              r.ChurnRisk,
		RunID:                  runID,
	}
	if r.Cluster != nil {
		row.Cluster = bigquery.NullInt64{Int64: int64(*r.Cluster), Valid: true}
	}
	return row
}

// stagingTableName derives a per-run table name that is a valid BigQuery
// identifier.
func stagingTableName(runID string) string {
	return featuresTable + "_staging_" + strings.ReplaceAll(runID, "-", "_")
}

// ReplaceFeatures publishes records as the new customer_features table.
func (c *Client) ReplaceFeatures(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
	st, err := c.Stage(ctx, runID, records)
	if err != nil {
		return err
	}
	defer st.Discard(context.WithoutCancel(ctx))
	return st.Commit(ctx)
}

// Stage implements pipeline.StagingSink. Rows go to a per-run staging table;
// Commit swaps the live table in one CREATE OR REPLACE statement, so readers
// never see a partial table.
func (c *Client) Stage(ctx context.Context, runID string, records []*features.CustomerFeatures) (pipeline.StagedTable, error) {
	schema, err := bigquery.InferSchema(FeatureRow{})
	if err != nil {
		return nil, fmt.Errorf("ReplaceFeatures: inferring schema: %w", err)
	}

	staging := c.client.Dataset(c.dataset).Table(stagingTableName(runID))
	if err := staging.Create(ctx, &bigquery.TableMetadata{
		Schema:         schema,
		ExpirationTime: time.Now().Add(stagingExpiry),
	}); err != nil {
		return nil, fmt.Errorf("ReplaceFeatures: creating staging table: %w", err)
	}
	st := &stagedFeatures{c: c, staging: staging, rows: len(records)}

	rows := make([]*FeatureRow, len(records))
	for i, r := range records {
		rows[i] = NewFeatureRow(runID, r)
	}
	inserter := staging.Inserter()
	for start := 0; start < len(rows); start += insertBatch {
		end := min(start+insertBatch, len(rows))
		if err := inserter.Put(ctx, rows[start:end]); err != nil {
			st.Discard(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("ReplaceFeatures: inserting rows %d-%d: %w", start, end, err)
		}
	}
	return st, nil
}

type stagedFeatures struct {
	c       *Client
	staging *bigquery.Table
	rows    int
}

func (st *stagedFeatures) Commit(ctx context.Context) error {
	q := st.c.client.Query(fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM %s",
		st.c.table(featuresTable), st.c.table(st.staging.TableID),
	))
	if err := runQuery(ctx, q, "ReplaceFeatures"); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("table", featuresTable).
		Int("rows", st.rows).
		Msg("Replaced BigQuery feature table")
	return nil
}

// Discard deletes the staging table. Its expiry covers a failed delete.
func (st *stagedFeatures) Discard(ctx context.Context) {
	if err := st.staging.Delete(ctx); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("table", st.staging.TableID).Msg("Failed to drop staging table")
	}
}
