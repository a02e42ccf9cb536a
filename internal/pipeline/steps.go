package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/logger"
	"github.com/dvloznov/churn-analytics/internal/segment"
)

// PipelineStep represents a single step in the feature build.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	RunID  string
	Source string

	Tables      *dataset.Tables
	Facts       []features.FactRow
	Integration features.IntegrationStats
	Records     []*features.CustomerFeatures
	Thresholds  churn.Thresholds
	Segments    *segment.Result
	Impact      churn.ImpactReport
	Published   []string
}

// Step 1: LoadTablesStep reads the raw snapshot.
type LoadTablesStep struct {
	Loader dataset.TableLoader
}

func (s *LoadTablesStep) Execute(ctx context.Context, state *PipelineState) error {
	tables, err := s.Loader.LoadTables(ctx)
	if err != nil {
		return err
	}
	state.Tables = tables
	return nil
}

// Step 2: IntegrateStep joins the raw tables into order-item fact rows.
type IntegrateStep struct{}

func (s *IntegrateStep) Execute(ctx context.Context, state *PipelineState) error {
	facts, stats, err := features.Integrate(state.Tables)
	if err != nil {
		return err
	}
	state.Facts = facts
	state.Integration = stats

	log := logger.FromContext(ctx)
	log.Info().
		Int("orders", stats.Orders).
		Int("fact_rows", stats.FactRows).
		Int("orders_without_items", stats.OrdersWithoutItems).
		Int("unresolved_customers", stats.UnresolvedCustomers).
		Int("missing_timestamp", stats.MissingTimestamp).
		Int("unknown_products", stats.UnknownProducts).
		Msg("Integrated raw tables")

	// Raw tables are no longer needed once joined.
	state.Tables = nil
	return nil
}

// Step 3: AggregateStep reduces fact rows to customer features. Without a
// configured cutoff, recency is measured from the latest purchase in the
// orders table.
type AggregateStep struct {
	Options features.AggregateOptions
}

func (s *AggregateStep) Execute(ctx context.Context, state *PipelineState) error {
	opts := s.Options
	if opts.Cutoff.IsZero() {
		opts.Cutoff = state.Integration.LatestPurchase
	}
	records, err := features.Aggregate(ctx, state.Facts, opts)
	if err != nil {
		return err
	}
	state.Records = records
	state.Facts = nil
	return nil
}

// Step 4: LabelStep assigns churn-risk labels.
type LabelStep struct {
	Workers int
}

func (s *LabelStep) Execute(ctx context.Context, state *PipelineState) error {
	th, err := churn.Label(ctx, state.Records, s.Workers)
	if err != nil {
		return err
	}
	state.Thresholds = th
	return nil
}

// Step 5 (optional): SegmentStep clusters customers.
type SegmentStep struct {
	Options segment.Options
}

func (s *SegmentStep) Execute(ctx context.Context, state *PipelineState) error {
	res, err := segment.Assign(ctx, state.Records, s.Options)
	if err != nil {
		return err
	}
	state.Segments = &res
	return nil
}

// Step 6: SummarizeStep computes the business impact of the labels.
type SummarizeStep struct{}

func (s *SummarizeStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Impact = churn.Impact(state.Records)
	log := logger.FromContext(ctx)
	log.Info().
		Int("customers", state.Impact.TotalCustomers).
		Float64("total_revenue", state.Impact.TotalRevenue).
		Float64("revenue_at_risk", state.Impact.RevenueAtRisk).
		Float64("revenue_at_risk_pct", state.Impact.RevenueAtRiskPct).
		Msg("Computed business impact")
	return nil
}

// Step 7: PublishStep replaces the feature table in every sink. All sinks
// stage first; commits start only when every sink has staged, so a failed
// upload or insert leaves every sink on its previous table.
type PublishStep struct {
	Sinks []FeatureSink
}

func (s *PublishStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	staged := make([]StagedTable, 0, len(s.Sinks))
	defer func() {
		for _, st := range staged {
			st.Discard(context.WithoutCancel(ctx))
		}
	}()
	for _, sink := range s.Sinks {
		st, err := Stage(ctx, sink, state.RunID, state.Records)
		if err != nil {
			return fmt.Errorf("stage %s: %w", sink.Name(), err)
		}
		staged = append(staged, st)
	}

	for i, st := range staged {
		name := s.Sinks[i].Name()
		if err := st.Commit(ctx); err != nil {
			return fmt.Errorf("publish to %s: %w", name, err)
		}
		state.Published = append(state.Published, name)
		log.Info().
			Str("sink", name).
			Int("customers", len(state.Records)).
			Msg("Published feature table")
	}
	return nil
}
