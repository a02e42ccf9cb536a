// Package pipeline builds the customer feature table: load the raw snapshot,
// integrate, aggregate, label, optionally segment, and publish to sinks.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/logger"
	"github.com/dvloznov/churn-analytics/internal/segment"
)

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d: %w", i+1, err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Deps are the collaborators and settings of a feature build.
type Deps struct {
	// RunID identifies the run; a new UUID is generated when empty.
	RunID string
	// Source describes where the snapshot came from, for the run table.
	Source  string
	Loader  dataset.TableLoader
	Tracker RunTracker
	Sinks   []FeatureSink

	Aggregate features.AggregateOptions
	Workers   int
	// Segments is k for k-means; 0 skips segmentation.
	Segments int
}

// NewFeaturePipeline creates the standard build pipeline. Every compute step
// runs before the publish step, so a failed run publishes nothing.
func NewFeaturePipeline(deps Deps) *Pipeline {
	steps := []PipelineStep{
		&LoadTablesStep{Loader: deps.Loader},
		&IntegrateStep{},
		&AggregateStep{Options: deps.Aggregate},
		&LabelStep{Workers: deps.Workers},
	}
	if deps.Segments > 0 {
		steps = append(steps, &SegmentStep{Options: segment.Options{K: deps.Segments}})
	}
	steps = append(steps,
		&SummarizeStep{},
		&PublishStep{Sinks: deps.Sinks},
	)
	return NewPipeline(steps...)
}

// BuildFeatureTable runs a complete, tracked feature build and returns the
// final pipeline state.
func BuildFeatureTable(ctx context.Context, deps Deps) (*PipelineState, error) {
	if deps.Loader == nil {
		return nil, fmt.Errorf("BuildFeatureTable: no table loader")
	}
	if deps.Tracker == nil {
		deps.Tracker = NopRunTracker{}
	}
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}
	if deps.Aggregate.Workers == 0 {
		deps.Aggregate.Workers = deps.Workers
	}

	ctx = logger.WithRun(ctx, deps.RunID)
	log := logger.FromContext(ctx)

	if err := deps.Tracker.StartRun(ctx, deps.RunID, deps.Source); err != nil {
		return nil, fmt.Errorf("BuildFeatureTable: start run: %w", err)
	}
	log.Info().Str("source", deps.Source).Int("sinks", len(deps.Sinks)).Msg("Feature build started")

	state := &PipelineState{RunID: deps.RunID, Source: deps.Source}
	if err := NewFeaturePipeline(deps).Execute(ctx, state); err != nil {
		deps.Tracker.MarkRunFailed(ctx, deps.RunID, err)
		log.Error().Err(err).Msg("Feature build failed")
		return state, err
	}

	if err := deps.Tracker.MarkRunSucceeded(ctx, deps.RunID, len(state.Records)); err != nil {
		return state, fmt.Errorf("BuildFeatureTable: mark run succeeded: %w", err)
	}
	log.Info().
		Int("customers", len(state.Records)).
		Strs("published", state.Published).
		Msg("Feature build finished")
	return state, nil
}
