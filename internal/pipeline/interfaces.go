package pipeline

import (
	"context"

	"github.com/dvloznov/churn-analytics/internal/features"
)

// RunTracker records the lifecycle of a feature build in a run table.
type RunTracker interface {
	// StartRun inserts a run row with status RUNNING.
	StartRun(ctx context.Context, runID, source string) error
	// MarkRunSucceeded sets status SUCCESS and the published customer count.
	MarkRunSucceeded(ctx context.Context, runID string, customers int) error
	// MarkRunFailed sets status FAILED. Failures to record are only logged.
	MarkRunFailed(ctx context.Context, runID string, runErr error)
}

// FeatureSink publishes a complete feature table, replacing whatever the
// destination held before.
type FeatureSink interface {
	Name() string
	ReplaceFeatures(ctx context.Context, runID string, records []*features.CustomerFeatures) error
}

// StagedTable is a feature table written to a sink but not yet visible to
// the sink's readers.
type StagedTable interface {
	// Commit makes the staged table the live one.
	Commit(ctx context.Context) error
	// Discard drops the staged table. It is a no-op after Commit.
	Discard(ctx context.Context)
}

// StagingSink is a FeatureSink that splits publishing into a slow Stage
// (upload, insert) and a quick Commit (rename, swap).
type StagingSink interface {
	FeatureSink
	Stage(ctx context.Context, runID string, records []*features.CustomerFeatures) (StagedTable, error)
}

// deferredTable stages nothing; Commit does the whole replace.
type deferredTable struct {
	sink    FeatureSink
	runID   string
	records []*features.CustomerFeatures
}

func (d *deferredTable) Commit(ctx context.Context) error {
	return d.sink.ReplaceFeatures(ctx, d.runID, d.records)
}

func (d *deferredTable) Discard(context.Context) {}

// Stage stages records in sink, or defers the whole replace to Commit for
// sinks that cannot stage.
func Stage(ctx context.Context, sink FeatureSink, runID string, records []*features.CustomerFeatures) (StagedTable, error) {
	if ss, ok := sink.(StagingSink); ok {
		return ss.Stage(ctx, runID, records)
	}
	return &deferredTable{sink: sink, runID: runID, records: records}, nil
}

// NopRunTracker discards run tracking.
type NopRunTracker struct{}

func (NopRunTracker) StartRun(context.Context, string, string) error {
	return nil
}

func (NopRunTracker) MarkRunSucceeded(context.Context, string, int) error {
	return nil
}

func (NopRunTracker) MarkRunFailed(context.Context, string, error) {}

// MultiTracker fans run tracking out to several run tables. StartRun and
// MarkRunSucceeded stop at the first error.
type MultiTracker []RunTracker

func (m MultiTracker) StartRun(ctx context.Context, runID, source string) error {
	for _, t := range m {
		if err := t.StartRun(ctx, runID, source); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiTracker) MarkRunSucceeded(ctx context.Context, runID string, customers int) error {
	for _, t := range m {
		if err := t.MarkRunSucceeded(ctx, runID, customers); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiTracker) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	for _, t := range m {
		t.MarkRunFailed(ctx, runID, runErr)
	}
}
