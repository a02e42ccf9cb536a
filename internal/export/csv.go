// Package export publishes the feature table as a CSV file, locally or to
// Cloud Storage.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/gcs"
	"github.com/dvloznov/churn-analytics/internal/logger"
	"github.com/dvloznov/churn-analytics/internal/pipeline"
)

var _ pipeline.StagingSink = (*CSVSink)(nil)

// CSVSink writes the feature table to a local path or a gs:// URI. The table
// is staged (a temp file or a staging object) and moved over the target on
// commit, so readers never see a partial table.
type CSVSink struct {
	target  string
	objects gcs.ObjectStore
}

// NewCSVSink creates a sink for target. objects may be nil for local
// targets.
func NewCSVSink(target string, objects gcs.ObjectStore) (*CSVSink, error) {
	if target == "" {
		return nil, fmt.Errorf("NewCSVSink: empty target")
	}
	if gcs.IsURI(target) {
		if _, _, err := gcs.ParseURI(target); err != nil {
			return nil, fmt.Errorf("NewCSVSink: %w", err)
		}
		if objects == nil {
			return nil, fmt.Errorf("NewCSVSink: %s needs a storage client", target)
		}
	}
	return &CSVSink{target: target, objects: objects}, nil
}

func (s *CSVSink) Name() string {
	return "csv"
}

// Target returns where the sink writes.
func (s *CSVSink) Target() string {
	return s.target
}

// ReplaceFeatures implements pipeline.FeatureSink.
func (s *CSVSink) ReplaceFeatures(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
	st, err := s.Stage(ctx, runID, records)
	if err != nil {
		return err
	}
	defer st.Discard(context.WithoutCancel(ctx))
	return st.Commit(ctx)
}

// Stage implements pipeline.StagingSink. The table is written next to the
// target, as a temp file or a per-run staging object, and moved into place
// on Commit.
func (s *CSVSink) Stage(ctx context.Context, runID string, records []*features.CustomerFeatures) (pipeline.StagedTable, error) {
	if gcs.IsURI(s.target) {
		staging := s.target + ".staging-" + runID
		if err := s.writeObject(ctx, staging, records); err != nil {
			return nil, err
		}
		return &stagedObject{objects: s.objects, staging: staging, target: s.target}, nil
	}
	tmp, err := s.writeTemp(records)
	if err != nil {
		return nil, err
	}
	return &stagedFile{tmp: tmp, target: s.target}, nil
}

func (s *CSVSink) writeObject(ctx context.Context, uri string, records []*features.CustomerFeatures) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.objects.Create(ctx, uri, "text/csv")
	if err != nil {
		return fmt.Errorf("ReplaceFeatures: %w", err)
	}
	if err := features.WriteCSV(w, records); err != nil {
		// Cancelling before Close discards the partial object.
		cancel()
		_ = w.Close()
		return fmt.Errorf("ReplaceFeatures: %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("ReplaceFeatures: finalize %s: %w", uri, err)
	}
	return nil
}

func (s *CSVSink) writeTemp(records []*features.CustomerFeatures) (string, error) {
	dir := filepath.Dir(s.target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ReplaceFeatures: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".features-*.csv")
	if err != nil {
		return "", fmt.Errorf("ReplaceFeatures: temp file: %w", err)
	}
	fail := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}

	if err := features.WriteCSV(tmp, records); err != nil {
		return fail(fmt.Errorf("ReplaceFeatures: %s: %w", s.target, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("ReplaceFeatures: sync: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ReplaceFeatures: close: %w", err)
	}
	return tmp.Name(), nil
}

type stagedFile struct {
	tmp, target string
}

func (f *stagedFile) Commit(ctx context.Context) error {
	if err := os.Rename(f.tmp, f.target); err != nil {
		return fmt.Errorf("ReplaceFeatures: rename to %s: %w", f.target, err)
	}
	return nil
}

// Discard removes the temp file; after Commit it no longer exists.
func (f *stagedFile) Discard(ctx context.Context) {
	os.Remove(f.tmp)
}

type stagedObject struct {
	objects         gcs.ObjectStore
	staging, target string
}

// Commit copies the staging object over the target. GCS has no rename; the
// copy is server side and the target switches in one step.
func (o *stagedObject) Commit(ctx context.Context) error {
	if err := o.objects.Copy(ctx, o.staging, o.target); err != nil {
		return fmt.Errorf("ReplaceFeatures: %w", err)
	}
	return nil
}

func (o *stagedObject) Discard(ctx context.Context) {
	if err := o.objects.Delete(ctx, o.staging); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("object", o.staging).Msg("Failed to delete staging object")
	}
}
