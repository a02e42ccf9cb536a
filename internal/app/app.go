// Package app wires configuration to the concrete loaders, sinks and run
// trackers shared by the CLI and the API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/churn-analytics/internal/config"
	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/export"
	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/gcs"
	infraBQ "github.com/dvloznov/churn-analytics/internal/infra/bigquery"
	"github.com/dvloznov/churn-analytics/internal/pipeline"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

// Runtime holds the backends opened for one process.
type Runtime struct {
	Config *config.Config

	// Store is nil when the SQLite sink is disabled.
	Store *sqlite.Store
	// BigQuery is nil unless the BigQuery source or sink is configured.
	BigQuery *infraBQ.Client
	// Objects is nil unless a gs:// source or CSV target is configured.
	Objects gcs.ObjectStore

	closers []func() error
}

// Open connects to every backend cfg refers to.
func Open(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	if cfg.Sinks.SQLite != "" {
		store, err := sqlite.Open(ctx, cfg.Sinks.SQLite)
		if err != nil {
			return nil, err
		}
		rt.Store = store
		rt.closers = append(rt.closers, store.Close)
	}

	if cfg.Sinks.BigQuery || cfg.Source == config.SourceBigQuery {
		client, err := infraBQ.NewClient(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, cfg.BigQuery.RawDataset)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.BigQuery = client
		rt.closers = append(rt.closers, client.Close)
	}

	if gcs.IsURI(cfg.Source) || gcs.IsURI(cfg.Sinks.CSV) {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Objects = client
		rt.closers = append(rt.closers, client.Close)
	}

	return rt, nil
}

// Close releases every backend, in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Loader returns the table loader for source: "bigquery", a gs:// prefix,
// or a local directory.
func (rt *Runtime) Loader(source string) (dataset.TableLoader, error) {
	switch {
	case source == config.SourceBigQuery:
		if rt.BigQuery == nil {
			return nil, fmt.Errorf("bigquery source requested but BigQuery is not configured")
		}
		return rt.BigQuery, nil
	case gcs.IsURI(source):
		if rt.Objects == nil {
			return nil, fmt.Errorf("gs:// source requested but no storage client is open")
		}
		src, err := gcs.NewTableSource(rt.Objects, source)
		if err != nil {
			return nil, err
		}
		return dataset.NewCSVLoader(src), nil
	case strings.TrimSpace(source) == "":
		return nil, fmt.Errorf("no source configured")
	default:
		return dataset.NewCSVLoader(dataset.DirSource{Dir: source}), nil
	}
}

// Sinks returns the configured feature sinks in publish order: CSV, SQLite,
// BigQuery.
func (rt *Runtime) Sinks() ([]pipeline.FeatureSink, error) {
	var sinks []pipeline.FeatureSink
	if rt.Config.Sinks.CSV != "" {
		csvSink, err := export.NewCSVSink(rt.Config.Sinks.CSV, rt.Objects)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csvSink)
	}
	if rt.Store != nil {
		sinks = append(sinks, rt.Store)
	}
	if rt.Config.Sinks.BigQuery && rt.BigQuery != nil {
		sinks = append(sinks, rt.BigQuery)
	}
	return sinks, nil
}

// Tracker records runs in every run table that is available.
func (rt *Runtime) Tracker() pipeline.RunTracker {
	var trackers pipeline.MultiTracker
	if rt.Store != nil {
		trackers = append(trackers, rt.Store)
	}
	if rt.Config.Sinks.BigQuery && rt.BigQuery != nil {
		trackers = append(trackers, rt.BigQuery)
	}
	if len(trackers) == 0 {
		return pipeline.NopRunTracker{}
	}
	return trackers
}

// BuildOptions override the configured cutoff for one build. The raw-data
// source always comes from the configuration.
type BuildOptions struct {
	RunID  string
	Cutoff string
}

// Deps assembles the pipeline dependencies for one build.
func (rt *Runtime) Deps(opts BuildOptions) (pipeline.Deps, error) {
	source := rt.Config.Source
	cutoffStr := opts.Cutoff
	if cutoffStr == "" {
		cutoffStr = rt.Config.Cutoff
	}

	var agg features.AggregateOptions
	if cutoffStr != "" {
		cutoff, err := config.ParseCutoff(cutoffStr)
		if err != nil {
			return pipeline.Deps{}, err
		}
		agg.Cutoff = cutoff
	}

	loader, err := rt.Loader(source)
	if err != nil {
		return pipeline.Deps{}, err
	}
	sinks, err := rt.Sinks()
	if err != nil {
		return pipeline.Deps{}, err
	}

	return pipeline.Deps{
		RunID:     opts.RunID,
		Source:    source,
		Loader:    loader,
		Tracker:   rt.Tracker(),
		Sinks:     sinks,
		Aggregate: agg,
		Workers:   rt.Config.Workers,
		Segments:  rt.Config.Segments,
	}, nil
}
