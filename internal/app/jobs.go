package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/jobs"
	"github.com/dvloznov/churn-analytics/internal/logger"
	"github.com/dvloznov/churn-analytics/internal/pipeline"
)

// JobHandler runs queued feature builds. Every attempt gets a fresh run id.
// Failures that a retry cannot fix are marked permanent.
func (rt *Runtime) JobHandler() jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		build, ok := job.(*jobs.BuildFeaturesJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
		}
		build.RunID = uuid.NewString()

		log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
			"job_id": build.JobID,
			"run_id": build.RunID,
		})
		ctx = logger.WithContext(ctx, log)

		deps, err := rt.Deps(BuildOptions{RunID: build.RunID, Cutoff: build.Cutoff})
		if err != nil {
			return jobs.Permanent(err)
		}
		ctx, cancel := context.WithTimeout(ctx, rt.Config.BuildTimeout())
		defer cancel()

		log.Info().Str("source", deps.Source).Msg("Processing build job")
		state, err := pipeline.BuildFeatureTable(ctx, deps)
		if err != nil {
			if isPermanent(err) {
				return jobs.Permanent(err)
			}
			return err
		}
		build.Customers = len(state.Records)
		return nil
	}
}

func isPermanent(err error) bool {
	var missing *dataset.MissingInputError
	var empty *churn.EmptyPopulationError
	return errors.As(err, &missing) || errors.As(err, &empty)
}
