package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/churn-analytics/internal/jobs"
)

func noBackoff(int) time.Duration { return 0 }

// waitForStatus polls the store until the job reaches status.
func waitForStatus(t *testing.T, store *Store, jobID string, status jobs.JobStatus) *jobs.BuildFeaturesJob {
	t.Helper()
	var job *jobs.BuildFeaturesJob
	require.Eventually(t, func() bool {
		var err error
		job, err = store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func startQueue(t *testing.T, handler jobs.JobHandler) (*Queue, *Store) {
	t.Helper()
	store := NewStore()
	q := NewQueue(4, 2, store).WithBackoff(noBackoff)
	require.NoError(t, q.Start(context.Background(), handler))
	t.Cleanup(func() { q.Close() })
	return q, store
}

func TestQueue_CompletesJob(t *testing.T) {
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.BuildFeaturesJob)
		j.RunID = "run-1"
		j.Customers = 10
		return nil
	})

	job := &jobs.BuildFeaturesJob{Cutoff: "2018-09-01"}
	require.NoError(t, q.PublishBuildFeatures(context.Background(), job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.DefaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, "run-1", done.RunID)
	assert.Equal(t, 10, done.Customers)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)
}

func TestQueue_CallerKeepsOwnJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(64, 4, store).WithBackoff(noBackoff)
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		job.(*jobs.BuildFeaturesJob).RunID = "run"
		return nil
	}))
	t.Cleanup(func() { q.Close() })

	// Workers update the queued job while the caller reads its own; run
	// with -race to catch shared state.
	published := make([]*jobs.BuildFeaturesJob, 50)
	for i := range published {
		job := &jobs.BuildFeaturesJob{}
		require.NoError(t, q.PublishBuildFeatures(context.Background(), job))
		assert.NotEmpty(t, job.JobID)
		assert.Equal(t, jobs.JobStatusPending, job.Status)
		published[i] = job
	}

	for _, job := range published {
		done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
		assert.Equal(t, "run", done.RunID)
		assert.Equal(t, jobs.JobStatusPending, job.Status, "caller copy is not touched by workers")
		assert.Empty(t, job.RunID)
	}
}

func TestQueue_RetriesTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		if attempts.Add(1) < 2 {
			return errors.New("backend unavailable")
		}
		return nil
	})

	job := &jobs.BuildFeaturesJob{}
	require.NoError(t, q.PublishBuildFeatures(context.Background(), job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		attempts.Add(1)
		return errors.New("still broken")
	})

	job := &jobs.BuildFeaturesJob{MaxRetries: 2}
	require.NoError(t, q.PublishBuildFeatures(context.Background(), job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "still broken", failed.Error)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestQueue_PermanentFailureIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		attempts.Add(1)
		return jobs.Permanent(errors.New("missing input table \"orders\""))
	})

	job := &jobs.BuildFeaturesJob{}
	require.NoError(t, q.PublishBuildFeatures(context.Background(), job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Zero(t, failed.RetryCount)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestQueue_PublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())
	assert.Error(t, q.PublishBuildFeatures(context.Background(), &jobs.BuildFeaturesJob{}))
	assert.Error(t, q.Start(context.Background(), func(context.Context, jobs.Job) error { return nil }))
	assert.NoError(t, q.Close(), "closing twice is a no-op")
}

func TestStore_ListJobsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		status := jobs.JobStatusCompleted
		if id == "b" {
			status = jobs.JobStatusFailed
		}
		require.NoError(t, s.SaveJob(ctx, &jobs.BuildFeaturesJob{JobID: id, Status: status, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID)
	assert.Equal(t, "a", all[2].JobID)

	failed, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].JobID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].JobID)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
	assert.Error(t, s.SaveJob(ctx, &jobs.BuildFeaturesJob{}))
}
