package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/jobs"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

type otherJob struct{}

func (otherJob) GetID() string { return "x" }
func (otherJob) GetType() jobs.JobType { return "other" }
func (otherJob) GetStatus() jobs.JobStatus { return "" }

func writeSnapshot(t *testing.T, dir string, skip dataset.Table) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for table, body := range snapshot {
		if table == skip {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, table.FileName()), []byte(body), 0o644))
	}
}

func TestJobHandler_Success(t *testing.T) {
	cfg := localConfig(t)
	writeSnapshot(t, cfg.Source, "")
	rt, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer rt.Close()

	job := &jobs.BuildFeaturesJob{JobID: "job-1"}
	require.NoError(t, rt.JobHandler()(context.Background(), job))

	assert.NotEmpty(t, job.RunID)
	assert.Equal(t, 4, job.Customers)
	run, err := rt.Store.GetRun(context.Background(), job.RunID)
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusSuccess, run.Status)
}

func TestJobHandler_FreshRunIDPerAttempt(t *testing.T) {
	cfg := localConfig(t)
	writeSnapshot(t, cfg.Source, "")
	rt, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer rt.Close()

	handler := rt.JobHandler()
	job := &jobs.BuildFeaturesJob{JobID: "job-1"}
	require.NoError(t, handler(context.Background(), job))
	first := job.RunID
	require.NoError(t, handler(context.Background(), job))
	assert.NotEqual(t, first, job.RunID)
}

func TestJobHandler_PermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		job  jobs.Job
		skip dataset.Table
	}{
		{name: "wrong job type", job: otherJob{}},
		{name: "bad cutoff", job: &jobs.BuildFeaturesJob{JobID: "j", Cutoff: "tomorrow"}},
		{name: "missing table", job: &jobs.BuildFeaturesJob{JobID: "j"}, skip: dataset.TableOrders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig(t)
			writeSnapshot(t, cfg.Source, tt.skip)
			rt, err := Open(context.Background(), cfg)
			require.NoError(t, err)
			defer rt.Close()

			err = rt.JobHandler()(context.Background(), tt.job)
			require.Error(t, err)
			assert.True(t, jobs.IsPermanent(err), "error %v should be permanent", err)
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(fmt.Errorf("wrap: %w", &dataset.MissingInputError{Table: dataset.TableOrders})))
	assert.True(t, isPermanent(&churn.EmptyPopulationError{}))
	assert.False(t, isPermanent(context.DeadlineExceeded))
}
