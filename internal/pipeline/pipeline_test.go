package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/pipeline"
)

// MockTableLoader is a mock implementation of dataset.TableLoader.
type MockTableLoader struct {
	LoadTablesFunc func(ctx context.Context) (*dataset.Tables, error)
}

func (m *MockTableLoader) LoadTables(ctx context.Context) (*dataset.Tables, error) {
	if m.LoadTablesFunc != nil {
		return m.LoadTablesFunc(ctx)
	}
	return snapshot(8), nil
}

// MockRunTracker is a mock implementation of pipeline.RunTracker.
type MockRunTracker struct {
	StartRunFunc         func(ctx context.Context, runID, source string) error
	MarkRunSucceededFunc func(ctx context.Context, runID string, customers int) error
	MarkRunFailedFunc    func(ctx context.Context, runID string, runErr error)
}

func (m *MockRunTracker) StartRun(ctx context.Context, runID, source string) error {
	if m.StartRunFunc != nil {
		return m.StartRunFunc(ctx, runID, source)
	}
	return nil
}

func (m *MockRunTracker) MarkRunSucceeded(ctx context.Context, runID string, customers int) error {
	if m.MarkRunSucceededFunc != nil {
		return m.MarkRunSucceededFunc(ctx, runID, customers)
	}
	return nil
}

func (m *MockRunTracker) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	if m.MarkRunFailedFunc != nil {
		m.MarkRunFailedFunc(ctx, runID, runErr)
	}
}

// MockFeatureSink is a mock implementation of pipeline.FeatureSink.
type MockFeatureSink struct {
	NameValue           string
	ReplaceFeaturesFunc func(ctx context.Context, runID string, records []*features.CustomerFeatures) error
	Calls               int
}

func (m *MockFeatureSink) Name() string {
	return m.NameValue
}

func (m *MockFeatureSink) ReplaceFeatures(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
	m.Calls++
	if m.ReplaceFeaturesFunc != nil {
		return m.ReplaceFeaturesFunc(ctx, runID, records)
	}
	return nil
}

// MockStagingSink is a mock implementation of pipeline.StagingSink that
// records every phase into a shared event list.
type MockStagingSink struct {
	NameValue string
	StageErr  error
	CommitErr error
	Events    *[]string
}

func (m *MockStagingSink) Name() string {
	return m.NameValue
}

func (m *MockStagingSink) ReplaceFeatures(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
	*m.Events = append(*m.Events, m.NameValue+":replace")
	return nil
}

func (m *MockStagingSink) Stage(ctx context.Context, runID string, records []*features.CustomerFeatures) (pipeline.StagedTable, error) {
	*m.Events = append(*m.Events, m.NameValue+":stage")
	if m.StageErr != nil {
		return nil, m.StageErr
	}
	return &mockStaged{sink: m}, nil
}

type mockStaged struct {
	sink      *MockStagingSink
	committed bool
}

func (s *mockStaged) Commit(ctx context.Context) error {
	*s.sink.Events = append(*s.sink.Events, s.sink.NameValue+":commit")
	if s.sink.CommitErr != nil {
		return s.sink.CommitErr
	}
	s.committed = true
	return nil
}

func (s *mockStaged) Discard(ctx context.Context) {
	if !s.committed {
		*s.sink.Events = append(*s.sink.Events, s.sink.NameValue+":discard")
	}
}

func fp(v float64) *float64 { return &v }

// snapshot builds n customers with one order each, spaced ten days apart,
// with spend growing per customer.
func snapshot(n int) *dataset.Tables {
	base := time.Date(2018, 1, 1, 12, 0, 0, 0, time.UTC)
	t := &dataset.Tables{
		Customers:  []dataset.Customer{},
		Orders:     []dataset.Order{},
		OrderItems: []dataset.OrderItem{},
		Payments:   []dataset.Payment{},
		Reviews:    []dataset.Review{},
		Products:   []dataset.Product{{ProductID: "p1", CategoryName: "esporte_lazer"}},
	}
	for i := 0; i < n; i++ {
		cid := fmt.Sprintf("c%d", i)
		oid := fmt.Sprintf("o%d", i)
		ts := base.AddDate(0, 0, 10*i)
		t.Customers = append(t.Customers, dataset.Customer{CustomerID: cid, CustomerUniqueID: fmt.Sprintf("u%02d", i), State: "SP"})
		t.Orders = append(t.Orders, dataset.Order{OrderID: oid, CustomerID: cid, PurchaseTimestamp: &ts})
		t.OrderItems = append(t.OrderItems, dataset.OrderItem{OrderID: oid, OrderItemID: 1, ProductID: "p1", Price: fp(float64(10 * (i + 1)))})
		t.Payments = append(t.Payments, dataset.Payment{OrderID: oid, PaymentSequential: 1, PaymentValue: fp(float64(10 * (i + 1)))})
		if i%2 == 0 {
			t.Reviews = append(t.Reviews, dataset.Review{OrderID: oid, ReviewScore: fp(5)})
		}
	}
	return t
}

func TestBuildFeatureTable_Success(t *testing.T) {
	var started, succeeded string
	var succeededCount int
	tracker := &MockRunTracker{
		StartRunFunc: func(ctx context.Context, runID, source string) error {
			started = runID
			assert.Equal(t, "test-source", source)
			return nil
		},
		MarkRunSucceededFunc: func(ctx context.Context, runID string, customers int) error {
			succeeded = runID
			succeededCount = customers
			return nil
		},
		MarkRunFailedFunc: func(ctx context.Context, runID string, runErr error) {
			t.Errorf("unexpected failure: %v", runErr)
		},
	}

	var published []*features.CustomerFeatures
	csvSink := &MockFeatureSink{NameValue: "csv", ReplaceFeaturesFunc: func(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
		published = records
		assert.Equal(t, started, runID)
		return nil
	}}
	sqliteSink := &MockFeatureSink{NameValue: "sqlite"}

	state, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{
		Source:  "test-source",
		Loader:  &MockTableLoader{},
		Tracker: tracker,
		Sinks:   []pipeline.FeatureSink{csvSink, sqliteSink},
		Workers: 3,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, started)
	assert.Equal(t, started, succeeded)
	assert.Equal(t, 8, succeededCount)
	assert.Equal(t, []string{"csv", "sqlite"}, state.Published)
	assert.Equal(t, 1, sqliteSink.Calls)

	require.Len(t, published, 8)
	for _, r := range published {
		_, ok := churn.ParseRiskLevel(r.ChurnRisk)
		assert.True(t, ok, "customer %s labeled %q", r.CustomerUniqueID, r.ChurnRisk)
		assert.Nil(t, r.Cluster, "segmentation disabled")
	}
	assert.Equal(t, 8, state.Impact.TotalCustomers)
	assert.Nil(t, state.Facts, "fact rows are released after aggregation")
}

func TestBuildFeatureTable_UsesGivenRunIDAndSegments(t *testing.T) {
	sink := &MockFeatureSink{NameValue: "mem"}
	state, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{
		RunID:    "run-1",
		Loader:   &MockTableLoader{},
		Sinks:    []pipeline.FeatureSink{sink},
		Segments: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", state.RunID)
	require.NotNil(t, state.Segments)
	assert.Equal(t, 2, state.Segments.K)
	for _, r := range state.Records {
		require.NotNil(t, r.Cluster)
	}
}

func TestBuildFeatureTable_CutoffIncludesUnresolvedOrders(t *testing.T) {
	tables := snapshot(8)
	// c7 orders on day 70; an order from an unknown customer on day 100.
	late := time.Date(2018, 1, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, 100)
	tables.Orders = append(tables.Orders, dataset.Order{OrderID: "o-ghost", CustomerID: "ghost", PurchaseTimestamp: &late})

	state, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{
		Loader: &MockTableLoader{LoadTablesFunc: func(ctx context.Context) (*dataset.Tables, error) {
			return tables, nil
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, state.Integration.UnresolvedCustomers)
	assert.Equal(t, late, state.Integration.LatestPurchase)
	require.Len(t, state.Records, 8)
	for _, r := range state.Records {
		if r.CustomerUniqueID == "u07" {
			assert.Equal(t, 30, r.RecencyDays)
		}
	}
}

func TestBuildFeatureTable_MissingTable(t *testing.T) {
	var failedErr error
	tracker := &MockRunTracker{
		MarkRunFailedFunc: func(ctx context.Context, runID string, runErr error) {
			failedErr = runErr
		},
		MarkRunSucceededFunc: func(ctx context.Context, runID string, customers int) error {
			t.Error("run must not succeed")
			return nil
		},
	}
	loader := &MockTableLoader{LoadTablesFunc: func(ctx context.Context) (*dataset.Tables, error) {
		return nil, &dataset.MissingInputError{Table: dataset.TableOrders, Err: dataset.ErrTableNotFound}
	}}
	sink := &MockFeatureSink{NameValue: "csv"}

	_, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{
		Loader:  loader,
		Tracker: tracker,
		Sinks:   []pipeline.FeatureSink{sink},
	})
	require.Error(t, err)

	var missing *dataset.MissingInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, dataset.TableOrders, missing.Table)
	assert.Equal(t, err, failedErr)
	assert.Zero(t, sink.Calls, "nothing is published when a compute step fails")
}

func TestBuildFeatureTable_EmptyPopulation(t *testing.T) {
	loader := &MockTableLoader{LoadTablesFunc: func(ctx context.Context) (*dataset.Tables, error) {
		return snapshot(0), nil
	}}
	sink := &MockFeatureSink{NameValue: "csv"}

	_, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{Loader: loader, Sinks: []pipeline.FeatureSink{sink}})

	var empty *churn.EmptyPopulationError
	assert.True(t, errors.As(err, &empty))
	assert.Zero(t, sink.Calls)
}

func TestBuildFeatureTable_SinkFailure(t *testing.T) {
	failed := false
	tracker := &MockRunTracker{MarkRunFailedFunc: func(ctx context.Context, runID string, runErr error) {
		failed = true
	}}
	bad := &MockFeatureSink{NameValue: "bigquery", ReplaceFeaturesFunc: func(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
		return errors.New("quota exceeded")
	}}
	after := &MockFeatureSink{NameValue: "sqlite"}

	_, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{
		Loader:  &MockTableLoader{},
		Tracker: tracker,
		Sinks:   []pipeline.FeatureSink{bad, after},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to bigquery")
	assert.True(t, failed)
	assert.Zero(t, after.Calls)
}

func TestPublish_StagesEverySinkBeforeCommitting(t *testing.T) {
	var events []string
	csv := &MockStagingSink{NameValue: "csv", Events: &events}
	sqlite := &MockStagingSink{NameValue: "sqlite", Events: &events}
	plain := &MockFeatureSink{NameValue: "plain", ReplaceFeaturesFunc: func(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
		events = append(events, "plain:replace")
		return nil
	}}

	state, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{
		Loader: &MockTableLoader{},
		Sinks:  []pipeline.FeatureSink{csv, plain, sqlite},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"csv:stage", "sqlite:stage", "csv:commit", "plain:replace", "sqlite:commit"}, events)
	assert.Equal(t, []string{"csv", "plain", "sqlite"}, state.Published)
}

func TestPublish_StageFailureCommitsNothing(t *testing.T) {
	var events []string
	csv := &MockStagingSink{NameValue: "csv", Events: &events}
	plain := &MockFeatureSink{NameValue: "plain"}
	bq := &MockStagingSink{NameValue: "bigquery", StageErr: errors.New("quota exceeded"), Events: &events}

	_, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{
		Loader: &MockTableLoader{},
		Sinks:  []pipeline.FeatureSink{csv, plain, bq},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage bigquery")
	assert.Equal(t, []string{"csv:stage", "bigquery:stage", "csv:discard"}, events)
	assert.Zero(t, plain.Calls)
}

func TestPublish_CommitFailureDiscardsTheRest(t *testing.T) {
	var events []string
	csv := &MockStagingSink{NameValue: "csv", CommitErr: errors.New("rename failed"), Events: &events}
	sqlite := &MockStagingSink{NameValue: "sqlite", Events: &events}

	_, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{
		Loader: &MockTableLoader{},
		Sinks:  []pipeline.FeatureSink{csv, sqlite},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to csv")
	assert.Equal(t, []string{"csv:stage", "sqlite:stage", "csv:commit", "csv:discard", "sqlite:discard"}, events)
}

func TestBuildFeatureTable_StartRunError(t *testing.T) {
	tracker := &MockRunTracker{StartRunFunc: func(ctx context.Context, runID, source string) error {
		return errors.New("table not found")
	}}
	_, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{Loader: &MockTableLoader{}, Tracker: tracker})
	assert.Error(t, err)
}

func TestBuildFeatureTable_NoLoader(t *testing.T) {
	_, err := pipeline.BuildFeatureTable(context.Background(), pipeline.Deps{})
	assert.Error(t, err)
}

type stepFunc func(ctx context.Context, state *pipeline.PipelineState) error

func (f stepFunc) Execute(ctx context.Context, state *pipeline.PipelineState) error {
	return f(ctx, state)
}

func TestPipelineExecute_StopsAtFirstError(t *testing.T) {
	var ran []int
	step := func(n int, err error) pipeline.PipelineStep {
		return stepFunc(func(ctx context.Context, state *pipeline.PipelineState) error {
			ran = append(ran, n)
			return err
		})
	}

	boom := errors.New("boom")
	err := pipeline.NewPipeline(step(1, nil), step(2, boom), step(3, nil)).
		Execute(context.Background(), &pipeline.PipelineState{})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pipeline step 2 failed")
	assert.Equal(t, []int{1, 2}, ran)
}

func TestPipelineExecute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pipeline.NewPipeline(stepFunc(func(ctx context.Context, state *pipeline.PipelineState) error {
		t.Error("step must not run")
		return nil
	})).Execute(ctx, &pipeline.PipelineState{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMultiTracker(t *testing.T) {
	var order []string
	track := func(name string, startErr error) *MockRunTracker {
		return &MockRunTracker{
			StartRunFunc: func(ctx context.Context, runID, source string) error {
				order = append(order, name+":start")
				return startErr
			},
			MarkRunFailedFunc: func(ctx context.Context, runID string, runErr error) {
				order = append(order, name+":failed")
			},
		}
	}

	m := pipeline.MultiTracker{track("sqlite", nil), track("bigquery", nil)}
	require.NoError(t, m.StartRun(context.Background(), "r", "s"))
	m.MarkRunFailed(context.Background(), "r", errors.New("boom"))
	assert.Equal(t, []string{"sqlite:start", "bigquery:start", "sqlite:failed", "bigquery:failed"}, order)

	order = nil
	m = pipeline.MultiTracker{track("sqlite", errors.New("locked")), track("bigquery", nil)}
	assert.Error(t, m.StartRun(context.Background(), "r", "s"))
	assert.Equal(t, []string{"sqlite:start"}, order)
}
