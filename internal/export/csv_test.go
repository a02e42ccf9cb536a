package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/churn-analytics/internal/features"
)

type fakeStore struct {
	created   map[string]string
	createErr error
}

type fakeWriter struct {
	bytes.Buffer
	ctx   context.Context
	store *fakeStore
	uri   string
}

func (w *fakeWriter) Close() error {
	if w.ctx.Err() != nil {
		return w.ctx.Err()
	}
	w.store.created[w.uri] = w.String()
	return nil
}

func (f *fakeStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) Create(ctx context.Context, uri, contentType string) (io.WriteCloser, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &fakeWriter{ctx: ctx, store: f, uri: uri}, nil
}

func (f *fakeStore) Copy(ctx context.Context, src, dst string) error {
	body, ok := f.created[src]
	if !ok {
		return errors.New("no such object")
	}
	f.created[dst] = body
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, uri string) error {
	delete(f.created, uri)
	return nil
}

func records() []*features.CustomerFeatures {
	ts := time.Date(2018, 1, 2, 3, 4, 5, 0, time.UTC)
	return []*features.CustomerFeatures{
		{CustomerUniqueID: "u1", TotalOrders: 1, Frequency: 1, FirstOrderDate: ts, LastOrderDate: ts, ChurnRisk: "Stable"},
		{CustomerUniqueID: "u2", TotalOrders: 2, Frequency: 2, FirstOrderDate: ts, LastOrderDate: ts, ChurnRisk: "High Risk"},
	}
}

func TestCSVSink_LocalFileReplaced(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out", "features.csv")
	sink, err := NewCSVSink(target, nil)
	require.NoError(t, err)
	assert.Equal(t, "csv", sink.Name())

	require.NoError(t, sink.ReplaceFeatures(context.Background(), "run-1", records()))
	require.NoError(t, sink.ReplaceFeatures(context.Background(), "run-2", records()[:1]))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "second run fully replaces the first")
	assert.True(t, strings.HasPrefix(lines[0], "customer_unique_id,total_orders,"))
	assert.True(t, strings.HasPrefix(lines[1], "u1,1,2018-01-02 03:04:05"))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCSVSink_GCS(t *testing.T) {
	store := &fakeStore{created: map[string]string{}}
	sink, err := NewCSVSink("gs://exports/churn/features.csv", store)
	require.NoError(t, err)

	require.NoError(t, sink.ReplaceFeatures(context.Background(), "run-1", records()))
	body := store.created["gs://exports/churn/features.csv"]
	assert.Contains(t, body, "u2,2,")
	assert.Contains(t, body, "High Risk")
	assert.Len(t, store.created, 1, "staging object is deleted")
}

func TestCSVSink_StageLocal(t *testing.T) {
	target := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, os.WriteFile(target, []byte("old\n"), 0o644))
	sink, err := NewCSVSink(target, nil)
	require.NoError(t, err)
	ctx := context.Background()

	st, err := sink.Stage(ctx, "run-1", records())
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data), "staging leaves the target alone")

	st.Discard(ctx)
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "discard removes the temp file")

	st, err = sink.Stage(ctx, "run-2", records())
	require.NoError(t, err)
	require.NoError(t, st.Commit(ctx))
	st.Discard(ctx)
	data, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "u2,2,")
}

func TestCSVSink_StageGCS(t *testing.T) {
	store := &fakeStore{created: map[string]string{"gs://exports/features.csv": "old"}}
	sink, err := NewCSVSink("gs://exports/features.csv", store)
	require.NoError(t, err)
	ctx := context.Background()

	st, err := sink.Stage(ctx, "run-1", records())
	require.NoError(t, err)
	assert.Equal(t, "old", store.created["gs://exports/features.csv"])
	assert.Contains(t, store.created, "gs://exports/features.csv.staging-run-1")

	st.Discard(ctx)
	assert.Equal(t, map[string]string{"gs://exports/features.csv": "old"}, store.created)
}

func TestCSVSink_GCSCreateError(t *testing.T) {
	store := &fakeStore{created: map[string]string{}, createErr: errors.New("permission denied")}
	sink, err := NewCSVSink("gs://exports/features.csv", store)
	require.NoError(t, err)

	err = sink.ReplaceFeatures(context.Background(), "run-1", records())
	assert.ErrorContains(t, err, "permission denied")
	assert.Empty(t, store.created)
}

func TestNewCSVSink_Validation(t *testing.T) {
	_, err := NewCSVSink("", nil)
	assert.Error(t, err)
	_, err = NewCSVSink("gs://bucket/x.csv", nil)
	assert.Error(t, err, "gs target needs a store")
	_, err = NewCSVSink("gs://", &fakeStore{})
	assert.Error(t, err)
}
