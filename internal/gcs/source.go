package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dvloznov/churn-analytics/internal/dataset"
)

// TableSource serves raw snapshot tables stored as Olist-named CSV objects
// under a gs:// prefix.
type TableSource struct {
	store  ObjectStore
	prefix string
}

// NewTableSource creates a source reading tables under prefix.
func NewTableSource(store ObjectStore, prefix string) (*TableSource, error) {
	if _, _, err := ParseURI(prefix); err != nil {
		return nil, err
	}
	return &TableSource{store: store, prefix: prefix}, nil
}

// Open implements dataset.Source.
func (s *TableSource) Open(ctx context.Context, table dataset.Table) (io.ReadCloser, error) {
	uri := Join(s.prefix, table.FileName())
	rc, err := s.store.Open(ctx, uri)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("%s: %w", uri, dataset.ErrTableNotFound)
	}
	return rc, err
}

func (s *TableSource) String() string {
	return s.prefix
}

// UploadTables copies the Olist-named CSV file of every required table from
// a local directory to prefix. It stops at the first failure.
func UploadTables(ctx context.Context, store ObjectStore, dir, prefix string) ([]string, error) {
	if _, _, err := ParseURI(prefix); err != nil {
		return nil, err
	}
	var uploaded []string
	for _, table := range dataset.RequiredTables {
		uri := Join(prefix, table.FileName())
		if err := UploadFile(ctx, store, uri, filepath.Join(dir, table.FileName())); err != nil {
			return uploaded, fmt.Errorf("UploadTables: %s: %w", table, err)
		}
		uploaded = append(uploaded, uri)
	}
	return uploaded, nil
}
