package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Source opens the raw CSV file of a table. Implementations return an error
// wrapping ErrTableNotFound when the table does not exist.
type Source interface {
	Open(ctx context.Context, table Table) (io.ReadCloser, error)
}

// TableLoader loads a complete snapshot of the raw tables.
type TableLoader interface {
	LoadTables(ctx context.Context) (*Tables, error)
}

// DirSource reads tables from Olist-named CSV files in a local directory.
type DirSource struct {
	Dir string
}

// Open opens the CSV file for table.
func (s DirSource) Open(ctx context.Context, table Table) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, table.FileName())
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrTableNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func (s DirSource) String() string {
	return s.Dir
}
