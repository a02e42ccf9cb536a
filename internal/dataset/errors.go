package dataset

import (
	"errors"
	"fmt"
)

// ErrTableNotFound is returned by a Source when the requested table does not
// exist in the snapshot.
var ErrTableNotFound = errors.New("table not found")

// MissingInputError reports a required raw table that is absent. It aborts
// the run.
type MissingInputError struct {
	Table Table
	Err   error
}

func (e *MissingInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("missing input table %q: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("missing input table %q", e.Table)
}

func (e *MissingInputError) Unwrap() error {
	return e.Err
}
