package features

import "fmt"

// DegenerateGroupError reports a customer group with no fact rows. Grouping
// cannot produce one, so seeing it means a bug upstream.
type DegenerateGroupError struct {
	CustomerUniqueID string
}

func (e *DegenerateGroupError) Error() string {
	return fmt.Sprintf("customer group %q has no rows", e.CustomerUniqueID)
}
