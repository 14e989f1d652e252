package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the dispatch service layer.
var (
	ErrDailyQuotaExceeded = errors.New("daily quota exceeded")
)

// ValidationError rejects a whole batch before any send. Index is the
// offending recipient position, or -1 for batch-level fields.
type ValidationError struct {
	Field  string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("validation failed: recipients[%d].%s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}
