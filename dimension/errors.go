package dimension

import (
	"fmt"
)

// KeyResolutionConflict is raised when two concurrent resolutions race on the same
// business key and the internal retry budget is exhausted.
type KeyResolutionConflict struct {
	Dimension   string
	BusinessKey string
}

func (e *KeyResolutionConflict) Error() string {
	return fmt.Sprintf("key resolution conflict on dimension %q business key %q", e.Dimension, e.BusinessKey)
}

// IntegrityError is raised when a fact row references a surrogate key with no
// corresponding dimension row.  It is fatal for that record only; the batch continues.
type IntegrityError struct {
	Dimension    string
	SurrogateKey int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("fact references missing surrogate key %v in dimension %q", e.SurrogateKey, e.Dimension)
}

// TimeoutError is raised when a bounded wait (per-key lock acquisition) exceeds the
// caller supplied deadline.  The batch is left in_progress so it can be retried.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %v", e.Op)
}

// UnknownDimensionError is raised when a pipe references a dimension the resolver
// was not configured with.
type UnknownDimensionError struct {
	Dimension string
}

func (e *UnknownDimensionError) Error() string {
	return fmt.Sprintf("unknown dimension %q", e.Dimension)
}
