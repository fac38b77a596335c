package loader

import (
	"fmt"
)

// TimeoutError is returned when a load exceeds its context deadline.  The batch is
// left in_progress so an external retry can pick it up.
type TimeoutError struct {
	BatchId string
	Op      string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("load for batch %v timed out during %v", e.BatchId, e.Op)
}

// BatchFailedError is the terminal error of a failed load.  The batch has been
// marked failed and its staged output discarded.
type BatchFailedError struct {
	BatchId string
	Reason  string
}

func (e *BatchFailedError) Error() string {
	return fmt.Sprintf("load for batch %v failed: %v", e.BatchId, e.Reason)
}

// ConcurrentLoadError is returned when a second load is started for a batch that
// already has one running.
type ConcurrentLoadError struct {
	BatchId string
}

func (e *ConcurrentLoadError) Error() string {
	return fmt.Sprintf("a load is already running for batch %v", e.BatchId)
}
