// Package batch owns the process-wide ledger of ingestion batches.
// All status changes go through the tracker's operations; the state machine is
//
//	pending -> in_progress -> {completed, failed}
//
// and failed batches re-enter in_progress only via an explicit Retry, which
// clears prior partial output ownership for the id first.
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/logger"
)

// Batch is one tracked unit of ingested data.
type Batch struct {
	Id            string           `json:"batchId"`
	Source        string           `json:"source"`
	FileName      string           `json:"fileName,omitempty"`
	IngestionTime time.Time        `json:"ingestionTime"`
	Status        string           `json:"status"`
	Reason        string           `json:"reason,omitempty"` // failure reason, set by MarkFailed.
	Counts        map[string]int64 `json:"counts,omitempty"` // per-batch load counters snapshot.
	UpdatedTime   time.Time        `json:"updatedTime"`
}

// StateError reports an illegal state machine transition.
type StateError struct {
	Id   string
	From string
	To   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("batch %v cannot move from %v to %v", e.Id, e.From, e.To)
}

// NotFoundError reports an unknown batch id.
type NotFoundError struct {
	Id string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("batch %v is not registered", e.Id)
}

// OutputClearer removes any destination-layer output owned by a batch id.
// The storage layer implements this; Retry calls it before re-opening a batch.
type OutputClearer interface {
	ClearBatch(ctx context.Context, batchId string) error
}

// Tracker is the owned ledger of batches. Safe for concurrent use.
type Tracker struct {
	log     logger.Logger
	mu      sync.RWMutex
	batches map[string]*Batch
}

func NewTracker(log logger.Logger) *Tracker {
	return &Tracker{log: log, batches: make(map[string]*Batch)}
}

// Register records a new batch in the pending state and returns it.
// Batch ids are globally unique and never reused.
func (t *Tracker) Register(source, fileName string, ingestionTime time.Time) Batch {
	b := &Batch{
		Id:            xid.New().String(),
		Source:        source,
		FileName:      fileName,
		IngestionTime: ingestionTime,
		Status:        constants.BatchStatusPending,
		UpdatedTime:   time.Now(),
	}
	t.mu.Lock()
	t.batches[b.Id] = b
	t.mu.Unlock()
	t.log.Info("registered batch ", b.Id, " from source ", source)
	return *b
}

// MarkInProgress moves a pending batch to in_progress.
func (t *Tracker) MarkInProgress(batchId string) error {
	return t.transition(batchId, constants.BatchStatusInProgress, "",
		constants.BatchStatusPending)
}

// MarkCompleted moves an in_progress batch to completed.
func (t *Tracker) MarkCompleted(batchId string) error {
	return t.transition(batchId, constants.BatchStatusCompleted, "",
		constants.BatchStatusInProgress)
}

// MarkFailed moves an in_progress batch to failed with a reason.
func (t *Tracker) MarkFailed(batchId string, reason string) error {
	return t.transition(batchId, constants.BatchStatusFailed, reason,
		constants.BatchStatusInProgress)
}

// Retry re-opens a failed batch.  Prior partial output for the id is cleared via the
// supplied OutputClearer before the state changes, so a half-written destination
// layer can never leak into the re-run.
func (t *Tracker) Retry(ctx context.Context, batchId string, clearer OutputClearer) error {
	t.mu.RLock()
	b, ok := t.batches[batchId]
	t.mu.RUnlock()
	if !ok {
		return &NotFoundError{Id: batchId}
	}
	if b.Status != constants.BatchStatusFailed {
		return &StateError{Id: batchId, From: b.Status, To: constants.BatchStatusInProgress}
	}
	if clearer != nil {
		if err := clearer.ClearBatch(ctx, batchId); err != nil {
			return err
		}
	}
	return t.transition(batchId, constants.BatchStatusInProgress, "",
		constants.BatchStatusFailed)
}

// Status returns the current state of a batch.
func (t *Tracker) Status(batchId string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.batches[batchId]
	if !ok {
		return "", &NotFoundError{Id: batchId}
	}
	return b.Status, nil
}

// Get returns a copy of the batch record.
func (t *Tracker) Get(batchId string) (Batch, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.batches[batchId]
	if !ok {
		return Batch{}, &NotFoundError{Id: batchId}
	}
	return *b, nil
}

// List returns all batches ordered by id.
func (t *Tracker) List() []Batch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Batch, 0, len(t.batches))
	for _, b := range t.batches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// SetCounts stores the per-batch load counters snapshot.
func (t *Tracker) SetCounts(batchId string, counts map[string]int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchId]
	if !ok {
		return &NotFoundError{Id: batchId}
	}
	b.Counts = counts
	b.UpdatedTime = time.Now()
	return nil
}

// transition applies a state change if the current state is one of the allowed sources.
func (t *Tracker) transition(batchId, to, reason string, allowedFrom ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchId]
	if !ok {
		return &NotFoundError{Id: batchId}
	}
	allowed := false
	for _, from := range allowedFrom {
		if b.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return &StateError{Id: batchId, From: b.Status, To: to}
	}
	t.log.Debug("batch ", batchId, " moving ", b.Status, " -> ", to)
	b.Status = to
	b.Reason = reason
	b.UpdatedTime = time.Now()
	return nil
}
