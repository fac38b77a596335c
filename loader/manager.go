package loader

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/strataetl/strata/batch"
	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/dimension"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/storage"
	"github.com/strataetl/strata/stream"
)

const (
	LoadStatusRunning  = "running"
	LoadStatusComplete = "complete"
	LoadStatusFailed   = "failed"
	LoadStatusTimedOut = "timed_out"
)

// LoadStatus is the externally visible state of one load run.
type LoadStatus struct {
	BatchId   string    `json:"batchId"`
	Pipe      string    `json:"pipe"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitempty"`
}

// LoadInfo pairs a load's status with its live stats.
type LoadInfo struct {
	Status LoadStatus
	Stats  stats.StatsFetcher
	Counts *stats.LoadCounts
}

// SafeMapLoadInfo wraps map[string]LoadInfo with locking via Load() and Store() methods.
type SafeMapLoadInfo struct {
	sync.RWMutex
	Internal map[string]LoadInfo
}

func NewSafeMapLoadInfo() *SafeMapLoadInfo {
	li := SafeMapLoadInfo{}
	li.Internal = make(map[string]LoadInfo)
	return &li
}

func (t *SafeMapLoadInfo) Load(key string) (li LoadInfo, ok bool) {
	t.RLock()
	li, ok = t.Internal[key]
	t.RUnlock()
	return
}

func (t *SafeMapLoadInfo) Store(key string, value LoadInfo) {
	t.Lock()
	t.Internal[key] = value
	t.Unlock()
}

func (t *SafeMapLoadInfo) Delete(key string) {
	t.Lock()
	delete(t.Internal, key)
	t.Unlock()
}

func (t *SafeMapLoadInfo) Keys() []string {
	t.RLock()
	keys := make([]string, 0, len(t.Internal))
	for k := range t.Internal {
		keys = append(keys, k)
	}
	t.RUnlock()
	return keys
}

// Manager owns the shared dimension resolvers and serializes load admission so at
// most one run per batch id is in flight.  Loads for different batches run
// concurrently.
type Manager struct {
	log       logger.Logger
	store     storage.Store
	tracker   *batch.Tracker
	mu        sync.Mutex // guards resolvers, pipes and load admission.
	resolvers map[string]*dimension.Resolver
	pipes     map[string]*PipeDefinition
	loads     *SafeMapLoadInfo
}

func NewManager(log logger.Logger, store storage.Store, tracker *batch.Tracker) *Manager {
	return &Manager{
		log:       log,
		store:     store,
		tracker:   tracker,
		resolvers: make(map[string]*dimension.Resolver),
		pipes:     make(map[string]*PipeDefinition),
		loads:     NewSafeMapLoadInfo(),
	}
}

func (m *Manager) Tracker() *batch.Tracker { return m.tracker }
func (m *Manager) Store() storage.Store    { return m.store }

// resolverForPipe returns the pipe's shared resolver, creating and seeding it from
// the gold layer on first use.  Dimension history must carry across batches.
func (m *Manager) resolverForPipe(ctx context.Context, pipe *PipeDefinition) (*dimension.Resolver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resolvers[pipe.Name]; ok {
		return r, nil
	}
	r, err := dimension.NewResolver(m.log, pipe.Dimensions)
	if err != nil {
		return nil, err
	}
	if err := SeedResolver(ctx, m.log, m.store, r); err != nil {
		return nil, err
	}
	m.resolvers[pipe.Name] = r
	return r, nil
}

// begin admits a load for the batch, refusing if one is already running.
func (m *Manager) begin(batchId, pipeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.loads.Load(batchId); ok && info.Status.Status == LoadStatusRunning {
		return &ConcurrentLoadError{BatchId: batchId}
	}
	m.loads.Store(batchId, LoadInfo{Status: LoadStatus{
		BatchId:   batchId,
		Pipe:      pipeName,
		Status:    LoadStatusRunning,
		StartTime: time.Now(),
	}})
	return nil
}

// RunLoad runs one batch synchronously through the pipe.
func (m *Manager) RunLoad(ctx context.Context, pipe *PipeDefinition, batchId string, recs []stream.Record) error {
	if err := pipe.Validate(); err != nil {
		return err
	}
	if err := m.begin(batchId, pipe.Name); err != nil {
		return err
	}
	m.mu.Lock()
	m.pipes[pipe.Name] = pipe // remembered so a retry can find the pipe by batch id.
	m.mu.Unlock()
	resolver, err := m.resolverForPipe(ctx, pipe)
	if err != nil {
		return m.classifySetupErr(ctx, batchId, err)
	}
	l, err := NewLoader(m.log, m.store, m.tracker, resolver, pipe)
	if err != nil {
		return m.classifySetupErr(ctx, batchId, err)
	}
	info, _ := m.loads.Load(batchId)
	info.Stats = l.Stats()
	info.Counts = l.Counts()
	m.loads.Store(batchId, info)
	runErr := l.Run(ctx, batchId, recs)
	switch runErr.(type) {
	case nil:
		m.finish(batchId, LoadStatusComplete, nil)
	case *TimeoutError:
		m.finish(batchId, LoadStatusTimedOut, runErr)
	default:
		m.finish(batchId, LoadStatusFailed, runErr)
	}
	return runErr
}

// classifySetupErr mirrors Run's timeout handling for failures that happen before
// the loader starts, such as a deadline expiring while the resolver is seeded from
// the gold layer.  A timed-out batch stays retryable rather than failed.
func (m *Manager) classifySetupErr(ctx context.Context, batchId string, err error) error {
	if ctx.Err() != nil || isTimeout(err) {
		if st, serr := m.tracker.Status(batchId); serr == nil && st == constants.BatchStatusPending {
			if merr := m.tracker.MarkInProgress(batchId); merr != nil {
				m.log.Error("unable to mark batch ", batchId, " in progress: ", merr)
			}
		}
		terr := &TimeoutError{BatchId: batchId, Op: err.Error()}
		m.finish(batchId, LoadStatusTimedOut, terr)
		return terr
	}
	m.finish(batchId, LoadStatusFailed, err)
	return err
}

// StartLoad admits the load synchronously then runs it in the background, for the
// web API.  Admission errors surface immediately; run errors land in LoadInfo.
func (m *Manager) StartLoad(ctx context.Context, pipe *PipeDefinition, batchId string, recs []stream.Record) error {
	if err := pipe.Validate(); err != nil {
		return err
	}
	if info, ok := m.loads.Load(batchId); ok && info.Status.Status == LoadStatusRunning {
		return &ConcurrentLoadError{BatchId: batchId}
	}
	go func() {
		if err := m.RunLoad(ctx, pipe, batchId, recs); err != nil {
			m.log.Error("background load for batch ", batchId, " ended with error: ", err)
		}
	}()
	return nil
}

// RetryBatch clears the failed batch's prior output then re-runs it.
func (m *Manager) RetryBatch(ctx context.Context, pipe *PipeDefinition, batchId string, recs []stream.Record) error {
	if err := m.tracker.Retry(ctx, batchId, m.store); err != nil {
		return err
	}
	return m.RunLoad(ctx, pipe, batchId, recs)
}

// RetryFromBronze re-runs a failed batch using its committed bronze rows as input,
// so the caller does not need to resupply the source file.  Only batches that got
// past the bronze commit can be retried this way.
func (m *Manager) RetryFromBronze(ctx context.Context, batchId string) error {
	info, ok := m.loads.Load(batchId)
	if !ok {
		return &batch.NotFoundError{Id: batchId}
	}
	m.mu.Lock()
	pipe, ok := m.pipes[info.Status.Pipe]
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("no pipe definition remembered for batch %v", batchId)
	}
	recs, err := m.store.Read(ctx, constants.LayerBronze, batchId)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return errors.Errorf("batch %v has no bronze rows to retry from", batchId)
	}
	return m.RetryBatch(ctx, pipe, batchId, recs)
}

// StartRetryFromBronze checks the retry can proceed then runs it in the
// background, for the web API.
func (m *Manager) StartRetryFromBronze(ctx context.Context, batchId string) error {
	info, ok := m.loads.Load(batchId)
	if !ok {
		return &batch.NotFoundError{Id: batchId}
	}
	if info.Status.Status == LoadStatusRunning {
		return &ConcurrentLoadError{BatchId: batchId}
	}
	m.mu.Lock()
	_, ok = m.pipes[info.Status.Pipe]
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("no pipe definition remembered for batch %v", batchId)
	}
	go func() {
		if err := m.RetryFromBronze(ctx, batchId); err != nil {
			m.log.Error("background retry for batch ", batchId, " ended with error: ", err)
		}
	}()
	return nil
}

// LoadInfo returns the status and stats of one load.
func (m *Manager) LoadInfo(batchId string) (LoadInfo, bool) {
	return m.loads.Load(batchId)
}

// Loads lists the known load statuses.
func (m *Manager) Loads() []LoadStatus {
	keys := m.loads.Keys()
	out := make([]LoadStatus, 0, len(keys))
	for _, k := range keys {
		if info, ok := m.loads.Load(k); ok {
			out = append(out, info.Status)
		}
	}
	return out
}

func (m *Manager) finish(batchId, status string, err error) {
	info, _ := m.loads.Load(batchId)
	info.Status.Status = status
	info.Status.EndTime = time.Now()
	if err != nil {
		info.Status.Error = err.Error()
	}
	m.loads.Store(batchId, info)
}
