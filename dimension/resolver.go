package dimension

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	om "github.com/cevaris/ordered_map"
	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stream"
)

const lockStripes = 64

// Resolver maps business keys to surrogate keys for a set of dimensions.
// Resolution for a given business key is serialized through striped per-key locks
// so that concurrent loads can never allocate two surrogate keys for one new key.
// All other state access is guarded by the dimension mutex.
type Resolver struct {
	log  logger.Logger
	mu   sync.RWMutex
	dims map[string]*dimensionState
}

type dimensionState struct {
	spec        Spec
	trackedKeys *om.OrderedMap // tracked attribute names as compare keys, built once.
	mu          sync.RWMutex   // guards the maps below.
	keyLocks    [lockStripes]chan struct{}
	nextKey     int64 // next surrogate key to allocate; keys are never reused.
	currentByBk map[string]*Row
	history     map[string][]*Row
	bySurrogate map[int64]*Row
}

// NewResolver builds a resolver for the supplied dimension specs.
func NewResolver(log logger.Logger, specs []Spec) (*Resolver, error) {
	r := &Resolver{log: log, dims: make(map[string]*dimensionState)}
	for _, spec := range specs {
		if _, exists := r.dims[spec.Name]; exists {
			return nil, &UnknownDimensionError{Dimension: spec.Name + " (duplicate)"}
		}
		ds := &dimensionState{
			spec:        spec,
			trackedKeys: helper.StringSliceToOrderedMap(spec.TrackedAttributes),
			nextKey:     1,
			currentByBk: make(map[string]*Row),
			history:     make(map[string][]*Row),
			bySurrogate: make(map[int64]*Row),
		}
		for idx := range ds.keyLocks {
			ds.keyLocks[idx] = make(chan struct{}, 1) // binary semaphore per stripe.
		}
		r.dims[spec.Name] = ds
	}
	return r, nil
}

// Seed loads existing dimension rows, typically read back from the gold layer at
// startup, so surrogate allocation continues above the highest key ever issued.
func (r *Resolver) Seed(dimName string, rows []Row) error {
	ds, err := r.dim(dimName)
	if err != nil {
		return err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for idx := range rows {
		row := rows[idx]
		ds.history[row.BusinessKey] = append(ds.history[row.BusinessKey], &row)
		ds.bySurrogate[row.SurrogateKey] = &row
		if row.Current {
			ds.currentByBk[row.BusinessKey] = &row
		}
		if row.SurrogateKey >= ds.nextKey { // never reuse a key, even after deletion.
			ds.nextKey = row.SurrogateKey + 1
		}
	}
	return nil
}

// Resolve returns the surrogate key for a business key, allocating a new key for
// unseen business keys and opening a new SCD version when tracked attributes change.
// Resolution is idempotent: repeated calls with identical input return the same key.
// The wait for the per-key lock is bounded by ctx.
func (r *Resolver) Resolve(ctx context.Context, dimName, businessKey string, attrs map[string]interface{}, asOf time.Time, batchId string) (Resolution, error) {
	ds, err := r.dim(dimName)
	if err != nil {
		return Resolution{}, err
	}
	retries := constants.KeyResolverRetriesDefault
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil { // deadline already passed; don't race the lock select.
			return Resolution{}, &TimeoutError{Op: "key lock for " + dimName + "/" + businessKey}
		}
		// Optimistic read outside the key lock.
		ds.mu.RLock()
		before := ds.currentByBk[businessKey]
		ds.mu.RUnlock()
		// Serialize per business key.
		lock := ds.keyLocks[stripe(businessKey)]
		select {
		case lock <- struct{}{}: // acquired.
		case <-ctx.Done():
			return Resolution{}, &TimeoutError{Op: "key lock for " + dimName + "/" + businessKey}
		}
		res, conflicted := ds.resolveLocked(r.log, businessKey, attrs, asOf, batchId, before)
		<-lock
		if !conflicted {
			return res, nil
		}
		if attempt >= retries { // retry budget exhausted...
			return Resolution{}, &KeyResolutionConflict{Dimension: dimName, BusinessKey: businessKey}
		}
		r.log.Debug("key resolution conflict on ", dimName, "/", businessKey, " - retrying")
	}
}

// resolveLocked performs the check-and-set under the per-key lock.
// It reports a conflict when the current row observed before locking no longer
// matches, in which case the caller retries with a fresh read.
func (ds *dimensionState) resolveLocked(log logger.Logger, businessKey string, attrs map[string]interface{}, asOf time.Time, batchId string, before *Row) (Resolution, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	cur := ds.currentByBk[businessKey]
	if cur != before { // another resolution won the race since our optimistic read...
		return Resolution{}, true
	}
	if cur == nil { // unseen business key: allocate a new surrogate key.
		row := ds.newRow(businessKey, attrs, asOf, batchId)
		return Resolution{SurrogateKey: row.SurrogateKey, Status: constants.ScdValueNewKey}, false
	}
	if !ds.spec.ScdEnabled || !ds.trackedAttrsChanged(log, cur, attrs) {
		if !ds.spec.ScdEnabled { // Type 1: overwrite attributes in place, key unchanged.
			cur.Attributes = copyAttrs(attrs)
		}
		return Resolution{SurrogateKey: cur.SurrogateKey, Status: constants.ScdValueUnchanged}, false
	}
	// SCD Type 2: close the current interval and open a new version.
	end := asOf
	cur.EffectiveEnd = &end
	cur.Current = false
	row := ds.newRow(businessKey, attrs, asOf, batchId)
	return Resolution{SurrogateKey: row.SurrogateKey, Status: constants.ScdValueNewVersion}, false
}

// newRow allocates the next surrogate key and opens a current row. Caller holds ds.mu.
func (ds *dimensionState) newRow(businessKey string, attrs map[string]interface{}, asOf time.Time, batchId string) *Row {
	row := &Row{
		SurrogateKey:   ds.nextKey,
		BusinessKey:    businessKey,
		Attributes:     copyAttrs(attrs),
		EffectiveStart: asOf,
		Current:        true,
		BatchId:        batchId,
	}
	ds.nextKey++
	ds.currentByBk[businessKey] = row
	ds.history[businessKey] = append(ds.history[businessKey], row)
	ds.bySurrogate[row.SurrogateKey] = row
	return row
}

// trackedAttrsChanged compares the tracked attributes of the current row against the
// incoming values. Untracked attributes never trigger a new version.  The comparison
// uses the UTC string form so numeric values keep matching after rows round-trip
// through the gold layer's JSON encoding.
func (ds *dimensionState) trackedAttrsChanged(log logger.Logger, cur *Row, attrs map[string]interface{}) bool {
	curRec, newRec := stream.NewRecord(), stream.NewRecord()
	for _, name := range ds.spec.TrackedAttributes {
		curRec.SetData(name, cur.Attributes[name]) // absent values compare as empty strings.
		newRec.SetData(name, attrs[name])
	}
	return !curRec.DataIsDeepEqual(log, newRec, ds.trackedKeys)
}

// VerifySurrogate checks that a surrogate key resolves to an existing dimension row.
// Fact writers call this before emitting a fact row; a miss is an IntegrityError.
func (r *Resolver) VerifySurrogate(dimName string, surrogateKey int64) error {
	ds, err := r.dim(dimName)
	if err != nil {
		return err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if _, ok := ds.bySurrogate[surrogateKey]; !ok {
		return &IntegrityError{Dimension: dimName, SurrogateKey: surrogateKey}
	}
	return nil
}

// CurrentRow returns the open row for a business key, if any.
func (r *Resolver) CurrentRow(dimName, businessKey string) (Row, bool) {
	ds, err := r.dim(dimName)
	if err != nil {
		return Row{}, false
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if row := ds.currentByBk[businessKey]; row != nil {
		return *row, true
	}
	return Row{}, false
}

// Rows returns every version of every business key for a dimension, ordered by
// surrogate key, for persistence to the gold layer.
func (r *Resolver) Rows(dimName string) ([]Row, error) {
	ds, err := r.dim(dimName)
	if err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	rows := make([]Row, 0, len(ds.bySurrogate))
	for _, row := range ds.bySurrogate {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SurrogateKey < rows[j].SurrogateKey })
	return rows, nil
}

// Dimensions returns the names of all configured dimensions.
func (r *Resolver) Dimensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dims))
	for name := range r.dims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spec returns the configuration for a dimension.
func (r *Resolver) Spec(dimName string) (Spec, error) {
	ds, err := r.dim(dimName)
	if err != nil {
		return Spec{}, err
	}
	return ds.spec, nil
}

func (r *Resolver) dim(name string) (*dimensionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.dims[name]
	if !ok {
		return nil, &UnknownDimensionError{Dimension: name}
	}
	return ds, nil
}

func stripe(businessKey string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(businessKey))
	return int(h.Sum32() % lockStripes)
}

func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
