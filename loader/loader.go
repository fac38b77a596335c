package loader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/strataetl/strata/batch"
	"github.com/strataetl/strata/components"
	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/dimension"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/storage"
	"github.com/strataetl/strata/stream"
)

// Loader runs one batch through the bronze, silver and gold layers.
// A Loader is built per run; the resolver it is given is shared across runs so
// dimension history carries from batch to batch.
type Loader struct {
	log      logger.Logger
	store    storage.Store
	tracker  *batch.Tracker
	resolver *dimension.Resolver
	pipe     *PipeDefinition
	counts   *stats.LoadCounts
	statsMgr *stats.LoadStatsManager
}

func NewLoader(log logger.Logger, store storage.Store, tracker *batch.Tracker,
	resolver *dimension.Resolver, pipe *PipeDefinition) (*Loader, error) {
	if err := pipe.Validate(); err != nil {
		return nil, err
	}
	return &Loader{
		log:      log,
		store:    store,
		tracker:  tracker,
		resolver: resolver,
		pipe:     pipe,
		counts:   stats.NewLoadCounts(),
		statsMgr: stats.NewLoadStats(log, stats.SetStatsDumpFrequency(0)),
	}, nil
}

// Counts exposes the live per-batch counters.
func (l *Loader) Counts() *stats.LoadCounts { return l.counts }

// Stats exposes the per-step row-rate figures.
func (l *Loader) Stats() stats.StatsFetcher { return l.statsMgr }

// panicLogger makes Panic always recoverable so a component failure becomes a
// load error instead of a process exit.
type panicLogger struct {
	logger.Logger
}

func (p panicLogger) Panic(message ...interface{}) {
	p.Error(message...)
	panic(fmt.Sprint(message...))
}

// Run drives the batch end-to-end: raw rows to bronze, canonical deduplicated
// rows to silver, surrogate-keyed facts plus dimension snapshots to gold.  Each
// layer commits atomically before the next starts.  On failure the staged output
// is discarded and the batch marked failed; on a context deadline the batch is
// left in_progress for an external retry.
func (l *Loader) Run(ctx context.Context, batchId string, sourceRecs []stream.Record) error {
	status, err := l.tracker.Status(batchId)
	if err != nil {
		return err
	}
	switch status {
	case c.BatchStatusPending:
		if err := l.tracker.MarkInProgress(batchId); err != nil {
			return err
		}
	case c.BatchStatusInProgress:
		// Already open: a retry re-opened a failed batch, or an earlier run timed
		// out and left it in_progress.  Staged output was discarded, so run again.
	default:
		return &batch.StateError{Id: batchId, From: status, To: c.BatchStatusInProgress}
	}
	b, err := l.tracker.Get(batchId)
	if err != nil {
		return err
	}
	plog := panicLogger{l.log}
	errChan := make(chan error, 8) // one slot per component is plenty; failures are rare.
	panicHandler := func() {
		if r := recover(); r != nil {
			errChan <- errors.Errorf("%v", r)
		}
	}
	asOf := b.IngestionTime.UTC()
	stamped := l.stampLineage(sourceRecs, b)

	runErr := l.runPhases(ctx, plog, batchId, asOf, stamped, errChan, panicHandler)
	if runErr != nil {
		l.discardStaged(batchId)
		if ctx.Err() != nil || isTimeout(runErr) {
			// Leave the batch in_progress; the work can be retried externally.
			l.log.Warn("load for batch ", batchId, " timed out: ", runErr)
			return &TimeoutError{BatchId: batchId, Op: runErr.Error()}
		}
		if err := l.tracker.MarkFailed(batchId, runErr.Error()); err != nil {
			l.log.Error("unable to mark batch ", batchId, " failed: ", err)
		}
		return &BatchFailedError{BatchId: batchId, Reason: runErr.Error()}
	}
	if err := l.tracker.SetCounts(batchId, l.counts.Map()); err != nil {
		return err
	}
	if err := l.tracker.MarkCompleted(batchId); err != nil {
		return err
	}
	l.log.Info("load complete for batch ", batchId, ": ", l.counts.Map())
	return nil
}

func (l *Loader) runPhases(ctx context.Context, plog logger.Logger, batchId string, asOf time.Time,
	stamped []stream.Record, errChan chan error, panicHandler components.PanicHandlerFunc) error {
	if err := l.runBronze(ctx, plog, batchId, stamped, errChan, panicHandler); err != nil {
		return err
	}
	if err := l.runSilver(ctx, plog, batchId, errChan, panicHandler); err != nil {
		return err
	}
	return l.runGold(ctx, plog, batchId, asOf, errChan, panicHandler)
}

// stampLineage copies each raw record and adds the batch metadata fields.
// Records that already carry a load time keep it; it decides dedup winners.
func (l *Loader) stampLineage(recs []stream.Record, b batch.Batch) []stream.Record {
	now := time.Now().UTC().Format(time.RFC3339)
	out := make([]stream.Record, 0, len(recs))
	for i, rec := range recs {
		meta := stream.NewRecord()
		meta.SetData(stream.FieldBatchId, b.Id)
		meta.SetData(stream.FieldSourceName, b.Source)
		meta.SetData(stream.FieldFileName, b.FileName)
		meta.SetData(stream.FieldIngestionTime, b.IngestionTime.UTC().Format(c.TimeFormatYearSecondsTZ))
		if _, ok := rec.GetDataOk(stream.FieldLoadTime); !ok {
			meta.SetData(stream.FieldLoadTime, now)
		}
		meta.SetData(stream.FieldSeq, strconv.Itoa(i))
		r, _ := stream.MergeDataStreams(rec, meta, true) // overwrite allowed, so no error path.
		out = append(out, r)
	}
	return out
}

func (l *Loader) runBronze(ctx context.Context, plog logger.Logger, batchId string,
	stamped []stream.Record, errChan chan error, ph components.PanicHandlerFunc) error {
	controls := make([]chan components.ControlAction, 0, 2)
	waiter := &componentWaiter{}
	in, ctl := components.NewRecordSliceInput(&components.RecordSliceInputConfig{
		Log:            plog,
		Name:           "bronze input for " + batchId,
		Recs:           stamped,
		Counts:         l.counts,
		StepWatcher:    l.statsMgr.AddStepWatcher("bronze-input"),
		WaitCounter:    waiter,
		PanicHandlerFn: ph,
	})
	controls = append(controls, ctl)
	out, ctl := components.NewLayerOutput(&components.LayerOutputConfig{
		Log:            plog,
		Name:           "bronze output for " + batchId,
		Ctx:            ctx,
		InputChan:      in,
		Store:          l.store,
		Layer:          c.LayerBronze,
		BatchId:        batchId,
		StepWatcher:    l.statsMgr.AddStepWatcher("bronze-output"),
		WaitCounter:    waiter,
		PanicHandlerFn: ph,
	})
	controls = append(controls, ctl)
	if err := l.drain(ctx, out, errChan, controls); err != nil {
		l.awaitComponents(waiter)
		return err
	}
	l.awaitComponents(waiter)
	return l.store.Commit(ctx, c.LayerBronze, batchId)
}

func (l *Loader) runSilver(ctx context.Context, plog logger.Logger, batchId string,
	errChan chan error, ph components.PanicHandlerFunc) error {
	controls := make([]chan components.ControlAction, 0, 4)
	waiter := &componentWaiter{}
	in, ctl := components.NewLayerInput(&components.LayerInputConfig{
		Log:            plog,
		Name:           "silver input for " + batchId,
		Ctx:            ctx,
		Store:          l.store,
		Layer:          c.LayerBronze,
		BatchId:        batchId,
		StepWatcher:    l.statsMgr.AddStepWatcher("silver-input"),
		WaitCounter:    waiter,
		PanicHandlerFn: ph,
	})
	controls = append(controls, ctl)
	// Row filters run on raw rows, before normalization.
	for idx, step := range l.pipe.Filters {
		ft, meta, err := filterFromStep(step)
		if err != nil {
			return err
		}
		var fctl chan components.ControlAction
		in, fctl = components.NewFilterRows(&components.FilterRowsConfig{
			Log:            plog,
			Name:           fmt.Sprintf("filter %v (%v) for %v", idx, step.Type, batchId),
			InputChan:      in,
			FilterType:     ft,
			FilterMetadata: meta,
			Counts:         l.counts,
			StepWatcher:    l.statsMgr.AddStepWatcher(fmt.Sprintf("filter-%v", idx)),
			WaitCounter:    waiter,
			PanicHandlerFn: ph,
		})
		controls = append(controls, fctl)
	}
	var quarantineChan chan stream.Record
	quarantineDone := make(chan struct{})
	if l.pipe.ErrorPolicy == c.ErrorPolicyQuarantine {
		quarantineChan = make(chan stream.Record, c.ChanSize)
		go func() { // collect quarantined rows so the normalizer never blocks on them.
			n := 0
			for range quarantineChan {
				n++
			}
			if n > 0 {
				l.log.Warn("batch ", batchId, " quarantined ", n, " rows")
			}
			close(quarantineDone)
		}()
	} else {
		close(quarantineDone)
	}
	norm, ctl2 := components.NewNormalizer(&components.NormalizerConfig{
		Log:            plog,
		Name:           "normalizer for " + batchId,
		InputChan:      in,
		Schema:         l.pipe.Schema,
		ErrorPolicy:    l.pipe.ErrorPolicy,
		QuarantineChan: quarantineChan,
		Counts:         l.counts,
		StepWatcher:    l.statsMgr.AddStepWatcher("normalizer"),
		WaitCounter:    waiter,
		PanicHandlerFn: ph,
	})
	controls = append(controls, ctl2)
	deduped, ctl3 := components.NewDeduplicator(&components.DeduplicatorConfig{
		Log:            plog,
		Name:           "deduplicator for " + batchId,
		InputChan:      norm,
		BusinessKeys:   l.pipe.BusinessKeys,
		Counts:         l.counts,
		StepWatcher:    l.statsMgr.AddStepWatcher("deduplicator"),
		WaitCounter:    waiter,
		PanicHandlerFn: ph,
	})
	controls = append(controls, ctl3)
	out, ctl4 := components.NewLayerOutput(&components.LayerOutputConfig{
		Log:            plog,
		Name:           "silver output for " + batchId,
		Ctx:            ctx,
		InputChan:      deduped,
		Store:          l.store,
		Layer:          c.LayerSilver,
		BatchId:        batchId,
		StepWatcher:    l.statsMgr.AddStepWatcher("silver-output"),
		WaitCounter:    waiter,
		PanicHandlerFn: ph,
	})
	controls = append(controls, ctl4)
	if err := l.drain(ctx, out, errChan, controls); err != nil {
		l.awaitComponents(waiter)
		return err
	}
	l.awaitComponents(waiter)
	<-quarantineDone
	return l.store.Commit(ctx, c.LayerSilver, batchId)
}

func (l *Loader) runGold(ctx context.Context, plog logger.Logger, batchId string, asOf time.Time,
	errChan chan error, ph components.PanicHandlerFunc) error {
	controls := make([]chan components.ControlAction, 0, 3)
	waiter := &componentWaiter{}
	in, ctl := components.NewLayerInput(&components.LayerInputConfig{
		Log:            plog,
		Name:           "gold input for " + batchId,
		Ctx:            ctx,
		Store:          l.store,
		Layer:          c.LayerSilver,
		BatchId:        batchId,
		StepWatcher:    l.statsMgr.AddStepWatcher("gold-input"),
		WaitCounter:    waiter,
		PanicHandlerFn: ph,
	})
	controls = append(controls, ctl)
	if len(l.pipe.Mappings) > 0 { // if fact rows reference dimensions...
		var kctl chan components.ControlAction
		in, kctl = components.NewKeyResolver(&components.KeyResolverConfig{
			Log:            plog,
			Name:           "key resolver for " + batchId,
			Ctx:            ctx,
			InputChan:      in,
			Resolver:       l.resolver,
			Mappings:       l.pipe.Mappings,
			AsOf:           asOf,
			BatchId:        batchId,
			Counts:         l.counts,
			StepWatcher:    l.statsMgr.AddStepWatcher("key-resolver"),
			WaitCounter:    waiter,
			PanicHandlerFn: ph,
		})
		controls = append(controls, kctl)
	}
	out, ctl2 := components.NewLayerOutput(&components.LayerOutputConfig{
		Log:            plog,
		Name:           "gold output for " + batchId,
		Ctx:            ctx,
		InputChan:      in,
		Store:          l.store,
		Layer:          c.LayerGold,
		BatchId:        batchId,
		Counts:         l.counts,
		StepWatcher:    l.statsMgr.AddStepWatcher("gold-output"),
		WaitCounter:    waiter,
		PanicHandlerFn: ph,
	})
	controls = append(controls, ctl2)
	if err := l.drain(ctx, out, errChan, controls); err != nil {
		l.awaitComponents(waiter)
		return err
	}
	l.awaitComponents(waiter)
	if err := l.stageDimensionSnapshots(ctx, batchId); err != nil {
		return err
	}
	return l.store.Commit(ctx, c.LayerGold, batchId)
}

// stageDimensionSnapshots writes the resolver's full row set per dimension into the
// gold staging area, tagged with the dimension table name.  On seed the last
// occurrence of a surrogate key wins, so closed versions converge to their final state.
func (l *Loader) stageDimensionSnapshots(ctx context.Context, batchId string) error {
	for _, d := range l.pipe.Dimensions {
		rows, err := l.resolver.Rows(d.Name)
		if err != nil {
			return err
		}
		recs := make([]stream.Record, 0, len(rows))
		for _, row := range rows {
			recs = append(recs, dimensionRowToRecord(d.Name, batchId, row))
		}
		if err := l.store.Stage(ctx, c.LayerGold, batchId, recs); err != nil {
			return errors.Wrapf(err, "unable to stage dimension %v snapshot", d.Name)
		}
	}
	return nil
}

// drain consumes the final output channel until it closes, watching for component
// failures.  On failure it asks the surviving components to shut down and returns
// the first error.
func (l *Loader) drain(ctx context.Context, out chan stream.Record, errChan chan error,
	controls []chan components.ControlAction) error {
	for {
		select {
		case _, ok := <-out:
			if !ok { // if the pipeline finished...
				// A component may have panicked after closing its output.
				select {
				case err := <-errChan:
					l.shutdown(controls)
					return err
				default:
					return nil
				}
			}
		case err := <-errChan: // if a component failed...
			l.shutdown(controls)
			return err
		case <-ctx.Done():
			l.shutdown(controls)
			return ctx.Err()
		}
	}
}

// componentStopTimeout bounds the wait for a phase's components to exit; a wedged
// component must not hang the run forever.
const componentStopTimeout = 5 * time.Second

// awaitComponents blocks until every component of the phase has exited, so staged
// output is never committed or discarded while a component still holds the store.
func (l *Loader) awaitComponents(w *componentWaiter) {
	if !w.waitWithTimeout(componentStopTimeout) {
		l.log.Warn("timed out waiting for pipeline components to stop")
	}
}

// shutdown asks each component to stop, best effort.  A panicked component cannot
// respond, so responses are not waited on.
func (l *Loader) shutdown(controls []chan components.ControlAction) {
	for _, ctl := range controls {
		select {
		case ctl <- components.ControlAction{Action: components.Shutdown, ResponseChan: make(chan error, 1)}:
		default: // the component is already gone or its control buffer is full.
		}
	}
}

func (l *Loader) discardStaged(batchId string) {
	// Use a fresh context: the run context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()
	for _, layer := range []string{c.LayerBronze, c.LayerSilver, c.LayerGold} {
		if err := l.store.Discard(ctx, layer, batchId); err != nil {
			l.log.Error("unable to discard staged ", layer, " rows for batch ", batchId, ": ", err)
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var dt *dimension.TimeoutError
	return errors.As(err, &dt)
}

// dimensionRowToRecord flattens one dimension row into a gold-layer record.
func dimensionRowToRecord(dimName, batchId string, row dimension.Row) stream.Record {
	rec := stream.NewRecord()
	rec.SetData(c.TableFieldName, "dim_"+dimName)
	rec.SetData(stream.FieldBatchId, batchId)
	rec.SetData("surrogateKey", row.SurrogateKey)
	rec.SetData("businessKey", row.BusinessKey)
	rec.SetData("effectiveStart", row.EffectiveStart.UTC().Format(time.RFC3339))
	if row.EffectiveEnd != nil {
		rec.SetData("effectiveEnd", row.EffectiveEnd.UTC().Format(time.RFC3339))
	} else {
		rec.SetData("effectiveEnd", nil)
	}
	rec.SetData("current", row.Current)
	rec.SetData("rowBatchId", row.BatchId)
	for k, v := range row.Attributes {
		rec.SetData("attr_"+k, v)
	}
	return rec
}
