package components

import (
	"context"
	"sync/atomic"

	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/logger"
	s "github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/storage"
	"github.com/strataetl/strata/stream"
)

type LayerInputConfig struct {
	Log            logger.Logger
	Name           string
	Ctx            context.Context
	Store          storage.Store
	Layer          string // layer to read committed rows from.
	BatchId        string
	Counts         *s.LoadCounts  // optional per-batch counters.
	StepWatcher    *s.StepWatcher // optional ptr to object that can gather step stats.
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
}

// NewLayerInput reads the committed rows of one batch from a layer and fetches
// them onto the output channel.
func NewLayerInput(i interface{}) (chan stream.Record, chan ControlAction) {
	cfg := i.(*LayerInputConfig)
	outputChan := make(chan stream.Record, int(c.ChanSize))
	controlChan := make(chan ControlAction, 1) // make a control channel that receives a chan error.
	go func() {
		if cfg.PanicHandlerFn != nil {
			defer cfg.PanicHandlerFn()
		}
		if cfg.WaitCounter != nil {
			cfg.WaitCounter.Add()
			defer cfg.WaitCounter.Done()
		}
		rowCount := int64(0)
		if cfg.StepWatcher != nil { // if we have been given a StepWatcher that can watch our rowCount and output channel...
			cfg.StepWatcher.StartWatching(&rowCount, &outputChan)
			defer cfg.StepWatcher.StopWatching()
		}
		cfg.Log.Info(cfg.Name, " is running")
		recs, err := cfg.Store.Read(cfg.Ctx, cfg.Layer, cfg.BatchId)
		if err != nil {
			cfg.Log.Panic(cfg.Name, " unable to read layer ", cfg.Layer, ": ", err)
		}
		for _, rec := range recs { // for each committed row in the batch...
			if !safeSend(rec, outputChan, controlChan, sendNilControlResponse) { // if we were asked to shutdown...
				cfg.Log.Info(cfg.Name, " shutdown")
				return
			}
			atomic.AddInt64(&rowCount, 1)
			if cfg.Counts != nil {
				cfg.Counts.IncRead(1)
			}
		}
		close(outputChan) // we're done so close the channel we created.
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return outputChan, controlChan
}

type RecordSliceInputConfig struct {
	Log            logger.Logger
	Name           string
	Recs           []stream.Record
	Counts         *s.LoadCounts
	StepWatcher    *s.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
}

// NewRecordSliceInput fetches an in-memory slice of records onto the output channel.
// Used to feed freshly ingested source rows into the bronze pipeline.
func NewRecordSliceInput(i interface{}) (chan stream.Record, chan ControlAction) {
	cfg := i.(*RecordSliceInputConfig)
	outputChan := make(chan stream.Record, int(c.ChanSize))
	controlChan := make(chan ControlAction, 1)
	go func() {
		if cfg.PanicHandlerFn != nil {
			defer cfg.PanicHandlerFn()
		}
		if cfg.WaitCounter != nil {
			cfg.WaitCounter.Add()
			defer cfg.WaitCounter.Done()
		}
		rowCount := int64(0)
		if cfg.StepWatcher != nil {
			cfg.StepWatcher.StartWatching(&rowCount, &outputChan)
			defer cfg.StepWatcher.StopWatching()
		}
		cfg.Log.Info(cfg.Name, " is running")
		for _, rec := range cfg.Recs {
			if !safeSend(rec, outputChan, controlChan, sendNilControlResponse) {
				cfg.Log.Info(cfg.Name, " shutdown")
				return
			}
			atomic.AddInt64(&rowCount, 1)
			if cfg.Counts != nil {
				cfg.Counts.IncRead(1)
			}
		}
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return outputChan, controlChan
}
