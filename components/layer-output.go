package components

import (
	"context"
	"sync/atomic"

	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/storage"
	"github.com/strataetl/strata/stream"
)

type LayerOutputConfig struct {
	Log            logger.Logger
	Name           string
	Ctx            context.Context
	InputChan      chan stream.Record
	Store          storage.Store
	Layer          string // destination layer that rows are staged into.
	BatchId        string
	FlushBatchSize int // rows buffered between Stage calls; defaults to StoreBatchSizeDefault.
	Counts         *stats.LoadCounts
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
}

// NewLayerOutput stages each input row into the destination layer and passes it
// through on the output channel.  Rows stay invisible until the load commits the
// batch, so a failed load leaves no partial output behind.
func NewLayerOutput(i interface{}) (chan stream.Record, chan ControlAction) {
	cfg := i.(*LayerOutputConfig)
	if cfg.FlushBatchSize <= 0 {
		cfg.FlushBatchSize = c.StoreBatchSizeDefault
	}
	outputChan := make(chan stream.Record, c.ChanSize)
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
		buffer := make([]stream.Record, 0, cfg.FlushBatchSize)
		fnFlush := func() {
			if len(buffer) == 0 {
				return
			}
			if err := cfg.Store.Stage(cfg.Ctx, cfg.Layer, cfg.BatchId, buffer); err != nil {
				cfg.Log.Panic(cfg.Name, " unable to stage rows to layer ", cfg.Layer, ": ", err)
			}
			if cfg.Counts != nil {
				cfg.Counts.IncWritten(int64(len(buffer)))
			}
			buffer = buffer[:0]
		}
		var controlAction ControlAction
		for { // for each row of input...
			select {
			case rec, ok := <-cfg.InputChan:
				if !ok { // if the input channel was closed...
					cfg.InputChan = nil // disable this case.
				} else {
					buffer = append(buffer, rec)
					if len(buffer) >= cfg.FlushBatchSize {
						fnFlush()
					}
					if !safeSend(rec, outputChan, controlChan, sendNilControlResponse) { // if we were asked to shutdown mid-send...
						cfg.Log.Info(cfg.Name, " shutdown")
						return
					}
					atomic.AddInt64(&rowCount, 1)
				}
			case controlAction = <-controlChan: // if we were asked to shutdown...
			}
			if cfg.InputChan == nil || controlAction.Action == Shutdown {
				break
			}
		}
		if controlAction.Action == Shutdown {
			controlAction.ResponseChan <- nil
			cfg.Log.Info(cfg.Name, " shutdown")
			return
		} else { // else we ran out of rows to process...
			fnFlush() // stage the remaining rows; the load manager commits or discards them.
			close(outputChan)
			cfg.Log.Info(cfg.Name, " complete")
		}
	}()
	return outputChan, controlChan
}
