package components

import (
	"sync/atomic"

	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/dedupe"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/stream"
)

type DeduplicatorConfig struct {
	Log            logger.Logger
	Name           string
	InputChan      chan stream.Record
	BusinessKeys   []string // field names forming the business key.
	TimestampField string   // optional; defaults inside the dedupe package.
	SeqField       string   // optional tie-break field.
	Counts         *stats.LoadCounts
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
}

// NewDeduplicator collects its whole input then emits one winner per business key.
// This step blocks the pipeline until its input channel closes: the winner of a
// group can arrive last, so nothing can be emitted early.
func NewDeduplicator(i interface{}) (chan stream.Record, chan ControlAction) {
	cfg := i.(*DeduplicatorConfig)
	if len(cfg.BusinessKeys) == 0 {
		cfg.Log.Panic(cfg.Name, " requires at least one business key field")
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
		// Collect the full input before deduplicating.
		buffered := make([]stream.Record, 0, c.ChanSize)
		var controlAction ControlAction
		for {
			select {
			case rec, ok := <-cfg.InputChan:
				if !ok { // if the input channel was closed...
					cfg.InputChan = nil // disable this case.
				} else {
					buffered = append(buffered, rec)
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
		}
		winners, report := dedupe.Deduplicate(&dedupe.Config{
			Log:            cfg.Log,
			BusinessKeys:   cfg.BusinessKeys,
			TimestampField: cfg.TimestampField,
			SeqField:       cfg.SeqField,
		}, buffered)
		if cfg.Counts != nil {
			cfg.Counts.IncDuplicatesDropped(int64(report.Losers))
		}
		cfg.Log.Info(cfg.Name, " deduplicated ", len(buffered), " rows into ", report.Winners, " winners (", report.Losers, " losers)")
		if report.Losers > 0 {
			cfg.Log.Debug(cfg.Name, " duplicate business keys: ", helper.StringsToCsv(report.LoserKeys))
		}
		for _, rec := range winners {
			rec.SetData(c.DedupStatusFieldName, c.DedupValueWinner)
			if !safeSend(rec, outputChan, controlChan, sendNilControlResponse) { // if we were asked to shutdown mid-send...
				cfg.Log.Info(cfg.Name, " shutdown")
				return
			}
		}
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return outputChan, controlChan
}
