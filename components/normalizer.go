package components

import (
	"sync/atomic"

	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/schema"
	"github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/stream"
)

type NormalizerConfig struct {
	Log            logger.Logger
	Name           string
	InputChan      chan stream.Record
	Schema         *schema.Schema
	ErrorPolicy    string             // constants.ErrorPolicyDrop | Quarantine | Fail.
	QuarantineChan chan stream.Record // receives failed raw rows when the policy is quarantine; closed by this component.
	Counts         *stats.LoadCounts
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
}

// NewNormalizer casts and validates each input row against the schema and outputs
// the canonical form.  Rows that fail validation follow the configured policy:
// drop discards them, quarantine routes the raw row plus its errors to the
// quarantine channel, fail aborts the whole load on the first bad row.
func NewNormalizer(i interface{}) (chan stream.Record, chan ControlAction) {
	cfg := i.(*NormalizerConfig)
	if cfg.ErrorPolicy == "" {
		cfg.ErrorPolicy = c.ErrorPolicyFail
	}
	if cfg.ErrorPolicy == c.ErrorPolicyQuarantine && cfg.QuarantineChan == nil {
		cfg.Log.Panic(cfg.Name, " quarantine policy requires a quarantine channel")
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
		if cfg.QuarantineChan != nil {
			defer close(cfg.QuarantineChan)
		}
		cfg.Log.Info(cfg.Name, " is running")
		fnNormalizeAndSend := func(rec stream.Record) bool {
			canonical, verr := schema.Normalize(cfg.Log, rec, cfg.Schema)
			if verr == nil { // if the row is clean...
				if cfg.Counts != nil {
					cfg.Counts.IncNormalized(1)
				}
				return safeSend(canonical, outputChan, controlChan, sendNilControlResponse)
			}
			if cfg.Counts != nil {
				cfg.Counts.IncValidationFailed(1)
			}
			switch cfg.ErrorPolicy {
			case c.ErrorPolicyDrop:
				cfg.Log.Debug(cfg.Name, " dropped row: ", verr)
			case c.ErrorPolicyQuarantine:
				bad := rec.Copy()
				bad.SetData(c.ValidationErrorsFieldName, verr.Error())
				cfg.QuarantineChan <- bad
				if cfg.Counts != nil {
					cfg.Counts.IncQuarantined(1)
				}
			default: // fail: the first bad row aborts the load.
				cfg.Log.Panic(cfg.Name, " aborting due to validation error: ", verr)
			}
			return true
		}
		var controlAction ControlAction
		for { // for each row of input...
			select {
			case rec, ok := <-cfg.InputChan:
				if !ok { // if the input channel was closed...
					cfg.InputChan = nil // disable this case.
				} else {
					if !fnNormalizeAndSend(rec) { // if we were asked to shutdown mid-send...
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
		} else {
			close(outputChan)
			cfg.Log.Info(cfg.Name, " complete")
		}
	}()
	return outputChan, controlChan
}
