package components

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/diegoholiveira/jsonlogic"

	c "github.com/strataetl/strata/constants"
	log "github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/stream"
)

type FilterType string
type FilterMetadata string

type mapFilterFuncs map[FilterType]filterSetupFunc
type filterSetupFunc func(log log.Logger, metadata FilterMetadata) (filterFunc, error)
type filterFunc func(data stream.Record) (stream.Record, error)

const (
	FilterRowsJsonLogic  FilterType = "JsonLogic"
	FilterRowsAbortAfter FilterType = "AbortAfter"
)

var filterTypes = mapFilterFuncs{
	FilterRowsJsonLogic:  setupJsonLogicFilter,  // FilterMetadata is the JSON Logic rule.
	FilterRowsAbortAfter: setupAbortAfterFilter, // FilterMetadata is the max row count.
}

var errFilterAbortAfterExceededCount = errors.New("record count exceeded")

type FilterRowsConfig struct {
	Log            log.Logger
	Name           string
	InputChan      chan stream.Record
	FilterType     FilterType       // one of the keys in the filterTypes map.
	FilterMetadata FilterMetadata   // filter-specific config, see the filterTypes map.
	Counts         *stats.LoadCounts
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
}

// NewFilterRows accepts a FilterRowsConfig{} and outputs rows if they match the given filter.
// Rows the filter drops are counted but are not errors.
func NewFilterRows(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*FilterRowsConfig)
	fnGetFilter, ok := filterTypes[cfg.FilterType]
	if !ok {
		cfg.Log.Panic("unable to find filter function using name ", cfg.FilterType)
	}
	// Set up the filter by supplying the metadata.
	fnFilter, err := fnGetFilter(cfg.Log, cfg.FilterMetadata)
	if err != nil {
		cfg.Log.Panic("unable to setup filter ", cfg.FilterType, ": ", err)
	}
	outputChan = make(chan stream.Record, c.ChanSize)
	controlChan = make(chan ControlAction, 1)
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
		fnFilterAndSend := func(rec stream.Record) {
			data, err := fnFilter(rec)
			if err != nil { // if the filter function failed (which may be deliberate)...
				cfg.Log.Panic(cfg.Name, " aborting due to error: ", err)
			}
			if !data.RecordIsNil() { // if the filter returned a record...
				safeSend(data, outputChan, controlChan, sendNilControlResponse)
			} else if !rec.RecordIsNil() { // else a real input row was dropped...
				if cfg.Counts != nil {
					cfg.Counts.IncFiltered(1)
				}
			}
		}
		var controlAction ControlAction
		for { // for each row of input...
			select {
			case rec, ok := <-cfg.InputChan:
				if !ok { // if the input channel was closed...
					cfg.InputChan = nil // disable this case.
				} else { // else we have input to process...
					fnFilterAndSend(rec)
					atomic.AddInt64(&rowCount, 1) // increment the row count bearing in mind someone else is reporting on its values.
				}
			case controlAction = <-controlChan: // if we were asked to shutdown...
			}
			if cfg.InputChan == nil || controlAction.Action == Shutdown {
				break
			}
		}
		if controlAction.Action == Shutdown { // if we were asked to shutdown...
			controlAction.ResponseChan <- nil // respond that we're done with a nil error.
			cfg.Log.Info(cfg.Name, " shutdown")
			return
		} else { // else we ran out of rows to process...
			close(outputChan) // we're done so close the channel we created.
			cfg.Log.Info(cfg.Name, " complete")
		}
	}()
	return
}

// setupJsonLogicFilter returns a filterFunc that passes a record through when the
// JSON Logic rule supplied as metadata evaluates to true against the record's data.
func setupJsonLogicFilter(log log.Logger, metadata FilterMetadata) (filterFunc, error) {
	var result bytes.Buffer
	rule := string(metadata)
	logic := strings.NewReader(rule)
	if !jsonlogic.IsValid(logic) {
		return nil, fmt.Errorf("invalid %v rule: %v", FilterRowsJsonLogic, metadata)
	}
	// Return the worker function.
	return func(data stream.Record) (stream.Record, error) {
		if !data.RecordIsNil() {
			result.Reset()
			if err := applyJsonLogic(data, rule, &result); err != nil {
				log.Panic(err)
			}
			if strings.TrimSpace(result.String()) == "true" {
				return data, nil
			}
		}
		return stream.NewNilRecord(), nil // return nil if data is nil.
	}, nil
}

// setupAbortAfterFilter returns a filterFunc that counts records and causes an error
// if the count exceeds the (max) integer supplied in the metadata.
// If max == 0 then the filter is essentially disabled.
func setupAbortAfterFilter(log log.Logger, metadata FilterMetadata) (filterFunc, error) {
	count := 0
	max, err := strconv.Atoi(string(metadata))
	if err != nil {
		return nil, fmt.Errorf("error converting filter metadata value '%v' to an integer: %w", metadata, err)
	}
	return func(data stream.Record) (stream.Record, error) {
		if !data.RecordIsNil() { // if there is a valid record...
			count++
			if max != 0 && count > max { // if the count has exceeded the number of rows we are allowed to pass through...
				return stream.NewNilRecord(), errFilterAbortAfterExceededCount
			}
		} // else pass the record downstream...
		return data, nil
	}, nil
}
