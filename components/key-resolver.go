package components

import (
	"context"
	"sync/atomic"
	"time"

	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/dimension"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/stream"
)

// DimensionMapping says how one dimension's business key and tracked attributes are
// found in a fact row and which field receives the resolved surrogate key.
type DimensionMapping struct {
	Dimension        string   `json:"dimension" errorTxt:"dimension name" mandatory:"yes"`
	BusinessKeyField string   `json:"businessKeyField"`
	AttributeFields  []string `json:"attributeFields"`
	SurrogateField   string   `json:"surrogateField" errorTxt:"surrogate key field" mandatory:"yes"`
	VerifyOnly       bool     `json:"verifyOnly"` // the row already carries a surrogate key; verify it exists instead of resolving.
}

type KeyResolverConfig struct {
	Log            logger.Logger
	Name           string
	Ctx            context.Context
	InputChan      chan stream.Record
	Resolver       *dimension.Resolver
	Mappings       []DimensionMapping
	AsOf           time.Time // effective time for new SCD versions, normally the batch ingestion time.
	BatchId        string
	Counts         *stats.LoadCounts
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
}

// NewKeyResolver resolves each row's dimension business keys into surrogate keys and
// stamps the SCD outcome of the last mapping on the row.
func NewKeyResolver(i interface{}) (chan stream.Record, chan ControlAction) {
	cfg := i.(*KeyResolverConfig)
	if len(cfg.Mappings) == 0 {
		cfg.Log.Panic(cfg.Name, " requires at least one dimension mapping")
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
		fnResolveAndSend := func(rec stream.Record) bool {
			for _, m := range cfg.Mappings { // for each dimension this fact row references...
				if m.VerifyOnly { // if the row carries a pre-resolved surrogate key...
					var sk int64
					if v, ok := rec.GetDataOk(m.SurrogateField); ok {
						sk, _ = v.(int64) // a mistyped key fails verification below.
					}
					if err := cfg.Resolver.VerifySurrogate(m.Dimension, sk); err != nil {
						// A dangling reference excludes this record only; the batch continues.
						cfg.Log.Warn(cfg.Name, " excluding record: ", err)
						if cfg.Counts != nil {
							cfg.Counts.IncIntegrityExcluded(1)
						}
						return true
					}
					continue
				}
				bk := rec.GetDataAsStringUseUtcTime(cfg.Log, m.BusinessKeyField)
				if bk == "" {
					cfg.Log.Panic(cfg.Name, " row is missing business key field ", m.BusinessKeyField, " for dimension ", m.Dimension)
				}
				attrs := make(map[string]interface{}, len(m.AttributeFields))
				for _, f := range m.AttributeFields {
					if v, ok := rec.GetDataOk(f); ok {
						attrs[f] = v
					}
				}
				res, err := cfg.Resolver.Resolve(cfg.Ctx, m.Dimension, bk, attrs, cfg.AsOf, cfg.BatchId)
				if err != nil {
					cfg.Log.Panic(cfg.Name, " unable to resolve key for dimension ", m.Dimension, ": ", err)
				}
				rec.SetData(m.SurrogateField, res.SurrogateKey)
				rec.SetData(c.ScdStatusFieldName, res.Status)
				if cfg.Counts != nil {
					switch res.Status {
					case c.ScdValueNewKey:
						cfg.Counts.IncNewKeys(1)
					case c.ScdValueNewVersion:
						cfg.Counts.IncNewVersions(1)
					}
				}
			}
			return safeSend(rec, outputChan, controlChan, sendNilControlResponse)
		}
		var controlAction ControlAction
		for { // for each row of input...
			select {
			case rec, ok := <-cfg.InputChan:
				if !ok { // if the input channel was closed...
					cfg.InputChan = nil // disable this case.
				} else {
					if !fnResolveAndSend(rec) { // if we were asked to shutdown mid-send...
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
