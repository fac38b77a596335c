package stats

import (
	"encoding/json"
	"sync/atomic"
)

// LoadCounts holds the per-batch record counters that the batch tracker reports.
// Counter fields use atomic operations for safe access from concurrent pipeline steps.
type LoadCounts struct {
	read              atomic.Int64
	filtered          atomic.Int64
	normalized        atomic.Int64
	validationFailed  atomic.Int64
	quarantined       atomic.Int64
	duplicatesDropped atomic.Int64
	integrityExcluded atomic.Int64
	newKeys           atomic.Int64
	newVersions       atomic.Int64
	written           atomic.Int64
}

func NewLoadCounts() *LoadCounts {
	return &LoadCounts{}
}

func (c *LoadCounts) IncRead(n int64) int64              { return c.read.Add(n) }
func (c *LoadCounts) IncFiltered(n int64) int64          { return c.filtered.Add(n) }
func (c *LoadCounts) IncNormalized(n int64) int64        { return c.normalized.Add(n) }
func (c *LoadCounts) IncValidationFailed(n int64) int64  { return c.validationFailed.Add(n) }
func (c *LoadCounts) IncQuarantined(n int64) int64       { return c.quarantined.Add(n) }
func (c *LoadCounts) IncDuplicatesDropped(n int64) int64 { return c.duplicatesDropped.Add(n) }
func (c *LoadCounts) IncIntegrityExcluded(n int64) int64 { return c.integrityExcluded.Add(n) }
func (c *LoadCounts) IncNewKeys(n int64) int64           { return c.newKeys.Add(n) }
func (c *LoadCounts) IncNewVersions(n int64) int64       { return c.newVersions.Add(n) }
func (c *LoadCounts) IncWritten(n int64) int64           { return c.written.Add(n) }

func (c *LoadCounts) Read() int64              { return c.read.Load() }
func (c *LoadCounts) Written() int64           { return c.written.Load() }
func (c *LoadCounts) ValidationFailed() int64  { return c.validationFailed.Load() }
func (c *LoadCounts) DuplicatesDropped() int64 { return c.duplicatesDropped.Load() }

// Map renders the counters in the shape the batch tracker stores.
func (c *LoadCounts) Map() map[string]int64 {
	return map[string]int64{
		"read":              c.read.Load(),
		"filtered":          c.filtered.Load(),
		"normalized":        c.normalized.Load(),
		"validationFailed":  c.validationFailed.Load(),
		"quarantined":       c.quarantined.Load(),
		"duplicatesDropped": c.duplicatesDropped.Load(),
		"integrityExcluded": c.integrityExcluded.Load(),
		"newKeys":           c.newKeys.Load(),
		"newVersions":       c.newVersions.Load(),
		"written":           c.written.Load(),
	}
}

// MarshalJSON implements json.Marshaler so the web API can serve live counters.
func (c *LoadCounts) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}
