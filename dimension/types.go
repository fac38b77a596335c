// Package dimension resolves business keys to stable surrogate keys and keeps
// SCD Type-2 history for dimensions whose tracked attributes change over time.
package dimension

import (
	"time"
)

// Spec describes one dimension known to the resolver.
type Spec struct {
	Name              string   `json:"name" errorTxt:"dimension name" mandatory:"yes"`
	BusinessKeyField  string   `json:"businessKeyField" errorTxt:"business key field" mandatory:"yes"`
	TrackedAttributes []string `json:"trackedAttributes,omitempty"` // attribute fields compared for SCD change detection.
	ScdEnabled        bool     `json:"scdEnabled,omitempty"`        // when false, attribute changes overwrite in place (Type 1).
}

// Row is one versioned instance of a business entity.
// Surrogate keys are system generated, never reused, and referenced by fact rows.
// For SCD-tracked dimensions the effective interval pair records history; at most
// one row per business key has an open (current) interval.
type Row struct {
	SurrogateKey   int64                  `json:"surrogateKey"`
	BusinessKey    string                 `json:"businessKey"`
	Attributes     map[string]interface{} `json:"attributes"`
	EffectiveStart time.Time              `json:"effectiveStart"`
	EffectiveEnd   *time.Time             `json:"effectiveEnd,omitempty"` // nil while the row is current.
	Current        bool                   `json:"current"`
	BatchId        string                 `json:"batchId"` // lineage: the batch that created this version.
}

// Resolution reports the outcome of resolving one business key.
type Resolution struct {
	SurrogateKey int64
	Status       string // constants.ScdValueNewKey | ScdValueUnchanged | ScdValueNewVersion
}
