// Package storage provides the layered-table interface between the pipeline core
// and whatever physical store holds the bronze/silver/gold layers.  Writes go to a
// staging area first and become visible only on Commit, so destination-layer
// content per batch id is all-or-nothing.
package storage

import (
	"context"

	"github.com/strataetl/strata/stream"
)

// Store abstracts reads and writes against the layered tables.
// Implementations must honour context deadlines on every call.
type Store interface {
	// Read returns all committed rows belonging to a batch in a layer.
	Read(ctx context.Context, layer, batchId string) ([]stream.Record, error)
	// ReadLayer returns all committed rows in a layer regardless of batch, used to
	// seed the key resolver from the gold layer at startup.
	ReadLayer(ctx context.Context, layer string) ([]stream.Record, error)
	// Stage buffers rows for a batch in a layer without making them visible.
	Stage(ctx context.Context, layer, batchId string, recs []stream.Record) error
	// Commit atomically replaces any committed rows for the batch in the layer with
	// the staged rows.  A re-run therefore overwrites prior output, never mixes with it.
	Commit(ctx context.Context, layer, batchId string) error
	// Discard drops staged rows for the batch in the layer.
	Discard(ctx context.Context, layer, batchId string) error
	// ClearBatch removes committed and staged output owned by the batch across all
	// layers except bronze, which is immutable and append-only.  The batch tracker
	// calls this before a retry.
	ClearBatch(ctx context.Context, batchId string) error
	// Close releases any underlying connections.
	Close() error
}

// ConnectionDetails names a storage connection for the CLI and pipe definitions.
type ConnectionDetails struct {
	Type string `json:"type" errorTxt:"connection type" mandatory:"yes"` // memory|sqlserver|snowflake
	Dsn  string `json:"dsn,omitempty"`                                   // database URL for SQL stores; may come from env.
}
