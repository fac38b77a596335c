package storage

import (
	"context"
	"sync"

	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stream"
)

// MemoryStore is an in-process Store used by tests and demo pipes.
// Committed and staged rows are kept in separate maps keyed by layer then batch id;
// Commit swaps staged rows in under the lock so readers never observe a mix of old
// and new rows for one batch.
type MemoryStore struct {
	log       logger.Logger
	mu        sync.RWMutex
	committed map[string]map[string][]stream.Record
	staged    map[string]map[string][]stream.Record
}

func NewMemoryStore(log logger.Logger) *MemoryStore {
	return &MemoryStore{
		log:       log,
		committed: make(map[string]map[string][]stream.Record),
		staged:    make(map[string]map[string][]stream.Record),
	}
}

func (m *MemoryStore) Read(ctx context.Context, layer, batchId string) ([]stream.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.committed[layer][batchId]
	out := make([]stream.Record, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *MemoryStore) ReadLayer(ctx context.Context, layer string) ([]stream.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]stream.Record, 0)
	for _, rows := range m.committed[layer] {
		out = append(out, rows...)
	}
	return out, nil
}

func (m *MemoryStore) Stage(ctx context.Context, layer, batchId string, recs []stream.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged[layer] == nil {
		m.staged[layer] = make(map[string][]stream.Record)
	}
	m.staged[layer][batchId] = append(m.staged[layer][batchId], recs...)
	return nil
}

func (m *MemoryStore) Commit(ctx context.Context, layer, batchId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.staged[layer][batchId]
	if m.committed[layer] == nil {
		m.committed[layer] = make(map[string][]stream.Record)
	}
	m.committed[layer][batchId] = rows // replace, never append: re-runs overwrite prior output.
	delete(m.staged[layer], batchId)
	m.log.Debug("memory store committed ", len(rows), " rows to ", layer, " for batch ", batchId)
	return nil
}

func (m *MemoryStore) Discard(ctx context.Context, layer, batchId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged[layer] != nil {
		delete(m.staged[layer], batchId)
	}
	return nil
}

func (m *MemoryStore) ClearBatch(ctx context.Context, batchId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for layer := range m.staged {
		delete(m.staged[layer], batchId)
	}
	for layer := range m.committed {
		if layer == constants.LayerBronze { // bronze is immutable: raw data survives retries.
			continue
		}
		delete(m.committed[layer], batchId)
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
