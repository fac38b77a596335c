package stats

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stream"
)

func testLog() logger.Logger {
	return logger.NewLogger("test", "error", true)
}

func TestStepWatcherCountsRows(t *testing.T) {
	log := testLog()
	sw := NewStepWatcher(log, "normalizer")
	var rowCount int64
	ch := make(chan stream.Record, 10)
	sw.StartWatching(&rowCount, &ch)
	atomic.AddInt64(&rowCount, 42)
	ch <- stream.NewRecord()
	sw.StopWatching()

	s := sw.RenderStats()
	assert.Equal(t, "normalizer", s.StepName)
	assert.Equal(t, "complete", s.StatusText)
	assert.Equal(t, 42, s.TotalRowsProcessed)
	assert.Equal(t, 0, s.OutputBufferLen, "buffer length resets once the step stops")
}

func TestLoadStatsManagerRendersStepsInOrder(t *testing.T) {
	m := NewLoadStats(testLog(), SetStatsDumpFrequency(0))
	var c1, c2 int64
	ch := make(chan stream.Record, 1)
	m.AddStepWatcher("input").StartWatching(&c1, &ch)
	m.AddStepWatcher("output").StartWatching(&c2, &ch)

	m.StartDumping() // frequency 0 means dumping is disabled; must not panic.
	m.StopDumping()

	all := m.GetStats()
	require.Len(t, all, 2)
	assert.Equal(t, "input", all[0].StepName)
	assert.Equal(t, "output", all[1].StepName)
}

func TestLoadCountsConcurrentIncrements(t *testing.T) {
	c := NewLoadCounts()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.IncRead(1)
				c.IncWritten(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), c.Read())
	assert.Equal(t, int64(800), c.Written())
}

func TestLoadCountsMarshalJSON(t *testing.T) {
	c := NewLoadCounts()
	c.IncRead(5)
	c.IncDuplicatesDropped(2)
	b, err := json.Marshal(c)
	require.NoError(t, err)
	var m map[string]int64
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, int64(5), m["read"])
	assert.Equal(t, int64(2), m["duplicatesDropped"])
	assert.Contains(t, m, "newVersions")
}
