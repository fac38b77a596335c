package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stream"
)

func testLog(t *testing.T) logger.Logger {
	t.Helper()
	return logger.NewLogger("test", "error", true)
}

func rec(k string, v interface{}) stream.Record {
	r := stream.NewRecord()
	r.SetData(k, v)
	return r
}

func TestMemoryStoreStageCommitRead(t *testing.T) {
	s := NewMemoryStore(testLog(t))
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 1)}))
	require.NoError(t, s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 2)}))

	// Staged rows must not be visible before Commit.
	rows, err := s.Read(ctx, constants.LayerSilver, "b1")
	require.NoError(t, err)
	assert.Len(t, rows, 0)

	require.NoError(t, s.Commit(ctx, constants.LayerSilver, "b1"))
	rows, err = s.Read(ctx, constants.LayerSilver, "b1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMemoryStoreCommitReplacesPriorOutput(t *testing.T) {
	s := NewMemoryStore(testLog(t))
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 1), rec("id", 2)}))
	require.NoError(t, s.Commit(ctx, constants.LayerSilver, "b1"))

	// A re-run stages a fresh set and commit replaces the old rows entirely.
	require.NoError(t, s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 3)}))
	require.NoError(t, s.Commit(ctx, constants.LayerSilver, "b1"))

	rows, err := s.Read(ctx, constants.LayerSilver, "b1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	v, _ := rows[0].GetDataOk("id")
	assert.Equal(t, 3, v)
}

func TestMemoryStoreDiscard(t *testing.T) {
	s := NewMemoryStore(testLog(t))
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, constants.LayerGold, "b1", []stream.Record{rec("id", 1)}))
	require.NoError(t, s.Discard(ctx, constants.LayerGold, "b1"))
	require.NoError(t, s.Commit(ctx, constants.LayerGold, "b1"))

	rows, err := s.Read(ctx, constants.LayerGold, "b1")
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestMemoryStoreClearBatchPreservesBronze(t *testing.T) {
	s := NewMemoryStore(testLog(t))
	ctx := context.Background()

	for _, layer := range []string{constants.LayerBronze, constants.LayerSilver, constants.LayerGold} {
		require.NoError(t, s.Stage(ctx, layer, "b1", []stream.Record{rec("id", 1)}))
		require.NoError(t, s.Commit(ctx, layer, "b1"))
	}

	require.NoError(t, s.ClearBatch(ctx, "b1"))

	rows, err := s.Read(ctx, constants.LayerBronze, "b1")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "bronze rows must survive ClearBatch")

	for _, layer := range []string{constants.LayerSilver, constants.LayerGold} {
		rows, err := s.Read(ctx, layer, "b1")
		require.NoError(t, err)
		assert.Len(t, rows, 0)
	}
}

func TestMemoryStoreReadLayer(t *testing.T) {
	s := NewMemoryStore(testLog(t))
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 1)}))
	require.NoError(t, s.Commit(ctx, constants.LayerSilver, "b1"))
	require.NoError(t, s.Stage(ctx, constants.LayerSilver, "b2", []stream.Record{rec("id", 2), rec("id", 3)}))
	require.NoError(t, s.Commit(ctx, constants.LayerSilver, "b2"))

	rows, err := s.ReadLayer(ctx, constants.LayerSilver)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestMemoryStoreHonoursContextCancellation(t *testing.T) {
	s := NewMemoryStore(testLog(t))
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 1)})
	assert.Error(t, err)
	_, err = s.Read(ctx, constants.LayerSilver, "b1")
	assert.Error(t, err)
}
