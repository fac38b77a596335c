package storage

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/stream"
)

func newMockStore(t *testing.T) (*SqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSqlStoreWithDb(testLog(t), db), mock
}

func TestSqlStoreStageInsertsIntoStagingTable(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("insert into strata_silver_stg (batch_id,seq,rec_json) values ( ?,?,? ),( ?,?,? )").
		WithArgs("b1", 0, []byte(`{"id":1}`), "b1", 1, []byte(`{"id":2}`)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 1), rec("id", 2)})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlStoreStageContinuesSequenceAcrossCalls(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("insert into strata_silver_stg (batch_id,seq,rec_json) values ( ?,?,? )").
		WithArgs("b1", 0, []byte(`{"id":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into strata_silver_stg (batch_id,seq,rec_json) values ( ?,?,? )").
		WithArgs("b1", 1, []byte(`{"id":2}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 1)}))
	require.NoError(t, s.Stage(ctx, constants.LayerSilver, "b1", []stream.Record{rec("id", 2)}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlStoreCommitRunsInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("delete from strata_gold where batch_id = ?").
		WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into strata_gold (batch_id, seq, rec_json) select batch_id, seq, rec_json from strata_gold_stg where batch_id = ?").
		WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from strata_gold_stg where batch_id = ?").
		WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, s.Commit(ctx, constants.LayerGold, "b1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlStoreCommitRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("delete from strata_gold where batch_id = ?").
		WithArgs("b1").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.Commit(ctx, constants.LayerGold, "b1")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlStoreReadUnmarshalsRecords(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"rec_json"}).
		AddRow([]byte(`{"id":1,"name":"a"}`)).
		AddRow([]byte(`{"id":2,"name":"b"}`))
	mock.ExpectQuery("select rec_json from strata_silver where batch_id = ? order by seq").
		WithArgs("b1").WillReturnRows(rows)

	recs, err := s.Read(ctx, constants.LayerSilver, "b1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	name, ok := recs[1].GetDataOk("name")
	require.True(t, ok)
	assert.Equal(t, "b", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlStoreClearBatchSkipsCommittedBronze(t *testing.T) {
	s, mock := newMockStore(t)
	mock.MatchExpectationsInOrder(false)
	ctx := context.Background()

	for _, table := range []string{"strata_bronze", "strata_silver", "strata_gold"} {
		mock.ExpectExec("delete from "+table+"_stg where batch_id = ?").
			WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for _, table := range []string{"strata_silver", "strata_gold"} {
		mock.ExpectExec("delete from "+table+" where batch_id = ?").
			WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, s.ClearBatch(ctx, "b1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlStoreRejectsUnknownLayer(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.Read(context.Background(), "platinum", "b1")
	assert.Error(t, err)
}

func TestNewStoreDispatch(t *testing.T) {
	st, err := NewStore(testLog(t), ConnectionDetails{Type: constants.ConnectionTypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	_, err = NewStore(testLog(t), ConnectionDetails{Type: "bogus"})
	assert.Error(t, err)
}
