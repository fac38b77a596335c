package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/denisenkom/go-mssqldb" // sqlserver driver.
	"github.com/pkg/errors"
	_ "github.com/snowflakedb/gosnowflake" // snowflake driver.
	"github.com/xo/dburl"

	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stream"
)

var layerTables = map[string]string{
	constants.LayerBronze: "strata_bronze",
	constants.LayerSilver: "strata_silver",
	constants.LayerGold:   "strata_gold",
}

// SqlStore persists layer rows to a SQL database reached via a database URL.
// Each layer maps to a pair of tables, <table> and <table>_stg, holding columns
// (batch_id, seq, rec_json).  Stage writes to the staging table and Commit moves
// the batch into the main table inside one transaction.
type SqlStore struct {
	log       logger.Logger
	db        *sql.DB
	batchSize int
	mu        sync.Mutex
	seq       map[string]int // next seq per layer+batch so staged rows keep arrival order.
}

// NewSqlStore opens the database named by the DSN using dburl to pick the driver.
func NewSqlStore(log logger.Logger, dsn string) (*SqlStore, error) {
	db, err := dburl.Open(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open database connection")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "unable to ping database")
	}
	return NewSqlStoreWithDb(log, db), nil
}

// NewSqlStoreWithDb wraps an existing database handle.  Used by tests.
func NewSqlStoreWithDb(log logger.Logger, db *sql.DB) *SqlStore {
	return &SqlStore{
		log:       log,
		db:        db,
		batchSize: constants.StoreBatchSizeDefault,
		seq:       make(map[string]int),
	}
}

func tableForLayer(layer string) (string, error) {
	t, ok := layerTables[layer]
	if !ok {
		return "", errors.Errorf("unknown layer %q", layer)
	}
	return t, nil
}

func (s *SqlStore) Read(ctx context.Context, layer, batchId string) ([]stream.Record, error) {
	table, err := tableForLayer(layer)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("select rec_json from %v where batch_id = ? order by seq", table)
	rows, err := s.db.QueryContext(ctx, q, batchId)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read batch %v from layer %v", batchId, layer)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *SqlStore) ReadLayer(ctx context.Context, layer string) ([]stream.Record, error) {
	table, err := tableForLayer(layer)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("select rec_json from %v order by batch_id, seq", table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read layer %v", layer)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]stream.Record, error) {
	recs := make([]stream.Record, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "unable to scan row")
		}
		var data map[string]interface{}
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, errors.Wrap(err, "unable to unmarshal stored record")
		}
		rec := stream.NewRecord()
		for k, v := range data {
			rec.SetData(k, v)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error while reading rows")
	}
	return recs, nil
}

func (s *SqlStore) Stage(ctx context.Context, layer, batchId string, recs []stream.Record) error {
	table, err := tableForLayer(layer)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	s.mu.Lock()
	seqKey := layer + "/" + batchId
	seq := s.seq[seqKey]
	s.seq[seqKey] = seq + len(recs)
	s.mu.Unlock()
	batcher := newInsertBatch(s.log, table+"_stg", []string{"batch_id", "seq", "rec_json"})
	idx := 0
	for idx < len(recs) {
		chunk := len(recs) - idx
		if chunk > s.batchSize {
			chunk = s.batchSize
		}
		batcher.initBatch(chunk)
		for i := 0; i < chunk; i++ {
			payload, err := json.Marshal(recs[idx+i].GetDataMap())
			if err != nil {
				return errors.Wrap(err, "unable to marshal record for staging")
			}
			if _, err := batcher.addValuesToBatch([]interface{}{batchId, seq, payload}); err != nil {
				return err
			}
			seq++
		}
		if _, err := s.db.ExecContext(ctx, batcher.getStatement(), batcher.getValues()...); err != nil {
			return errors.Wrapf(err, "unable to stage rows for batch %v in layer %v", batchId, layer)
		}
		idx += chunk
	}
	return nil
}

func (s *SqlStore) Commit(ctx context.Context, layer, batchId string) error {
	table, err := tableForLayer(layer)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to begin commit transaction")
	}
	stmts := []string{
		fmt.Sprintf("delete from %v where batch_id = ?", table),
		fmt.Sprintf("insert into %v (batch_id, seq, rec_json) select batch_id, seq, rec_json from %v_stg where batch_id = ?", table, table),
		fmt.Sprintf("delete from %v_stg where batch_id = ?", table),
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, batchId); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "unable to commit batch %v to layer %v", batchId, layer)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "unable to commit batch %v to layer %v", batchId, layer)
	}
	s.mu.Lock()
	delete(s.seq, layer+"/"+batchId)
	s.mu.Unlock()
	s.log.Debug("sql store committed batch ", batchId, " to ", layer)
	return nil
}

func (s *SqlStore) Discard(ctx context.Context, layer, batchId string) error {
	table, err := tableForLayer(layer)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("delete from %v_stg where batch_id = ?", table), batchId); err != nil {
		return errors.Wrapf(err, "unable to discard staged rows for batch %v in layer %v", batchId, layer)
	}
	s.mu.Lock()
	delete(s.seq, layer+"/"+batchId)
	s.mu.Unlock()
	return nil
}

func (s *SqlStore) ClearBatch(ctx context.Context, batchId string) error {
	for layer, table := range layerTables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("delete from %v_stg where batch_id = ?", table), batchId); err != nil {
			return errors.Wrapf(err, "unable to clear staged rows for batch %v in layer %v", batchId, layer)
		}
		if layer == constants.LayerBronze { // bronze is immutable: only its staging area is cleared.
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("delete from %v where batch_id = ?", table), batchId); err != nil {
			return errors.Wrapf(err, "unable to clear committed rows for batch %v in layer %v", batchId, layer)
		}
	}
	s.mu.Lock()
	for layer := range layerTables {
		delete(s.seq, layer+"/"+batchId)
	}
	s.mu.Unlock()
	return nil
}

func (s *SqlStore) Close() error {
	return s.db.Close()
}

// NewStore builds a Store from connection details, dispatching on the connection type.
func NewStore(log logger.Logger, d ConnectionDetails) (Store, error) {
	switch d.Type {
	case constants.ConnectionTypeMemory:
		return NewMemoryStore(log), nil
	case constants.ConnectionTypeSqlServer, constants.ConnectionTypeSnowflake:
		return NewSqlStore(log, d.Dsn)
	default:
		return nil, errors.Errorf("unsupported connection type %q", d.Type)
	}
}
