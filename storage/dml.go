package storage

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/strataetl/strata/logger"
)

// sqlInsertBatch generates multi-row INSERT statements with '?' bind variables
// so a commit can push StoreBatchSizeDefault rows per round trip.
type sqlInsertBatch struct {
	log             logger.Logger
	table           string
	colList         []string
	batchSize       int
	rowsInBatch     int
	prevRowsInBatch int
	sqlStmtTemplate string
	sqlStmt         string
	sqlValues       []interface{}
}

func newInsertBatch(log logger.Logger, table string, cols []string) *sqlInsertBatch {
	o := &sqlInsertBatch{log: log, table: table, colList: cols}
	o.sqlStmtTemplate = fmt.Sprintf("insert into %v (%v) values <VALUES>", table, strings.Join(cols, ","))
	log.Debug("setup INSERT generator with SQL (VALUES pending): ", o.sqlStmtTemplate)
	return o
}

func (o *sqlInsertBatch) initBatch(batchSize int) {
	if o.prevRowsInBatch != batchSize { // if we have a new batch size and need to generate SQL...
		o.sqlStmt = o.sqlStmtTemplate
	}
	o.batchSize = batchSize
	o.rowsInBatch = 0
	o.sqlValues = make([]interface{}, 0, batchSize*len(o.colList)) // many values per row in a batch.
}

func (o *sqlInsertBatch) addValuesToBatch(values []interface{}) (batchIsFull bool, err error) {
	if o.rowsInBatch >= o.batchSize {
		return true, errors.New("no more rows allowed in INSERT batch")
	}
	if len(values) != len(o.colList) {
		return false, errors.New("the number of values supplied does not match the number of table columns")
	}
	o.sqlValues = append(o.sqlValues, values...)
	o.rowsInBatch++
	return o.rowsInBatch >= o.batchSize, nil // full means the caller should exec SQL.
}

func (o *sqlInsertBatch) getValues() []interface{} {
	return o.sqlValues
}

func (o *sqlInsertBatch) getStatement() string {
	if o.prevRowsInBatch != o.batchSize { // if we have a new batch size and need to generate SQL...
		allRows := strings.Builder{}
		for rowIdx := 0; rowIdx < o.rowsInBatch; rowIdx++ { // for each row in the batch...
			row := strings.Builder{}
			for idy := 0; idy < len(o.colList); idy++ {
				row.WriteString(",?")
			}
			allRows.WriteString(fmt.Sprintf(",( %v )", strings.TrimLeft(row.String(), ",")))
		}
		o.sqlStmt = strings.Replace(o.sqlStmt, "<VALUES>", strings.TrimLeft(allRows.String(), ","), 1)
		o.prevRowsInBatch = o.batchSize
	} // else the batch size is unchanged and we can use cached SQL...
	o.log.Debug("SQL batch INSERT generated statement: ", o.sqlStmt)
	return o.sqlStmt
}
