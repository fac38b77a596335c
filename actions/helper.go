package actions

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"

	"github.com/strataetl/strata/stream"
)

// readRowsFile reads an input file of source rows: either one JSON array of
// objects, or newline-delimited JSON objects.  CSV parsing lives with the
// external ingestion mechanism, not here.
func readRowsFile(fileName string) ([]map[string]interface{}, error) {
	b, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read input file %v", fileName)
	}
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' { // if the file holds one JSON array...
		var rows []map[string]interface{}
		if err := json.Unmarshal(b, &rows); err != nil {
			return nil, errors.Wrapf(err, "unable to parse input file %v", fileName)
		}
		return rows, nil
	}
	// else newline-delimited JSON...
	rows := make([]map[string]interface{}, 0)
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row := make(map[string]interface{})
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, errors.Wrapf(err, "unable to parse line %v of input file %v", lineNum, fileName)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "unable to read input file %v", fileName)
	}
	return rows, nil
}

// rowsToRecords converts raw field maps into stream records.
func rowsToRecords(rows []map[string]interface{}) []stream.Record {
	recs := make([]stream.Record, 0, len(rows))
	for _, row := range rows {
		rec := stream.NewRecord()
		for k, v := range row {
			rec.SetData(k, v)
		}
		recs = append(recs, rec)
	}
	return recs
}
