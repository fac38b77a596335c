package loader

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/dimension"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/storage"
	"github.com/strataetl/strata/stream"
)

// SeedResolver rebuilds dimension state from the gold layer so surrogate keys
// continue above the stored high-water mark after a restart.  Snapshots are
// written per batch; the last stored state of each surrogate key wins.
func SeedResolver(ctx context.Context, log logger.Logger, store storage.Store, resolver *dimension.Resolver) error {
	recs, err := store.ReadLayer(ctx, c.LayerGold)
	if err != nil {
		return errors.Wrap(err, "unable to read gold layer for dimension seeding")
	}
	latest := make(map[string]map[int64]dimension.Row) // dimension name -> surrogate key -> last stored row.
	for _, rec := range recs {
		v, ok := rec.GetDataOk(c.TableFieldName)
		if !ok {
			continue // fact rows carry no table tag.
		}
		table, _ := v.(string)
		if !strings.HasPrefix(table, "dim_") {
			continue
		}
		dimName := strings.TrimPrefix(table, "dim_")
		row, err := recordToDimensionRow(rec)
		if err != nil {
			return errors.Wrapf(err, "bad stored dimension row in %v", table)
		}
		if latest[dimName] == nil {
			latest[dimName] = make(map[int64]dimension.Row)
		}
		latest[dimName][row.SurrogateKey] = row // layer read order is batch then seq, so later batches win.
	}
	for _, dimName := range resolver.Dimensions() {
		byKey := latest[dimName]
		if len(byKey) == 0 {
			continue
		}
		rows := make([]dimension.Row, 0, len(byKey))
		for _, row := range byKey {
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].SurrogateKey < rows[j].SurrogateKey })
		if err := resolver.Seed(dimName, rows); err != nil {
			return err
		}
		log.Info("seeded dimension ", dimName, " with ", len(rows), " rows")
	}
	return nil
}

// recordToDimensionRow is the inverse of dimensionRowToRecord.  Numeric values may
// arrive as int64 (memory store) or float64 (JSON round trip through a SQL store).
func recordToDimensionRow(rec stream.Record) (dimension.Row, error) {
	row := dimension.Row{Attributes: make(map[string]interface{})}
	sk, ok := toInt64(get(rec, "surrogateKey"))
	if !ok {
		return row, errors.New("missing or mistyped surrogateKey")
	}
	row.SurrogateKey = sk
	row.BusinessKey, _ = get(rec, "businessKey").(string)
	if row.BusinessKey == "" {
		return row, errors.New("missing businessKey")
	}
	start, _ := get(rec, "effectiveStart").(string)
	ts, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return row, errors.Wrap(err, "bad effectiveStart")
	}
	row.EffectiveStart = ts
	if end, ok := get(rec, "effectiveEnd").(string); ok && end != "" {
		te, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return row, errors.Wrap(err, "bad effectiveEnd")
		}
		row.EffectiveEnd = &te
	}
	row.Current, _ = get(rec, "current").(bool)
	row.BatchId, _ = get(rec, "rowBatchId").(string)
	for k, v := range rec.GetDataMap() {
		if strings.HasPrefix(k, "attr_") {
			row.Attributes[strings.TrimPrefix(k, "attr_")] = v
		}
	}
	return row, nil
}

func get(rec stream.Record, name string) interface{} {
	v, _ := rec.GetDataOk(name)
	return v
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}
