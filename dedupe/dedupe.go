// Package dedupe retains exactly one winning record per business key.
// The comparator is total and reproducible: the same input set always yields
// the same winner regardless of input order, so a re-run of a batch produces
// identical silver-layer content.
package dedupe

import (
	"sort"
	"strings"
	"time"

	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stream"
)

type Config struct {
	Log            logger.Logger
	BusinessKeys   []string // field names forming the business key; mandatory.
	TimestampField string   // field holding the load timestamp; defaults to stream.FieldLoadTime.
	SeqField       string   // tie-break field; defaults to stream.FieldSeq (insertion order within the batch).
}

// Report describes the outcome of one deduplication pass.
// Losers are not errors - they are counted and their keys reported.
type Report struct {
	GroupCount int      `json:"groupCount"`
	Winners    int      `json:"winners"`
	Losers     int      `json:"losers"`
	LoserKeys  []string `json:"loserKeys,omitempty"`
}

// Deduplicate groups the supplied records by business key and returns one winner per
// group plus a report of the losers.  Winners are returned sorted by business key so
// output order is reproducible.  Empty input returns empty output; a single-record
// group is a no-op.
func Deduplicate(cfg *Config, recs []stream.Record) ([]stream.Record, Report) {
	report := Report{}
	if len(recs) == 0 { // degenerate case: nothing to do.
		return []stream.Record{}, report
	}
	tsField := cfg.TimestampField
	if tsField == "" {
		tsField = stream.FieldLoadTime
	}
	seqField := cfg.SeqField
	if seqField == "" {
		seqField = stream.FieldSeq
	}
	// Group records by business key.
	groups := make(map[string][]stream.Record)
	for _, rec := range recs { // for each input record...
		key := businessKey(cfg.Log, rec, cfg.BusinessKeys)
		groups[key] = append(groups[key], rec)
	}
	report.GroupCount = len(groups)
	// Pick the winner per group.
	winners := make([]stream.Record, 0, len(groups))
	for k, group := range groups { // for each business key group...
		winner := group[0]
		for _, candidate := range group[1:] { // for each remaining record in the group...
			if beats(cfg.Log, candidate, winner, tsField, seqField) {
				winner = candidate
			}
		}
		winners = append(winners, winner)
		report.Winners++
		if n := len(group) - 1; n > 0 { // if this group had losers...
			report.Losers += n
			report.LoserKeys = append(report.LoserKeys, k)
		}
	}
	// Reproducible output order regardless of map iteration order.
	keyFields := helper.StringSliceToOrderedMap(cfg.BusinessKeys)
	sort.Slice(winners, func(i, j int) bool {
		return winners[i].DataCanJoinByKeyFields(cfg.Log, winners[j], keyFields) < 0
	})
	sort.Strings(report.LoserKeys)
	return winners, report
}

// businessKey builds the composite key string for grouping.
func businessKey(log logger.Logger, rec stream.Record, fields []string) string {
	return strings.Join(rec.GetDataKeysAsSlice(log, fields), "\x1f") // unit separator avoids collisions between composite values.
}

// beats returns true if candidate a should replace current winner b.
// The highest load timestamp wins.  Timestamps are compared as instants so a
// time.Time value and an RFC3339 string stamped by the loader order correctly
// against each other; a record whose timestamp doesn't parse loses to one whose
// does.  Ties fall back to the highest sequence value so the last-ingested
// record of a tied pair is retained.
func beats(log logger.Logger, a, b stream.Record, tsField, seqField string) bool {
	aT, aS, aOk := loadInstant(log, a, tsField)
	bT, bS, bOk := loadInstant(log, b, tsField)
	switch {
	case aOk && bOk:
		if !aT.Equal(bT) {
			return aT.After(bT)
		}
	case aOk != bOk:
		return aOk
	default: // neither parses: the UTC string form keeps the comparison total.
		if aS != bS {
			return aS > bS
		}
	}
	aSeq := valueOrEmpty(log, a, seqField)
	bSeq := valueOrEmpty(log, b, seqField)
	return padNumeric(aSeq) > padNumeric(bSeq)
}

// loadInstant fetches a record's load timestamp as an instant when it parses,
// plus its string form for the fallback comparison.
func loadInstant(log logger.Logger, rec stream.Record, field string) (time.Time, string, bool) {
	v, ok := rec.GetDataOk(field)
	if !ok || v == nil {
		return time.Time{}, "", false
	}
	if t, isTime := v.(time.Time); isTime {
		return t, helper.GetStringFromInterfaceUseUtcTime(log, v), true
	}
	s := helper.GetStringFromInterfaceUseUtcTime(log, v)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, constants.TimeFormatYearSecondsTZ, constants.TimeFormatYearSeconds} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, s, true
		}
	}
	return time.Time{}, s, false
}

func valueOrEmpty(log logger.Logger, rec stream.Record, field string) string {
	if v, ok := rec.GetDataOk(field); ok {
		return helper.GetStringFromInterfaceUseUtcTime(log, v)
	}
	return ""
}

// padNumeric left-pads digit strings so "10" sorts after "9".
func padNumeric(s string) string {
	if s == "" {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s // not a plain number; compare as-is.
		}
	}
	const width = 20
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
