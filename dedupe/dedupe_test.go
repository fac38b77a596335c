package dedupe

import (
	"testing"
	"time"

	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stream"
)

func mkRec(orderId int, loadTs time.Time, seq int, payload string) stream.Record {
	r := stream.NewRecord()
	r.SetData("orderId", orderId)
	r.SetData("payload", payload)
	r.SetData(stream.FieldLoadTime, loadTs)
	r.SetData(stream.FieldSeq, seq)
	return r
}

func TestDeduplicateLatestTimestampWins(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	t1 := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	cfg := &Config{Log: log, BusinessKeys: []string{"orderId"}}
	winners, report := Deduplicate(cfg, []stream.Record{
		mkRec(1, t1, 0, "old"),
		mkRec(1, t2, 1, "new"),
	})
	if len(winners) != 1 {
		t.Fatalf("expected 1 winner; got %v", len(winners))
	}
	if winners[0].GetData("payload") != "new" {
		t.Fatalf("expected the t2 record to win; got %v", winners[0].GetDataMap())
	}
	if report.Losers != 1 || report.Winners != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestDeduplicateIsOrderIndependent(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	t1 := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	recs := []stream.Record{
		mkRec(7, t1, 3, "c"),
		mkRec(7, t1, 1, "a"),
		mkRec(7, t1, 2, "b"),
	}
	cfg := &Config{Log: log, BusinessKeys: []string{"orderId"}}
	winners1, _ := Deduplicate(cfg, recs)
	// Reverse the input order and run again.
	reversed := []stream.Record{recs[2], recs[1], recs[0]}
	winners2, _ := Deduplicate(cfg, reversed)
	if winners1[0].GetData("payload") != winners2[0].GetData("payload") {
		t.Fatalf("winner depends on input order: %v vs %v",
			winners1[0].GetData("payload"), winners2[0].GetData("payload"))
	}
	// Equal timestamps fall back to the highest sequence.
	if winners1[0].GetData("payload") != "c" {
		t.Fatalf("expected seq 3 to win the tie; got %v", winners1[0].GetDataMap())
	}
}

func TestDeduplicateSeqTieBreakSortsNumerically(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	t1 := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	cfg := &Config{Log: log, BusinessKeys: []string{"orderId"}}
	// Seq 10 must beat seq 9 even though "10" < "9" as strings.
	winners, _ := Deduplicate(cfg, []stream.Record{
		mkRec(1, t1, 9, "nine"),
		mkRec(1, t1, 10, "ten"),
	})
	if winners[0].GetData("payload") != "ten" {
		t.Fatalf("expected seq 10 to win; got %v", winners[0].GetDataMap())
	}
}

func TestDeduplicateOrdersMixedTimestampForms(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	earlier := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	cfg := &Config{Log: log, BusinessKeys: []string{"orderId"}}
	// One record carries its load time as a time.Time, the other as the RFC3339
	// string the loader stamps.  The two string forms do not sort against each
	// other, so the comparison must happen on the parsed instants.
	older := mkRec(1, earlier, 0, "older")
	newer := stream.NewRecord()
	newer.SetData("orderId", 1)
	newer.SetData("payload", "newer")
	newer.SetData(stream.FieldLoadTime, earlier.Add(time.Hour).Format(time.RFC3339))
	newer.SetData(stream.FieldSeq, 1)
	winners, _ := Deduplicate(cfg, []stream.Record{newer, older})
	if winners[0].GetData("payload") != "newer" {
		t.Fatalf("expected the later instant to win across timestamp forms; got %v", winners[0].GetDataMap())
	}
	// Reversed value placement: the later instant is the time.Time.
	winners, _ = Deduplicate(cfg, []stream.Record{
		mkRec(2, earlier.Add(2*time.Hour), 0, "latest"),
		func() stream.Record {
			r := stream.NewRecord()
			r.SetData("orderId", 2)
			r.SetData("payload", "stale")
			r.SetData(stream.FieldLoadTime, earlier.Format(time.RFC3339))
			r.SetData(stream.FieldSeq, 1)
			return r
		}(),
	})
	if winners[0].GetData("payload") != "latest" {
		t.Fatalf("expected the later instant to win across timestamp forms; got %v", winners[0].GetDataMap())
	}
}

func TestDeduplicateDegenerateCases(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	cfg := &Config{Log: log, BusinessKeys: []string{"orderId"}}
	// Empty input returns empty output.
	winners, report := Deduplicate(cfg, nil)
	if len(winners) != 0 || report.Winners != 0 {
		t.Fatalf("expected empty result; got %v winners", len(winners))
	}
	// Single-record group is a no-op.
	t1 := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	winners, report = Deduplicate(cfg, []stream.Record{mkRec(5, t1, 0, "only")})
	if len(winners) != 1 || report.Losers != 0 {
		t.Fatalf("unexpected result for single-record group: %v, %+v", len(winners), report)
	}
}

func TestDeduplicateCompositeKeyAndMultipleGroups(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	t1 := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	mk := func(cust, prod string, seq int) stream.Record {
		r := stream.NewRecord()
		r.SetData("custId", cust)
		r.SetData("prodId", prod)
		r.SetData(stream.FieldLoadTime, t1)
		r.SetData(stream.FieldSeq, seq)
		return r
	}
	cfg := &Config{Log: log, BusinessKeys: []string{"custId", "prodId"}}
	winners, report := Deduplicate(cfg, []stream.Record{
		mk("c1", "p1", 0),
		mk("c1", "p2", 1),
		mk("c1", "p1", 2),
	})
	if len(winners) != 2 {
		t.Fatalf("expected 2 winners; got %v", len(winners))
	}
	if report.GroupCount != 2 || report.Losers != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
