package stream

import (
	"reflect"
	"testing"
	"time"

	om "github.com/cevaris/ordered_map"
	"github.com/strataetl/strata/logger"
)

func TestRecord_RecordIsNil(t *testing.T) {
	r1 := NewRecord()
	if r1.RecordIsNil() {
		t.Fatal("TestRecord_RecordIsNil: expected a new record (not nil)")
	}
	r2 := Record{}
	if !r2.RecordIsNil() {
		t.Fatal("TestRecord_RecordIsNil: expected zero struct and nil record")
	}
}

func TestRecord_GetDataKeysAsSlice(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	ts := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	r1 := NewRecord()
	r1.SetData("custId", "CUST-007")
	r1.SetData("orderId", 42)
	r1.SetData("loadTime", ts.In(time.FixedZone("X", 3600))) // renders in UTC form.
	got := r1.GetDataKeysAsSlice(log, []string{"custId", "orderId", "loadTime"})
	expected := []string{"CUST-007", "42", "20210601T090000+0000"}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("TestRecord_GetDataKeysAsSlice failed: expected = %v; got = %v", expected, got)
	}
}

func TestRecord_DataCanJoinByKeyFields(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	keys := om.NewOrderedMap()
	keys.Set("orderId", "orderId")
	r1 := NewRecord()
	r1.SetData("orderId", 100)
	r2 := NewRecord()
	r2.SetData("orderId", 100)
	if got := r1.DataCanJoinByKeyFields(log, r2, keys); got != 0 {
		t.Fatalf("expected join (0); got %v", got)
	}
	r2.SetData("orderId", 200)
	if got := r1.DataCanJoinByKeyFields(log, r2, keys); got != -1 {
		t.Fatalf("expected -1; got %v", got)
	}
}

func TestRecord_DataIsDeepEqual(t *testing.T) {
	log := logger.NewLogger("strata", "info", true)
	compareKeys := om.NewOrderedMap()
	compareKeys.Set("name", "name")
	compareKeys.Set("updated", "updated")
	ts := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	r1 := NewRecord()
	r1.SetData("name", "widget")
	r1.SetData("updated", ts)
	r2 := NewRecord()
	r2.SetData("name", "widget")
	r2.SetData("updated", ts.In(time.FixedZone("X", 3600))) // same instant, different zone.
	if !r1.DataIsDeepEqual(log, r2, compareKeys) {
		t.Fatal("expected records to compare equal")
	}
	r2.SetData("name", "gadget")
	if r1.DataIsDeepEqual(log, r2, compareKeys) {
		t.Fatal("expected records to compare not equal")
	}
}

func TestMergeDataStreams(t *testing.T) {
	r1 := NewRecord()
	r1.SetData("a", 1)
	r2 := NewRecord()
	r2.SetData("b", 2)
	merged, err := MergeDataStreams(r1, r2, false)
	if err != nil {
		t.Fatal(err)
	}
	if merged.GetData("a") != 1 || merged.GetData("b") != 2 {
		t.Fatalf("unexpected merged record: %v", merged.GetDataMap())
	}
	// Overwrite of an existing field must be rejected when disallowed.
	r3 := NewRecord()
	r3.SetData("a", 3)
	if _, err := MergeDataStreams(r1, r3, false); err == nil {
		t.Fatal("expected error merging duplicate field")
	}
}
