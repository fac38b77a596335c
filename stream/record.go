package stream

import (
	"fmt"
	"reflect"

	om "github.com/cevaris/ordered_map"
	h "github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/logger"
)

// Reserved metadata field names carried on records as they move between layers.
// The '#' prefix keeps them clear of user data fields.
const (
	FieldBatchId       = "#batchId"
	FieldSourceName    = "#sourceName"
	FieldIngestionTime = "#ingestionTime"
	FieldFileName      = "#fileName"
	FieldLoadTime      = "#loadTime"
	FieldSeq           = "#seq" // insertion order within a batch; dedup tie-breaker
)

// Record is used to communicate data between components.
// Records travel over channels by value; the inner map is shared so treat
// a sent record as owned by the receiver.
type Record struct {
	data map[string]interface{} // raw data values, which can represent null database values as nil interfaces.
}

// NewRecord creates a new Record and returns it by value as we expect these records to go over
// channels by value too.
func NewRecord() Record {
	return Record{
		data: make(map[string]interface{}),
	}
}

func NewNilRecord() Record {
	return Record{}
}

func (sr Record) RecordIsNil() bool {
	return len(sr.data) == 0 && sr.data == nil
}

func (sr Record) SetData(name string, value interface{}) {
	sr.data[name] = value
}

func (sr Record) GetData(name string) interface{} {
	val, ok := sr.data[name]
	if !ok {
		panic(fmt.Sprintf("Invalid key name %q supplied while trying to fetch value from record: %v", name, sr.data))
	}
	return val
}

// GetDataOk fetches a value without panicking when the field is absent.
func (sr Record) GetDataOk(name string) (interface{}, bool) {
	val, ok := sr.data[name]
	return val, ok
}

func (sr Record) GetDataMap() map[string]interface{} {
	return sr.data
}

func (sr Record) GetDataLen() int {
	return len(sr.data)
}

// GetDataAsStringUseUtcTime will convert interface{} value to a string for the purposes of gt/lt comparison.
// Times will be converted to UTC for string comparison!
func (sr Record) GetDataAsStringUseUtcTime(log logger.Logger, name string) (retval string) {
	v, ok := sr.data[name]
	if !ok {
		panic(fmt.Sprintf("unexpected field %q does not exist in the input stream (bad pipe definition?)", name))
	}
	return h.GetStringFromInterfaceUseUtcTime(log, v)
}

// GetDataKeysAsSlice builds a slice of strings containing the values found in sr.data for each of the supplied
// keys in slice keys.  Values use the UTC string form so keys group consistently across time zones.
func (sr Record) GetDataKeysAsSlice(log logger.Logger, keys []string) []string {
	retval := make([]string, 0) // no max capacity so this allows the caller to reuse keys multiple times.
	for _, k := range keys {
		retval = append(retval, sr.GetDataAsStringUseUtcTime(log, k))
	}
	return retval
}

func (sr Record) CopyTo(t Record) {
	for k, v := range sr.data {
		t.SetData(k, v)
	}
}

// Copy returns an independent copy of the record.
func (sr Record) Copy() Record {
	t := NewRecord()
	sr.CopyTo(t)
	return t
}

// DataCanJoinByKeyFields compares two records using key fields for equality (return 0)
// less-than (return -1) or greater-than (return 1) status where return values are:
// -1 if sr is less than targetRec
//  0 if sr matches targetRec
//  1 if sr is greater than targetRec
func (sr Record) DataCanJoinByKeyFields(log logger.Logger, targetRec Record, joinKeys *om.OrderedMap) (retval int) {
	iter := joinKeys.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() { // for each key to compare...
		v1 := sr.GetDataAsStringUseUtcTime(log, h.GetStringFromInterfaceUseUtcTime(log, kv.Key))
		v2 := targetRec.GetDataAsStringUseUtcTime(log, h.GetStringFromInterfaceUseUtcTime(log, kv.Value))
		if v1 < v2 {
			retval = -1 // exit early as we have found a difference.
			break
		} else if v1 == v2 {
			retval = 0 // continue to check the next key.
		} else {
			retval = 1 // exit early as we have found a difference.
			break
		}
	}
	return
}

// DataIsDeepEqual compares two records for equality using reflect.DeepEqual over
// their string representations.
// Specify the keys to use for the comparison in ordered dict, compareKeys.
// Example: use contents of compareKeys["X"]="Y" to check if sr["X"] == targetRec["Y"]
// and repeat for all of the map contents.
func (sr Record) DataIsDeepEqual(log logger.Logger, targetRec Record, compareKeys *om.OrderedMap) (retval bool) {
	retval = true
	iter := compareKeys.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() { // while we have more keys to compare...
		v1 := sr.GetDataAsStringUseUtcTime(log, h.GetStringFromInterfaceUseUtcTime(log, kv.Key))
		v2 := targetRec.GetDataAsStringUseUtcTime(log, h.GetStringFromInterfaceUseUtcTime(log, kv.Value))
		retval = reflect.DeepEqual(v1, v2)
		if !retval { // if records are NOT equal then return early!
			break
		}
	}
	return
}

// MergeDataStreams will combine records from s1 into a new record, followed by s2 into the new record before
// returning it. You can supply a nil s2 to create a copy of s1 that is returned.
// If allowOverwrite is false, an error is returned if a field in s2 already exists in s1.
func MergeDataStreams(s1 Record, s2 Record, allowOverwrite bool) (Record, error) {
	retval := NewRecord()
	for k, v := range s1.GetDataMap() { // for each key:value in the 1st source...
		retval.data[k] = v // save it to the output
	}
	if !s2.RecordIsNil() { // if s2 is not empty...
		for k, v := range s2.GetDataMap() { // for each key:value in the 2nd source...
			_, ok := retval.data[k]
			if ok && !allowOverwrite { // if the key already exists...
				return Record{}, fmt.Errorf("field %v exists in stream record", k)
			} else { // else update the target map...
				retval.data[k] = v // save the source key:value
			}
		}
	}
	return retval, nil
}
