package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stream"
)

const defaultTimestampFormat = time.RFC3339

// Normalize applies the schema to a raw record and produces a canonical typed record,
// or a ValidationError listing every failed field.  Metadata fields ('#' prefix) are
// copied through untouched.  Fields present on the input but absent from the schema
// are dropped - the silver layer carries schema fields only.
// Normalize never substitutes data: an unparseable value is a field error, not a null.
func Normalize(log logger.Logger, rec stream.Record, s *Schema) (stream.Record, *ValidationError) {
	out := stream.NewRecord()
	vErr := &ValidationError{}
	for idx := range s.Fields { // for each schema field...
		f := &s.Fields[idx]
		raw, ok := rec.GetDataOk(f.Name)
		if !ok || raw == nil {
			if f.Required { // if the field must be present...
				vErr.Add(f.Name, ReasonMissingRequired, "")
			} else {
				out.SetData(f.Name, nil) // explicit null for optional missing fields.
			}
			continue
		}
		val, err := parseField(log, f, raw)
		if err != nil {
			vErr.Fields = append(vErr.Fields, *err)
			continue
		}
		out.SetData(f.Name, val)
	}
	// Copy lineage metadata through.
	for k, v := range rec.GetDataMap() { // for each input field...
		if strings.HasPrefix(k, "#") { // if it is a reserved metadata field...
			out.SetData(k, v)
		}
	}
	if vErr.HasErrors() {
		return stream.NewNilRecord(), vErr
	}
	return out, nil
}

// parseField casts one raw value to the field's target type using strict parsing.
func parseField(log logger.Logger, f *FieldDef, raw interface{}) (interface{}, *FieldError) {
	// Get the raw value as a string for parsing, applying text directives first.
	str, isString := raw.(string)
	if !isString {
		if b, ok := raw.([]uint8); ok { // database drivers hand back bytes for text columns.
			str = string(b)
			isString = true
		}
	}
	if isString {
		if f.Trim {
			str = strings.TrimSpace(str)
		}
		switch f.Case {
		case CaseUpper:
			str = strings.ToUpper(str)
		case CaseLower:
			str = strings.ToLower(str)
		}
		if str == "" && f.Required {
			return nil, &FieldError{Field: f.Name, Reason: ReasonMissingRequired, Detail: "empty after trim"}
		}
	}
	switch f.Type {
	case TypeString:
		if isString {
			return str, nil
		}
		return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast,
			Detail: fmt.Sprintf("expected string, got %T", raw)}
	case TypeInt:
		return parseInt(f, raw, str, isString)
	case TypeFloat, TypeDecimal:
		return parseFloat(f, raw, str, isString)
	case TypeBool:
		return parseBool(f, raw, str, isString)
	case TypeTimestamp:
		return parseTimestamp(f, raw, str, isString)
	}
	log.Panic("unhandled schema field type ", f.Type) // init() rejects unknown types.
	return nil, nil
}

func parseInt(f *FieldDef, raw interface{}, str string, isString bool) (interface{}, *FieldError) {
	var v int64
	switch x := raw.(type) {
	case int:
		v = int64(x)
	case int32:
		v = int64(x)
	case int64:
		v = x
	default:
		if !isString {
			return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast,
				Detail: fmt.Sprintf("expected int, got %T", raw)}
		}
		var err error
		v, err = strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast, Detail: err.Error()}
		}
	}
	if err := checkRange(f, float64(v)); err != nil {
		return nil, err
	}
	return v, nil
}

func parseFloat(f *FieldDef, raw interface{}, str string, isString bool) (interface{}, *FieldError) {
	var v float64
	switch x := raw.(type) {
	case float32:
		v = float64(x)
	case float64:
		v = x
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	default:
		if !isString {
			return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast,
				Detail: fmt.Sprintf("expected float, got %T", raw)}
		}
		var err error
		v, err = strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast, Detail: err.Error()}
		}
	}
	if err := checkRange(f, v); err != nil {
		return nil, err
	}
	return v, nil
}

func parseBool(f *FieldDef, raw interface{}, str string, isString bool) (interface{}, *FieldError) {
	if b, ok := raw.(bool); ok {
		return b, nil
	}
	if !isString {
		return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast,
			Detail: fmt.Sprintf("expected bool, got %T", raw)}
	}
	b, err := strconv.ParseBool(strings.ToLower(str))
	if err != nil {
		return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast, Detail: err.Error()}
	}
	return b, nil
}

func parseTimestamp(f *FieldDef, raw interface{}, str string, isString bool) (interface{}, *FieldError) {
	if t, ok := raw.(time.Time); ok {
		return t, nil
	}
	if !isString {
		return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast,
			Detail: fmt.Sprintf("expected timestamp, got %T", raw)}
	}
	layout := f.Format
	if layout == "" {
		layout = defaultTimestampFormat
	}
	t, err := time.Parse(layout, str)
	if err != nil {
		return nil, &FieldError{Field: f.Name, Reason: ReasonTypeCast, Detail: err.Error()}
	}
	return t, nil
}

func checkRange(f *FieldDef, v float64) *FieldError {
	if f.Min != nil && v < *f.Min {
		return &FieldError{Field: f.Name, Reason: ReasonOutOfRange,
			Detail: fmt.Sprintf("%v < min %v", v, *f.Min)}
	}
	if f.Max != nil && v > *f.Max {
		return &FieldError{Field: f.Name, Reason: ReasonOutOfRange,
			Detail: fmt.Sprintf("%v > max %v", v, *f.Max)}
	}
	return nil
}
