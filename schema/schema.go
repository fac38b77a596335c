// Package schema defines the typed field schema applied to raw records on their
// way from the bronze layer to the silver layer, and the strict parsing rules
// used to build canonical records.
package schema

import (
	"fmt"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

// Supported target field types.
const (
	TypeString    = "string"
	TypeInt       = "int"
	TypeFloat     = "float"
	TypeDecimal   = "decimal" // parsed like float but precision/scale validated against Format "p,s"
	TypeBool      = "bool"
	TypeTimestamp = "timestamp"
)

// Case folding directives for string fields.
const (
	CaseUpper = "upper"
	CaseLower = "lower"
	CaseNone  = ""
)

// FieldDef describes how one raw field is parsed and normalised.
type FieldDef struct {
	Name     string  `json:"name" errorTxt:"field name" mandatory:"yes"`
	Type     string  `json:"type" errorTxt:"field type" mandatory:"yes"`
	Format   string  `json:"format,omitempty"`   // Go time layout for timestamps; "precision,scale" for decimals.
	Required bool    `json:"required,omitempty"` // missing or empty value is a field error.
	Trim     bool    `json:"trim,omitempty"`     // trim leading/trailing spaces before parsing.
	Case     string  `json:"case,omitempty"`     // upper|lower, applied after trim; string fields only.
	Min      *float64 `json:"min,omitempty"`     // inclusive lower bound for numeric fields.
	Max      *float64 `json:"max,omitempty"`     // inclusive upper bound for numeric fields.
}

// Schema is the ordered set of field definitions for one record shape.
type Schema struct {
	Fields []FieldDef `json:"fields" errorTxt:"schema fields" mandatory:"yes"`
	byName map[string]*FieldDef
}

// NewSchema builds a Schema from field definitions and validates them.
func NewSchema(fields []FieldDef) (*Schema, error) {
	s := &Schema{Fields: fields}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSchema parses a YAML or JSON schema document.
func LoadSchema(b []byte) (*Schema, error) {
	s := &Schema{}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal schema definition")
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) init() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema contains no field definitions")
	}
	s.byName = make(map[string]*FieldDef, len(s.Fields))
	for idx := range s.Fields {
		f := &s.Fields[idx]
		if f.Name == "" {
			return fmt.Errorf("schema field %v is missing a name", idx)
		}
		switch f.Type {
		case TypeString, TypeInt, TypeFloat, TypeDecimal, TypeBool, TypeTimestamp:
		default:
			return fmt.Errorf("schema field %q has unsupported type %q", f.Name, f.Type)
		}
		switch f.Case {
		case CaseNone, CaseUpper, CaseLower:
		default:
			return fmt.Errorf("schema field %q has unsupported case directive %q", f.Name, f.Case)
		}
		if f.Type == TypeDecimal && f.Format != "" && !strings.Contains(f.Format, ",") {
			return fmt.Errorf("schema field %q decimal format must be \"precision,scale\"", f.Name)
		}
		if _, exists := s.byName[f.Name]; exists {
			return fmt.Errorf("schema field %q is defined twice", f.Name)
		}
		s.byName[f.Name] = f
	}
	return nil
}

// Field returns the definition for the named field, or nil if the schema does not define it.
func (s *Schema) Field(name string) *FieldDef {
	return s.byName[name]
}

// FieldNames returns field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for idx := range s.Fields {
		names[idx] = s.Fields[idx].Name
	}
	return names
}
