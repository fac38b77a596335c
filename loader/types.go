// Package loader drives one batch of records end-to-end through the medallion
// layers: raw rows into bronze, canonical deduplicated rows into silver, and
// surrogate-keyed fact rows plus dimension snapshots into gold.  Each layer's
// writes are staged and committed atomically so a failed or cancelled load
// leaves no partial output behind.
package loader

import (
	"github.com/ghodss/yaml"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/strataetl/strata/components"
	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/dimension"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/schema"
)

// SourceDefinition names where a batch's raw rows came from, for lineage stamping.
type SourceDefinition struct {
	Name     string `json:"name" errorTxt:"source name" mandatory:"yes"`
	FileName string `json:"fileName,omitempty"`
}

// PipeDefinition is the YAML/JSON document describing one load pipe.
type PipeDefinition struct {
	Name         string                        `json:"name" errorTxt:"pipe name" mandatory:"yes"`
	Description  string                        `json:"description,omitempty"`
	Source       SourceDefinition              `json:"source"`
	Schema       *schema.Schema                `json:"schema" errorTxt:"field schema" mandatory:"yes"`
	ErrorPolicy  string                        `json:"errorPolicy,omitempty"` // drop|quarantine|fail; defaults to fail.
	BusinessKeys []string                      `json:"businessKeys" errorTxt:"business key fields" mandatory:"yes"`
	Filters      []components.ComponentStep    `json:"filters,omitempty"` // row filter steps applied before normalization.
	Dimensions   []dimension.Spec              `json:"dimensions,omitempty"`
	Mappings     []components.DimensionMapping `json:"mappings,omitempty"` // how fact rows reference the dimensions.
}

// LoadPipeDefinition parses and validates a pipe definition document.
func LoadPipeDefinition(b []byte) (*PipeDefinition, error) {
	p := &PipeDefinition{}
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, errors.Wrap(err, "unable to parse pipe definition")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the mandatory fields and cross-references the mappings against
// the declared dimensions.
func (p *PipeDefinition) Validate() error {
	if err := helper.ValidateStructIsPopulated(p); err != nil {
		return err
	}
	if len(p.BusinessKeys) == 0 { // slices escape the struct-tag validation above.
		return errors.New("please supply values for business key fields")
	}
	// Rebuild the schema so its field index exists and the defs are validated,
	// regardless of how this definition was constructed.
	s, err := schema.NewSchema(p.Schema.Fields)
	if err != nil {
		return err
	}
	p.Schema = s
	if p.ErrorPolicy != "" &&
		p.ErrorPolicy != c.ErrorPolicyDrop &&
		p.ErrorPolicy != c.ErrorPolicyQuarantine &&
		p.ErrorPolicy != c.ErrorPolicyFail {
		return errors.Errorf("unknown error policy %q", p.ErrorPolicy)
	}
	dims := make(map[string]bool, len(p.Dimensions))
	for _, d := range p.Dimensions {
		if err := helper.ValidateStructIsPopulated(&d); err != nil {
			return err
		}
		dims[d.Name] = true
	}
	for _, m := range p.Mappings {
		if !dims[m.Dimension] {
			return errors.Errorf("mapping references undeclared dimension %q", m.Dimension)
		}
		if !m.VerifyOnly && m.BusinessKeyField == "" {
			return errors.Errorf("mapping for dimension %q needs a business key field", m.Dimension)
		}
	}
	for _, f := range p.Filters {
		if _, _, err := filterFromStep(f); err != nil {
			return err
		}
	}
	return nil
}

// filterStepData is the typed form of a filter step's data map.
type filterStepData struct {
	Rule     string `mapstructure:"rule"`     // JSON Logic rule for JsonLogic filters.
	MaxRows  string `mapstructure:"maxRows"`  // row limit for AbortAfter filters.
	Metadata string `mapstructure:"metadata"` // raw metadata escape hatch.
}

// filterFromStep decodes a generic component step into the filter component's config.
func filterFromStep(step components.ComponentStep) (components.FilterType, components.FilterMetadata, error) {
	if err := helper.ValidateStructIsPopulated(&step); err != nil {
		return "", "", err
	}
	var d filterStepData
	if err := mapstructure.Decode(step.Data, &d); err != nil {
		return "", "", errors.Wrapf(err, "unable to decode data of filter step %q", step.Type)
	}
	switch components.FilterType(step.Type) {
	case components.FilterRowsJsonLogic:
		meta := d.Rule
		if meta == "" {
			meta = d.Metadata
		}
		if meta == "" {
			return "", "", errors.Errorf("filter step %q needs a rule", step.Type)
		}
		return components.FilterRowsJsonLogic, components.FilterMetadata(meta), nil
	case components.FilterRowsAbortAfter:
		meta := d.MaxRows
		if meta == "" {
			meta = d.Metadata
		}
		if meta == "" {
			return "", "", errors.Errorf("filter step %q needs a maxRows value", step.Type)
		}
		return components.FilterRowsAbortAfter, components.FilterMetadata(meta), nil
	default:
		return "", "", errors.Errorf("unknown filter step type %q", step.Type)
	}
}
