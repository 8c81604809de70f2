// Package soil holds the soil-property reference table: one profile per soil
// type name plus a default profile for names the table does not know.
package soil

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Type is a soil-type name as it appears in the atlas and the table.
type Type string

// Status is a coarse nutrient sufficiency tier.
type Status string

// Nutrient status tiers. The zero value means not assessed.
const (
	Low    Status = "Low"
	Medium Status = "Medium"
	High   Status = "High"
)

// Valid reports whether s is one of the known tiers or unset.
func (s Status) Valid() bool {
	switch s {
	case "", Low, Medium, High:
		return true
	}
	return false
}

// UnmarshalYAML rejects tiers other than Low, Medium and High.
func (s *Status) UnmarshalYAML(node *yaml.Node) error {
	v := Status(node.Value)
	if !v.Valid() {
		return eris.Errorf("soil: invalid status %q at line %d", node.Value, node.Line)
	}
	*s = v
	return nil
}

// PH is a soil pH that is either a measured number or a descriptive note
// such as "Variable" when no single value applies.
type PH struct {
	value    float64
	note     string
	measured bool
}

// MeasuredPH returns a numeric pH.
func MeasuredPH(v float64) PH {
	return PH{value: v, measured: true}
}

// DescribedPH returns a descriptive, non-numeric pH.
func DescribedPH(note string) PH {
	return PH{note: note}
}

// Value returns the numeric pH and whether one was measured.
func (p PH) Value() (float64, bool) {
	return p.value, p.measured
}

// Measured reports whether the pH is numeric.
func (p PH) Measured() bool {
	return p.measured
}

func (p PH) String() string {
	if p.measured {
		return strconv.FormatFloat(p.value, 'f', -1, 64)
	}
	return p.note
}

// MarshalJSON writes a number when measured and a string otherwise.
func (p PH) MarshalJSON() ([]byte, error) {
	if p.measured {
		return json.Marshal(p.value)
	}
	return json.Marshal(p.note)
}

// UnmarshalYAML accepts either a numeric or a string scalar.
func (p *PH) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return eris.Errorf("soil: ph must be a scalar at line %d", node.Line)
	}
	var v float64
	if err := node.Decode(&v); err == nil {
		*p = MeasuredPH(v)
		return nil
	}
	*p = DescribedPH(node.Value)
	return nil
}

// Amount is an absolute nutrient value in kg/ha. Not every soil type has a
// surveyed value, so Known distinguishes "absent" from zero.
type Amount struct {
	KgPerHa float64
	Known   bool
}

// UnmarshalYAML decodes a bare number into a known amount.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	var v float64
	if err := node.Decode(&v); err != nil {
		return eris.Wrapf(err, "soil: nutrient amount at line %d", node.Line)
	}
	*a = Amount{KgPerHa: v, Known: true}
	return nil
}

// Ptr returns the value as a pointer, nil when unknown. Each call returns a
// fresh pointer so callers cannot alias table data.
func (a Amount) Ptr() *float64 {
	if !a.Known {
		return nil
	}
	v := a.KgPerHa
	return &v
}

// Profile is the soil-property record for one soil type.
type Profile struct {
	Texture       string  `yaml:"texture"`
	PH            PH      `yaml:"ph"`
	PHRange       string  `yaml:"ph_range"`
	OrganicCarbon float64 `yaml:"organic_carbon"` // percent
	Nitrogen      Amount  `yaml:"nitrogen"`
	Phosphorus    Amount  `yaml:"phosphorus"`
	Potassium     Amount  `yaml:"potassium"`
	NStatus       Status  `yaml:"n_status"`
	PStatus       Status  `yaml:"p_status"`
	KStatus       Status  `yaml:"k_status"`
}
