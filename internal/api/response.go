// Package api defines the external JSON shapes for resolution results and
// the region catalogue. It is the only place engine results are mapped to
// what callers see.
package api

import (
	"errors"
	"net/http"

	"github.com/sells-group/soilmap/internal/atlas"
	"github.com/sells-group/soilmap/internal/resolve"
	"github.com/sells-group/soilmap/internal/soil"
)

// Failure codes.
const (
	CodeOutOfCoverage          = "out_of_coverage"
	CodeNoMatchWithinThreshold = "no_match_within_threshold"
	CodeInvalidInput           = "invalid_input"
	CodeInternal               = "internal_error"
	CodeNotFound               = "not_found"
)

// Profile is the soil-property part of a response. Absolute nutrient values
// and their status tiers are omitted when the profile has none.
type Profile struct {
	Texture       string      `json:"texture"`
	PH            soil.PH     `json:"ph"`
	PHRange       string      `json:"phRange"`
	OrganicCarbon float64     `json:"organicCarbon"`
	NValue        *float64    `json:"nValue,omitempty"`
	PValue        *float64    `json:"pValue,omitempty"`
	KValue        *float64    `json:"kValue,omitempty"`
	NStatus       soil.Status `json:"nStatus,omitempty"`
	PStatus       soil.Status `json:"pStatus,omitempty"`
	KStatus       soil.Status `json:"kStatus,omitempty"`
}

// ProfileFrom converts a soil profile to its response form.
func ProfileFrom(p soil.Profile) Profile {
	return Profile{
		Texture:       p.Texture,
		PH:            p.PH,
		PHRange:       p.PHRange,
		OrganicCarbon: p.OrganicCarbon,
		NValue:        p.Nitrogen.Ptr(),
		PValue:        p.Phosphorus.Ptr(),
		KValue:        p.Potassium.Ptr(),
		NStatus:       p.NStatus,
		PStatus:       p.PStatus,
		KStatus:       p.KStatus,
	}
}

// Success is returned when a coordinate resolves to a region.
type Success struct {
	Success   bool     `json:"success"`
	State     string   `json:"state"`
	District  string   `json:"district"`
	SoilType  string   `json:"soilType"`
	SoilTypes []string `json:"soilTypes"`
	Profile
	Confidence string  `json:"confidence"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

// Failure is returned for soft outcomes (no region) and hard errors alike;
// Error carries the machine-readable code.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

var failureMessages = map[string]string{
	CodeOutOfCoverage:          "This location is outside the area we cover. Please choose your soil type manually.",
	CodeNoMatchWithinThreshold: "We could not match this location to a nearby district. Please choose your soil type manually.",
	CodeInvalidInput:           "latitude and longitude must both be numbers.",
	CodeInternal:               "Something went wrong while resolving this location. Please try again later.",
	CodeNotFound:               "No region with that state and district.",
}

// NewFailure builds a failure with the standard message for code.
func NewFailure(code string) Failure {
	return Failure{Error: code, Message: failureMessages[code]}
}

// FromResult maps an engine result to a Success or a soft Failure.
func FromResult(res resolve.Result) any {
	if !res.Resolved() {
		switch res.Reason {
		case resolve.OutOfCoverage:
			return NewFailure(CodeOutOfCoverage)
		case resolve.InvalidInput:
			return NewFailure(CodeInvalidInput)
		default:
			return NewFailure(CodeNoMatchWithinThreshold)
		}
	}

	r := res.Region
	return Success{
		Success:    true,
		State:      r.Parent,
		District:   r.Name,
		SoilType:   string(r.PrimarySoilType),
		SoilTypes:  soilTypeNames(r.SoilTypeVariants),
		Profile:    ProfileFrom(res.Profile),
		Confidence: string(res.Confidence),
		Latitude:   res.Coordinate.Latitude,
		Longitude:  res.Coordinate.Longitude,
	}
}

// FromError maps an engine error to an HTTP status and a Failure. Internal
// errors carry a generic message only.
func FromError(err error) (int, Failure) {
	if resolve.IsInvalidInput(err) {
		f := NewFailure(CodeInvalidInput)
		if msg := invalidDetail(err); msg != "" {
			f.Message = msg
		}
		return http.StatusBadRequest, f
	}
	return http.StatusInternalServerError, NewFailure(CodeInternal)
}

func invalidDetail(err error) string {
	var ie *resolve.InvalidInputError
	if !errors.As(err, &ie) {
		return ""
	}
	if ie.Field == "" {
		return ie.Reason
	}
	return ie.Field + " " + ie.Reason
}

// Centroid is a region centre in response form.
type Centroid struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RegionSummary is one catalogue entry.
type RegionSummary struct {
	State     string   `json:"state"`
	District  string   `json:"district"`
	SoilType  string   `json:"soilType"`
	SoilTypes []string `json:"soilTypes"`
	Centroid  Centroid `json:"centroid"`
	Profiled  bool     `json:"profiled"`
}

// SummarizeRegion builds a catalogue entry; tb decides Profiled.
func SummarizeRegion(r atlas.Region, tb *soil.Table) RegionSummary {
	c := r.Centroid()
	return RegionSummary{
		State:     r.Parent,
		District:  r.Name,
		SoilType:  string(r.PrimarySoilType),
		SoilTypes: soilTypeNames(r.SoilTypeVariants),
		Centroid:  Centroid{Latitude: c[1], Longitude: c[0]},
		Profiled:  tb.Has(r.PrimarySoilType),
	}
}

// RegionDetail is a catalogue entry with its joined soil profile.
type RegionDetail struct {
	RegionSummary
	Profile Profile `json:"profile"`
}

// SoilTypeSummary describes one profiled soil type.
type SoilTypeSummary struct {
	SoilType string `json:"soilType"`
	Profile
}

// SoilTypeCatalogue lists every profiled soil type and the fallback profile.
type SoilTypeCatalogue struct {
	SoilTypes      []SoilTypeSummary `json:"soilTypes"`
	DefaultProfile Profile           `json:"defaultProfile"`
}

// SoilTypesFrom builds the soil-type catalogue from a table.
func SoilTypesFrom(tb *soil.Table) SoilTypeCatalogue {
	types := tb.Types()
	out := SoilTypeCatalogue{
		SoilTypes:      make([]SoilTypeSummary, 0, len(types)),
		DefaultProfile: ProfileFrom(tb.DefaultProfile()),
	}
	for _, t := range types {
		out.SoilTypes = append(out.SoilTypes, SoilTypeSummary{SoilType: string(t), Profile: ProfileFrom(tb.Profile(t))})
	}
	return out
}

func soilTypeNames(types []soil.Type) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
