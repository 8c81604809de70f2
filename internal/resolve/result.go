package resolve

import (
	"github.com/sells-group/soilmap/internal/atlas"
	"github.com/sells-group/soilmap/internal/soil"
)

// Confidence tiers how a region was chosen.
type Confidence string

const (
	// High means the point lies inside the region polygon.
	High Confidence = "High"
	// Medium means the nearest-centroid fallback picked the region.
	Medium Confidence = "Medium"
)

// Reason explains why a coordinate did not resolve.
type Reason string

const (
	OutOfCoverage          Reason = "OutOfCoverage"
	NoMatchWithinThreshold Reason = "NoMatchWithinThreshold"
	InvalidInput           Reason = "InvalidInput"
)

// Result is the outcome of one resolution. Callers must branch on
// Resolved; Region is nil and Reason is set when it is false.
type Result struct {
	Region     *atlas.Region
	Profile    soil.Profile
	Profiled   bool // false when the default profile was substituted
	Confidence Confidence
	Coordinate Coordinate
	Distance   float64 // fallback distance in the engine metric's unit, 0 for polygon hits

	Reason Reason
}

// Resolved reports whether a region was found.
func (r Result) Resolved() bool {
	return r.Region != nil
}

// SoilType returns the resolved region's primary soil type, or "".
func (r Result) SoilType() soil.Type {
	if r.Region == nil {
		return ""
	}
	return r.Region.PrimarySoilType
}

func assemble(region atlas.Region, profile soil.Profile, profiled bool, conf Confidence, c Coordinate, dist float64) Result {
	return Result{
		Region:     &region,
		Profile:    profile,
		Profiled:   profiled,
		Confidence: conf,
		Coordinate: c,
		Distance:   dist,
	}
}

func unresolved(reason Reason, c Coordinate) Result {
	return Result{Reason: reason, Coordinate: c}
}
