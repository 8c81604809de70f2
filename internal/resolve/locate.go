package resolve

import "github.com/sells-group/soilmap/internal/atlas"

// IndiaCoverage is the macro envelope of the bundled atlas.
var IndiaCoverage = atlas.Bounds{MinLon: 68.0, MinLat: 6.0, MaxLon: 97.5, MaxLat: 37.5}

// inCoverage is the cheap short-circuit before any polygon work. Non-finite
// ordinates always fail.
func inCoverage(b atlas.Bounds, c Coordinate) bool {
	return b.Contains(c.Longitude, c.Latitude)
}

// locate returns the position of the first region in atlas order whose
// polygon contains the point. With useIndex the R-tree narrows the scan to
// regions whose box holds the point; the candidates come back in atlas
// order so the answer matches the full scan.
func locate(a *atlas.Atlas, c Coordinate, useIndex bool) (int, bool) {
	if useIndex {
		for _, i := range a.Candidates(c.Longitude, c.Latitude) {
			if a.At(i).Contains(c.Longitude, c.Latitude) {
				return i, true
			}
		}
		return -1, false
	}
	for i := 0; i < a.Len(); i++ {
		if a.At(i).Contains(c.Longitude, c.Latitude) {
			return i, true
		}
	}
	return -1, false
}
