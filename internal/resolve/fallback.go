package resolve

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/soilmap/internal/atlas"
)

// Metric selects how fallback distance is measured.
type Metric string

const (
	// Planar is Euclidean distance in (lon, lat) degree space.
	Planar Metric = "planar"
	// Haversine is great-circle distance in kilometres.
	Haversine Metric = "haversine"
)

// Default fallback thresholds. 0.5 degrees is roughly 55 km over the
// atlas's latitude range.
const (
	DefaultThresholdDeg = 0.5
	DefaultThresholdKm  = 55.0
)

const earthRadiusKm = 6371.0

// ParseMetric maps a config value to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", Planar:
		return Planar, nil
	case Haversine:
		return Haversine, nil
	default:
		return "", eris.Errorf("resolve: unknown metric %q", s)
	}
}

// DefaultThreshold returns the threshold that matches the metric's unit.
func (m Metric) DefaultThreshold() float64 {
	if m == Haversine {
		return DefaultThresholdKm
	}
	return DefaultThresholdDeg
}

func (m Metric) distance(c Coordinate, lon, lat float64) float64 {
	if m == Haversine {
		return haversineKm(c.Latitude, c.Longitude, lat, lon)
	}
	dx := c.Longitude - lon
	dy := c.Latitude - lat
	return math.Sqrt(dx*dx + dy*dy)
}

// nearest scans every region centroid and returns the closest one. Ties go
// to the lower atlas position.
func nearest(a *atlas.Atlas, c Coordinate, m Metric) (int, float64) {
	best, bestD := -1, math.Inf(1)
	for i := 0; i < a.Len(); i++ {
		ct := a.At(i).Centroid()
		if d := m.distance(c, ct[0], ct[1]); d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}
