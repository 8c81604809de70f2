// Package atlas holds the curated region atlas: named administrative
// polygons (district within state) with their soil-type classification.
package atlas

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/soilmap/internal/soil"
)

// Bounds is an axis-aligned box in degrees.
type Bounds struct {
	MinLon float64 `json:"min_lon" mapstructure:"min_lon"`
	MinLat float64 `json:"min_lat" mapstructure:"min_lat"`
	MaxLon float64 `json:"max_lon" mapstructure:"max_lon"`
	MaxLat float64 `json:"max_lat" mapstructure:"max_lat"`
}

// Contains reports whether the point lies inside or on the box. NaN
// coordinates are never contained.
func (b Bounds) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Intersects reports whether two boxes share any point.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon && b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Valid reports whether the box is finite and non-inverted.
func (b Bounds) Valid() bool {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinLon < b.MaxLon && b.MinLat < b.MaxLat
}

// Region is one district polygon. The boundary is a single exterior ring of
// (lon, lat) vertices with no holes. Regions are values; an Atlas never
// hands out pointers into its own storage.
type Region struct {
	Name             string      // district
	Parent           string      // state
	PrimarySoilType  soil.Type   // key into the soil table
	SoilTypeVariants []soil.Type // other soil types seen in the district, display only

	ring     []geom.Coord // open ring, closing vertex removed
	boundary *geom.Polygon
	centroid geom.Coord
	bounds   Bounds
}

// NewRegion validates a boundary ring and precomputes its centroid and
// bounding box. The ring may or may not repeat its first vertex at the end.
func NewRegion(parent, name string, primary soil.Type, variants []soil.Type, ring []geom.Coord) (Region, error) {
	if name == "" || parent == "" {
		return Region{}, eris.New("atlas: region requires both state and district")
	}

	open := make([]geom.Coord, 0, len(ring))
	for i, c := range ring {
		if len(c) < 2 {
			return Region{}, eris.Errorf("atlas: %s/%s vertex %d has %d ordinates", parent, name, i, len(c))
		}
		if !finite(c[0]) || !finite(c[1]) {
			return Region{}, eris.Errorf("atlas: %s/%s vertex %d is not finite", parent, name, i)
		}
		open = append(open, geom.Coord{c[0], c[1]})
	}
	if n := len(open); n > 1 && open[0].Equal(geom.XY, open[n-1]) {
		open = open[:n-1]
	}
	if distinct(open) < 3 {
		return Region{}, eris.Errorf("atlas: %s/%s boundary needs at least 3 distinct vertices", parent, name)
	}

	closed := make([]geom.Coord, 0, len(open)+1)
	closed = append(closed, open...)
	closed = append(closed, open[0])
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{closed})
	if err != nil {
		return Region{}, eris.Wrapf(err, "atlas: %s/%s boundary", parent, name)
	}

	r := Region{
		Name:             name,
		Parent:           parent,
		PrimarySoilType:  primary,
		SoilTypeVariants: append([]soil.Type(nil), variants...),
		ring:             open,
		boundary:         poly.SetSRID(4326),
	}
	r.centroid, r.bounds = vertexStats(open)
	return r, nil
}

// Key returns "state/district".
func (r Region) Key() string {
	return r.Parent + "/" + r.Name
}

// Boundary returns a copy of the region polygon.
func (r Region) Boundary() *geom.Polygon {
	if r.boundary == nil {
		return nil
	}
	return r.boundary.Clone()
}

// Vertices returns a copy of the open ring.
func (r Region) Vertices() []geom.Coord {
	out := make([]geom.Coord, len(r.ring))
	for i, c := range r.ring {
		out[i] = geom.Coord{c[0], c[1]}
	}
	return out
}

// Centroid returns the arithmetic mean of the boundary vertices as
// (lon, lat). This is a planar approximation, not a true area centroid.
func (r Region) Centroid() geom.Coord {
	return geom.Coord{r.centroid[0], r.centroid[1]}
}

// Bounds returns the bounding box of the boundary.
func (r Region) Bounds() Bounds {
	return r.bounds
}

// Contains runs the crossing-number test against the boundary. Points on an
// edge or vertex may land either side.
func (r Region) Contains(lon, lat float64) bool {
	return pointInRing(r.ring, lon, lat)
}

// pointInRing casts a ray from the point toward +lon and toggles on every
// edge whose latitude span straddles the point and whose intercept lies to
// the east. The i/j wrap closes the ring.
func pointInRing(ring []geom.Coord, lon, lat float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) {
			x := (xj-xi)*(lat-yi)/(yj-yi) + xi
			if lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

func vertexStats(ring []geom.Coord) (geom.Coord, Bounds) {
	b := Bounds{MinLon: math.Inf(1), MinLat: math.Inf(1), MaxLon: math.Inf(-1), MaxLat: math.Inf(-1)}
	var sumLon, sumLat float64
	for _, c := range ring {
		sumLon += c[0]
		sumLat += c[1]
		b.MinLon = math.Min(b.MinLon, c[0])
		b.MaxLon = math.Max(b.MaxLon, c[0])
		b.MinLat = math.Min(b.MinLat, c[1])
		b.MaxLat = math.Max(b.MaxLat, c[1])
	}
	n := float64(len(ring))
	return geom.Coord{sumLon / n, sumLat / n}, b
}

func distinct(ring []geom.Coord) int {
	seen := make(map[[2]float64]struct{}, len(ring))
	for _, c := range ring {
		seen[[2]float64{c[0], c[1]}] = struct{}{}
	}
	return len(seen)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
