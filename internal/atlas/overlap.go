package atlas

import "github.com/twpayne/go-geom"

// findOverlaps reports region pairs whose rings intersect: a vertex of one
// inside the other, or two edges crossing. A vertex lying exactly on a
// neighbour's edge can be reported either way, so treat results as warnings.
func findOverlaps(regions []Region) []Overlap {
	var out []Overlap
	for i := 0; i < len(regions); i++ {
		for j := i + 1; j < len(regions); j++ {
			a, b := regions[i], regions[j]
			if !a.bounds.Intersects(b.bounds) {
				continue
			}
			if ringsOverlap(a.ring, b.ring) {
				out = append(out, Overlap{First: a.Key(), Second: b.Key()})
			}
		}
	}
	return out
}

func ringsOverlap(a, b []geom.Coord) bool {
	for _, c := range b {
		if pointInRing(a, c[0], c[1]) {
			return true
		}
	}
	for _, c := range a {
		if pointInRing(b, c[0], c[1]) {
			return true
		}
	}
	for i, pi := 0, len(a)-1; i < len(a); pi, i = i, i+1 {
		for j, pj := 0, len(b)-1; j < len(b); pj, j = j, j+1 {
			if segmentsCross(a[pi], a[i], b[pj], b[j]) {
				return true
			}
		}
	}
	return false
}

// segmentsCross reports a proper crossing of p1p2 and q1q2; collinear and
// endpoint-touching segments do not count.
func segmentsCross(p1, p2, q1, q2 geom.Coord) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func orient(a, b, c geom.Coord) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}
