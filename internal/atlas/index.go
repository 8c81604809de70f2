package atlas

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"
)

// R-tree node fan-out; the atlas holds tens of regions so these mostly
// matter if it grows.
const (
	indexMinChildren = 4
	indexMaxChildren = 16

	// pointEpsilon gives zero-area query boxes a non-zero size (~11 m).
	pointEpsilon = 0.0001
)

// regionIndex is an R-tree over region bounding boxes. It only narrows the
// candidate set; containment is still decided by the polygon test.
type regionIndex struct {
	tree *rtreego.Rtree
}

type indexedRegion struct {
	pos    int
	bounds Bounds
	rect   rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (r *indexedRegion) Bounds() rtreego.Rect {
	return r.rect
}

func newRegionIndex(regions []Region) (*regionIndex, error) {
	tree := rtreego.NewTree(2, indexMinChildren, indexMaxChildren)
	for i, r := range regions {
		rect, err := boundsRect(r.bounds)
		if err != nil {
			return nil, eris.Wrapf(err, "atlas: index region %s", r.Key())
		}
		tree.Insert(&indexedRegion{pos: i, bounds: r.bounds, rect: rect})
	}
	return &regionIndex{tree: tree}, nil
}

// search returns matching positions sorted ascending so callers keep
// first-match-in-atlas-order semantics.
func (x *regionIndex) search(lon, lat float64) []int {
	q, err := rtreego.NewRect(rtreego.Point{lon, lat}, []float64{pointEpsilon, pointEpsilon})
	if err != nil {
		return nil
	}
	hits := x.tree.SearchIntersect(q)
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		ir := h.(*indexedRegion)
		// The query box is slightly larger than the point; drop boxes that
		// only touch the padding.
		if ir.bounds.Contains(lon, lat) {
			out = append(out, ir.pos)
		}
	}
	sort.Ints(out)
	return out
}

func boundsRect(b Bounds) (rtreego.Rect, error) {
	lonLen := b.MaxLon - b.MinLon
	latLen := b.MaxLat - b.MinLat
	if lonLen < pointEpsilon {
		lonLen = pointEpsilon
	}
	if latLen < pointEpsilon {
		latLen = pointEpsilon
	}
	return rtreego.NewRect(rtreego.Point{b.MinLon, b.MinLat}, []float64{lonLen, latLen})
}
