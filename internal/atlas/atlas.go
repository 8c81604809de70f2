package atlas

import (
	"sort"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/soilmap/internal/soil"
)

// Atlas is an ordered, immutable collection of regions. Iteration order is
// the load order and is the tie-break when regions overlap: the first
// containing region wins.
type Atlas struct {
	regions  []Region
	index    *regionIndex
	byKey    map[string]int
	overlaps []Overlap
	extent   Bounds
}

// Overlap records two regions whose boundaries intersect.
type Overlap struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

var fold = cases.Fold()

func lookupKey(state, district string) string {
	return fold.String(state) + "/" + fold.String(district)
}

// New builds an atlas from regions in the given order. Duplicate
// state/district pairs are rejected; overlapping boundaries are recorded
// but allowed.
func New(regions []Region) (*Atlas, error) {
	if len(regions) == 0 {
		return nil, eris.New("atlas: no regions")
	}

	a := &Atlas{
		regions: make([]Region, len(regions)),
		byKey:   make(map[string]int, len(regions)),
	}
	copy(a.regions, regions)

	for i, r := range a.regions {
		if len(r.ring) < 3 {
			return nil, eris.Errorf("atlas: region %d (%s) was not built with NewRegion", i, r.Key())
		}
		k := lookupKey(r.Parent, r.Name)
		if prev, ok := a.byKey[k]; ok {
			return nil, eris.Errorf("atlas: duplicate region %s at positions %d and %d", r.Key(), prev, i)
		}
		a.byKey[k] = i
		if i == 0 {
			a.extent = r.bounds
		} else {
			a.extent = union(a.extent, r.bounds)
		}
	}

	idx, err := newRegionIndex(a.regions)
	if err != nil {
		return nil, err
	}
	a.index = idx
	a.overlaps = findOverlaps(a.regions)
	return a, nil
}

// Len returns the number of regions.
func (a *Atlas) Len() int {
	return len(a.regions)
}

// At returns the region at position i.
func (a *Atlas) At(i int) Region {
	return a.regions[i]
}

// Regions returns a copy of the regions in atlas order.
func (a *Atlas) Regions() []Region {
	out := make([]Region, len(a.regions))
	copy(out, a.regions)
	return out
}

// Find looks a region up by state and district, ignoring case.
func (a *Atlas) Find(state, district string) (Region, bool) {
	i, ok := a.byKey[lookupKey(state, district)]
	if !ok {
		return Region{}, false
	}
	return a.regions[i], true
}

// InState returns the regions of one state in atlas order, ignoring case.
func (a *Atlas) InState(state string) []Region {
	want := fold.String(state)
	var out []Region
	for _, r := range a.regions {
		if fold.String(r.Parent) == want {
			out = append(out, r)
		}
	}
	return out
}

// Extent returns the union of all region bounding boxes.
func (a *Atlas) Extent() Bounds {
	return a.extent
}

// Candidates returns the positions of regions whose bounding box contains
// the point, in ascending atlas order.
func (a *Atlas) Candidates(lon, lat float64) []int {
	return a.index.search(lon, lat)
}

// Overlaps returns region pairs detected as overlapping at load time.
func (a *Atlas) Overlaps() []Overlap {
	out := make([]Overlap, len(a.overlaps))
	copy(out, a.overlaps)
	return out
}

// SoilTypes returns every primary and variant soil type referenced by the
// atlas, sorted.
func (a *Atlas) SoilTypes() []soil.Type {
	seen := make(map[soil.Type]struct{})
	for _, r := range a.regions {
		seen[r.PrimarySoilType] = struct{}{}
		for _, v := range r.SoilTypeVariants {
			seen[v] = struct{}{}
		}
	}
	out := make([]soil.Type, 0, len(seen))
	for t := range seen {
		if t != "" {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Unprofiled returns the regions whose primary soil type has no entry in
// the table and will resolve to the default profile.
func (a *Atlas) Unprofiled(tb *soil.Table) []Region {
	var out []Region
	for _, r := range a.regions {
		if !tb.Has(r.PrimarySoilType) {
			out = append(out, r)
		}
	}
	return out
}

func union(a, b Bounds) Bounds {
	if b.MinLon < a.MinLon {
		a.MinLon = b.MinLon
	}
	if b.MinLat < a.MinLat {
		a.MinLat = b.MinLat
	}
	if b.MaxLon > a.MaxLon {
		a.MaxLon = b.MaxLon
	}
	if b.MaxLat > a.MaxLat {
		a.MaxLat = b.MaxLat
	}
	return a
}
