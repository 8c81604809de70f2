package atlas

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/soil"
)

//go:embed data/regions.geojson
var embeddedRegions []byte

// Feature property names used in atlas GeoJSON.
const (
	propState     = "state"
	propDistrict  = "district"
	propSoilType  = "soil_type"
	propSoilTypes = "soil_types"
)

// Decode reads a GeoJSON FeatureCollection of Polygon features. Each
// feature carries state, district, soil_type and optional soil_types
// properties. MultiPolygons and polygons with holes are rejected.
func Decode(r io.Reader) (*Atlas, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "atlas: decode geojson")
	}

	regions := make([]Region, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil {
			return nil, eris.Errorf("atlas: feature %d is null", i)
		}
		reg, err := regionFromFeature(f)
		if err != nil {
			return nil, eris.Wrapf(err, "atlas: feature %d", i)
		}
		regions = append(regions, reg)
	}
	return New(regions)
}

func regionFromFeature(f *geojson.Feature) (Region, error) {
	poly, ok := f.Geometry.(*geom.Polygon)
	if !ok {
		return Region{}, eris.Errorf("geometry must be Polygon, got %T", f.Geometry)
	}
	if poly.NumLinearRings() != 1 {
		return Region{}, eris.Errorf("polygon has %d rings, holes are not supported", poly.NumLinearRings())
	}

	state := stringProp(f.Properties, propState)
	district := stringProp(f.Properties, propDistrict)
	primary := soil.Type(stringProp(f.Properties, propSoilType))

	var variants []soil.Type
	if raw, ok := f.Properties[propSoilTypes].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				variants = append(variants, soil.Type(s))
			}
		}
	}

	return NewRegion(state, district, primary, variants, poly.LinearRing(0).Coords())
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

// Encode writes the atlas as an indented GeoJSON FeatureCollection that
// Decode can read back.
func Encode(w io.Writer, a *Atlas) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, a.Len())}
	for _, r := range a.regions {
		variants := make([]string, 0, len(r.SoilTypeVariants))
		for _, v := range r.SoilTypeVariants {
			variants = append(variants, string(v))
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: r.Boundary(),
			Properties: map[string]any{
				propState:     r.Parent,
				propDistrict:  r.Name,
				propSoilType:  string(r.PrimarySoilType),
				propSoilTypes: variants,
			},
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	if err := enc.Encode(&fc); err != nil {
		return eris.Wrap(err, "atlas: encode geojson")
	}
	return nil
}

// LoadFile decodes an atlas from a GeoJSON file.
func LoadFile(path string) (*Atlas, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "atlas: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Decode(f)
}

var defaultAtlas = sync.OnceValues(func() (*Atlas, error) {
	a, err := Decode(bytes.NewReader(embeddedRegions))
	if err != nil {
		return nil, err
	}
	for _, o := range a.Overlaps() {
		zap.L().Warn("atlas: overlapping regions, first in atlas order wins",
			zap.String("first", o.First),
			zap.String("second", o.Second),
		)
	}
	return a, nil
})

// Default returns the atlas built from the embedded reference data. It is
// decoded once per process and never modified.
func Default() (*Atlas, error) {
	return defaultAtlas()
}
