package atlas

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/soil"
)

// ShapefileFields names the DBF attributes that carry region identity.
// Soil may be empty, in which case regions are imported without a soil
// type and resolve to the default profile until one is assigned.
type ShapefileFields struct {
	State    string
	District string
	Soil     string
}

// ImportShapefile reads district polygons from an ESRI shapefile. Only the
// first part of each polygon is used as its boundary; additional parts
// (islands, holes) are skipped with a debug log.
func ImportShapefile(path string, fields ShapefileFields) ([]Region, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "atlas: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	stateIdx := fieldIndex(reader, fields.State)
	districtIdx := fieldIndex(reader, fields.District)
	if stateIdx < 0 || districtIdx < 0 {
		return nil, eris.Errorf("atlas: shapefile fields %q and %q are required", fields.State, fields.District)
	}
	soilIdx := -1
	if fields.Soil != "" {
		if soilIdx = fieldIndex(reader, fields.Soil); soilIdx < 0 {
			return nil, eris.Errorf("atlas: shapefile field %q not found", fields.Soil)
		}
	}

	log := zap.L().With(zap.String("component", "atlas.shapefile"), zap.String("path", path))

	var regions []Region
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 {
			skipped++
			continue
		}

		state := attribute(reader, stateIdx)
		district := attribute(reader, districtIdx)
		var primary soil.Type
		if soilIdx >= 0 {
			primary = soil.Type(attribute(reader, soilIdx))
		}

		if poly.NumParts > 1 {
			log.Debug("atlas: using first polygon part only",
				zap.Int("record", n),
				zap.String("district", district),
				zap.Int32("parts", poly.NumParts),
			)
		}

		reg, err := NewRegion(state, district, primary, nil, firstPart(poly))
		if err != nil {
			log.Warn("atlas: skipping shapefile record", zap.Int("record", n), zap.Error(err))
			skipped++
			continue
		}
		regions = append(regions, reg)
	}

	log.Info("atlas: shapefile imported", zap.Int("regions", len(regions)), zap.Int("skipped", skipped))
	return regions, nil
}

func firstPart(p *shp.Polygon) []geom.Coord {
	start := p.Parts[0]
	end := int32(len(p.Points))
	if p.NumParts > 1 {
		end = p.Parts[1]
	}
	coords := make([]geom.Coord, 0, end-start)
	for i := start; i < end; i++ {
		coords = append(coords, geom.Coord{p.Points[i].X, p.Points[i].Y})
	}
	return coords
}

// fieldIndex returns the index of a named field, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	if name == "" {
		return -1
	}
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

func attribute(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}
