package atlas

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/db"
	"github.com/sells-group/soilmap/internal/soil"
)

// DefaultTable is the PostGIS table used when none is configured.
const DefaultTable = "geo.soil_regions"

// validTables is an allowlist of tables the atlas may be read from or
// published to, since the name is interpolated into SQL.
var validTables = map[string]bool{
	"geo.soil_regions":         true,
	"geo.soil_regions_staging": true,
}

func validateTable(table string) error {
	if !validTables[table] {
		return eris.Errorf("atlas: invalid table name %q", table)
	}
	return nil
}

// LoadPostgres reads an atlas from a PostGIS table ordered by its ordinal
// column, so atlas order survives the round trip.
func LoadPostgres(ctx context.Context, pool db.Pool, table string) (*Atlas, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, fmt.Sprintf(`
		SELECT state, district, soil_type, soil_types, ST_AsBinary(geom)
		FROM %s
		ORDER BY ordinal`, table))
	if err != nil {
		return nil, eris.Wrap(err, "atlas: query regions")
	}
	defer rows.Close()

	var regions []Region
	for rows.Next() {
		var (
			state, district, soilType string
			variants                  []string
			raw                       []byte
		)
		if err := rows.Scan(&state, &district, &soilType, &variants, &raw); err != nil {
			return nil, eris.Wrap(err, "atlas: scan region row")
		}

		g, err := wkb.Unmarshal(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "atlas: decode geometry for %s/%s", state, district)
		}
		poly, ok := g.(*geom.Polygon)
		if !ok || poly.NumLinearRings() != 1 {
			return nil, eris.Errorf("atlas: %s/%s geometry must be a polygon without holes", state, district)
		}

		vt := make([]soil.Type, 0, len(variants))
		for _, v := range variants {
			vt = append(vt, soil.Type(v))
		}
		reg, err := NewRegion(state, district, soil.Type(soilType), vt, poly.LinearRing(0).Coords())
		if err != nil {
			return nil, err
		}
		regions = append(regions, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "atlas: iterate region rows")
	}

	zap.L().Info("atlas: loaded regions from postgres",
		zap.String("table", table),
		zap.Int("regions", len(regions)),
	)
	return New(regions)
}

var publishColumns = []string{"ordinal", "state", "district", "soil_type", "soil_types", "geom"}

// PublishPostgres creates the table if needed and upserts every region,
// keyed by state and district.
func PublishPostgres(ctx context.Context, pool db.Pool, table string, a *Atlas) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	_, err := pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			ordinal INTEGER NOT NULL,
			state TEXT NOT NULL,
			district TEXT NOT NULL,
			soil_type TEXT NOT NULL,
			soil_types TEXT[] NOT NULL DEFAULT '{}',
			geom geometry(Polygon, 4326) NOT NULL,
			PRIMARY KEY (state, district)
		)`, table))
	if err != nil {
		return 0, eris.Wrap(err, "atlas: create regions table")
	}

	rows := make([][]any, 0, a.Len())
	for i, r := range a.regions {
		data, err := ewkb.Marshal(r.boundary, ewkb.NDR)
		if err != nil {
			return 0, eris.Wrapf(err, "atlas: encode %s", r.Key())
		}
		variants := make([]string, 0, len(r.SoilTypeVariants))
		for _, v := range r.SoilTypeVariants {
			variants = append(variants, string(v))
		}
		rows = append(rows, []any{i, r.Parent, r.Name, string(r.PrimarySoilType), variants, data})
	}

	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:   table,
		Columns: publishColumns,
		Key:     []string{"state", "district"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "atlas: publish regions")
	}
	return n, nil
}
