package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/api"
	"github.com/sells-group/soilmap/internal/atlas"
	"github.com/sells-group/soilmap/internal/config"
	"github.com/sells-group/soilmap/internal/db"
	"github.com/sells-group/soilmap/internal/soil"
)

var atlasCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Inspect, convert and publish the region atlas",
}

// --- list ---

var atlasListState string

var atlasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List regions with their soil types and centroids",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, tb, err := loadAtlasAndTable(cmd, cfg)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), listRegions(a, tb, atlasListState))
	},
}

func listRegions(a *atlas.Atlas, tb *soil.Table, state string) []api.RegionSummary {
	regions := a.Regions()
	if state != "" {
		regions = a.InState(state)
	}
	out := make([]api.RegionSummary, 0, len(regions))
	for _, r := range regions {
		out = append(out, api.SummarizeRegion(r, tb))
	}
	return out
}

// --- validate ---

type validationReport struct {
	Regions    int             `json:"regions"`
	SoilTypes  int             `json:"soilTypes"`
	Extent     atlas.Bounds    `json:"extent"`
	Overlaps   []atlas.Overlap `json:"overlaps"`
	Unprofiled []string        `json:"unprofiled"`
}

var atlasValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report overlapping regions and soil types missing from the profile table",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, tb, err := loadAtlasAndTable(cmd, cfg)
		if err != nil {
			return err
		}
		rep := validateAtlas(a, tb)
		for _, o := range rep.Overlaps {
			zap.L().Warn("atlas: overlapping regions, first in atlas order wins",
				zap.String("first", o.First),
				zap.String("second", o.Second),
			)
		}
		return printJSON(cmd.OutOrStdout(), rep)
	},
}

func validateAtlas(a *atlas.Atlas, tb *soil.Table) validationReport {
	rep := validationReport{
		Regions:    a.Len(),
		SoilTypes:  len(a.SoilTypes()),
		Extent:     a.Extent(),
		Overlaps:   a.Overlaps(),
		Unprofiled: []string{},
	}
	if rep.Overlaps == nil {
		rep.Overlaps = []atlas.Overlap{}
	}
	for _, r := range a.Unprofiled(tb) {
		rep.Unprofiled = append(rep.Unprofiled, r.Key()+": "+string(r.PrimarySoilType))
	}
	return rep
}

// --- export ---

var atlasExportOutput string

var atlasExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the configured atlas as GeoJSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("atlas"); err != nil {
			return err
		}
		a, err := loadAtlas(cmd.Context(), cfg.Atlas, cfg.Store)
		if err != nil {
			return err
		}
		return writeGeoJSON(cmd.OutOrStdout(), atlasExportOutput, a)
	},
}

// --- import ---

var (
	atlasImportShp    string
	atlasImportOutput string
	atlasImportFields atlas.ShapefileFields
)

var atlasImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Convert a district shapefile into an atlas GeoJSON file",
	Example: `  soilmap atlas import --shp districts.shp --state-field ST_NM --district-field DISTRICT --soil-field SOIL --output regions.geojson`,
	RunE: func(cmd *cobra.Command, args []string) error {
		regions, err := atlas.ImportShapefile(atlasImportShp, atlasImportFields)
		if err != nil {
			return err
		}
		a, err := atlas.New(regions)
		if err != nil {
			return err
		}
		return writeGeoJSON(cmd.OutOrStdout(), atlasImportOutput, a)
	},
}

// --- publish ---

var atlasPublishTable string

var atlasPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upsert the configured atlas into a PostGIS table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("publish"); err != nil {
			return err
		}
		if cfg.Atlas.Source == config.SourcePostgres {
			return eris.New("atlas publish needs a file or embedded source")
		}
		table := cfg.Atlas.Table
		if atlasPublishTable != "" {
			table = atlasPublishTable
		}

		ctx := cmd.Context()
		a, err := loadAtlas(ctx, cfg.Atlas, cfg.Store)
		if err != nil {
			return err
		}
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		n, err := atlas.PublishPostgres(ctx, pool, table, a)
		if err != nil {
			return err
		}
		zap.L().Info("atlas: published", zap.String("table", table), zap.Int64("rows", n))
		return nil
	},
}

func loadAtlasAndTable(cmd *cobra.Command, c *config.Config) (*atlas.Atlas, *soil.Table, error) {
	if err := c.Validate("atlas"); err != nil {
		return nil, nil, err
	}
	a, err := loadAtlas(cmd.Context(), c.Atlas, c.Store)
	if err != nil {
		return nil, nil, err
	}
	tb, err := loadTable(c.Atlas)
	if err != nil {
		return nil, nil, err
	}
	return a, tb, nil
}

func writeGeoJSON(stdout io.Writer, path string, a *atlas.Atlas) error {
	if path == "" {
		return atlas.Encode(stdout, a)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := atlas.Encode(f, a); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

func init() {
	atlasListCmd.Flags().StringVar(&atlasListState, "state", "", "only regions in this state")

	atlasExportCmd.Flags().StringVar(&atlasExportOutput, "output", "", "output file (default stdout)")

	atlasImportCmd.Flags().StringVar(&atlasImportShp, "shp", "", "path to the .shp file")
	atlasImportCmd.Flags().StringVar(&atlasImportFields.State, "state-field", "STATE", "DBF field holding the state name")
	atlasImportCmd.Flags().StringVar(&atlasImportFields.District, "district-field", "DISTRICT", "DBF field holding the district name")
	atlasImportCmd.Flags().StringVar(&atlasImportFields.Soil, "soil-field", "", "DBF field holding the primary soil type")
	atlasImportCmd.Flags().StringVar(&atlasImportOutput, "output", "", "output GeoJSON file (default stdout)")
	_ = atlasImportCmd.MarkFlagRequired("shp")

	atlasPublishCmd.Flags().StringVar(&atlasPublishTable, "table", "", "target table (default atlas.table)")

	atlasCmd.AddCommand(atlasListCmd, atlasValidateCmd, atlasExportCmd, atlasImportCmd, atlasPublishCmd)
	rootCmd.AddCommand(atlasCmd)
}
