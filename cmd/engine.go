package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/atlas"
	"github.com/sells-group/soilmap/internal/config"
	"github.com/sells-group/soilmap/internal/db"
	"github.com/sells-group/soilmap/internal/resolve"
	"github.com/sells-group/soilmap/internal/soil"
)

// buildEngine loads the configured atlas and soil table and applies the
// resolve settings.
func buildEngine(ctx context.Context, c *config.Config) (*resolve.Engine, error) {
	a, err := loadAtlas(ctx, c.Atlas, c.Store)
	if err != nil {
		return nil, err
	}
	tb, err := loadTable(c.Atlas)
	if err != nil {
		return nil, err
	}
	opts, err := engineOptions(c.Resolve)
	if err != nil {
		return nil, err
	}

	e, err := resolve.NewEngine(a, tb, opts...)
	if err != nil {
		return nil, err
	}

	if missing := a.Unprofiled(tb); len(missing) > 0 {
		for _, r := range missing {
			zap.L().Warn("soil type not profiled, default profile will be used",
				zap.String("region", r.Key()),
				zap.String("soil_type", string(r.PrimarySoilType)),
			)
		}
	}
	zap.L().Info("engine ready",
		zap.String("source", c.Atlas.Source),
		zap.Int("regions", a.Len()),
		zap.Int("soil_types", tb.Len()),
		zap.String("metric", string(e.Metric())),
		zap.Float64("threshold", e.Threshold()),
	)
	return e, nil
}

func loadAtlas(ctx context.Context, ac config.AtlasConfig, sc config.StoreConfig) (*atlas.Atlas, error) {
	switch ac.Source {
	case config.SourceEmbedded, "":
		return atlas.Default()
	case config.SourceFile:
		return atlas.LoadFile(ac.Path)
	case config.SourcePostgres:
		pool, err := db.Connect(ctx, sc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return db.Retry(ctx, db.DefaultRetry, "load atlas", func(ctx context.Context) (*atlas.Atlas, error) {
			return atlas.LoadPostgres(ctx, pool, ac.Table)
		})
	default:
		return nil, eris.Errorf("unknown atlas source %q", ac.Source)
	}
}

func loadTable(ac config.AtlasConfig) (*soil.Table, error) {
	if ac.ProfilesPath != "" {
		return soil.LoadFile(ac.ProfilesPath)
	}
	return soil.Default()
}

func engineOptions(rc config.ResolveConfig) ([]resolve.Option, error) {
	m, err := resolve.ParseMetric(rc.Metric)
	if err != nil {
		return nil, err
	}
	threshold := rc.ThresholdDeg
	if m == resolve.Haversine {
		threshold = rc.ThresholdKm
	}

	opts := []resolve.Option{
		resolve.WithMetric(m),
		resolve.WithIndex(rc.UseIndex),
		resolve.WithCoverage(atlas.Bounds{
			MinLon: rc.Coverage.MinLon,
			MinLat: rc.Coverage.MinLat,
			MaxLon: rc.Coverage.MaxLon,
			MaxLat: rc.Coverage.MaxLat,
		}),
	}
	if threshold > 0 {
		opts = append(opts, resolve.WithThreshold(threshold))
	}
	return opts, nil
}
