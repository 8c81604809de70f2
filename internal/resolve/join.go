package resolve

import (
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/atlas"
	"github.com/sells-group/soilmap/internal/soil"
)

// join looks up the region's primary soil type. Unknown types get the
// default profile and a warning so unprofiled atlas entries are visible.
func join(tb *soil.Table, r atlas.Region, log *zap.Logger) (soil.Profile, bool) {
	p, ok := tb.Lookup(r.PrimarySoilType)
	if !ok {
		log.Warn("resolve: soil type not profiled, using default profile",
			zap.String("region", r.Key()),
			zap.String("soil_type", string(r.PrimarySoilType)),
		)
	}
	return p, ok
}
