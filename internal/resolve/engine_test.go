package resolve

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/soilmap/internal/atlas"
	"github.com/sells-group/soilmap/internal/soil"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	a, err := atlas.Default()
	require.NoError(t, err)
	tb, err := soil.Default()
	require.NoError(t, err)
	e, err := NewEngine(a, tb, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	return e
}

func square(x0, y0, size float64) []geom.Coord {
	return []geom.Coord{{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}}
}

func TestResolve_InsidePolygon(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Resolve(Coordinate{Latitude: 8.50, Longitude: 76.95})
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, "Thiruvananthapuram", res.Region.Name)
	assert.Equal(t, "Kerala", res.Region.Parent)
	assert.Equal(t, soil.Type("Laterite soil"), res.SoilType())
	assert.Equal(t, High, res.Confidence)
	assert.True(t, res.Profiled)
	assert.Zero(t, res.Distance)
	assert.Equal(t, Coordinate{Latitude: 8.50, Longitude: 76.95}, res.Coordinate)
	assert.Equal(t, "Gravelly clay loam", res.Profile.Texture)
}

func TestResolve_KnownDistricts(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		lat, lon float64
		district string
	}{
		{13.0, 77.6, "Bengaluru Urban"},
		{12.3, 76.6, "Mysuru"},
		{31.5, 75.0, "Amritsar"},
		{10.1, 76.5, "Ernakulam"},
	}
	for _, tt := range tests {
		t.Run(tt.district, func(t *testing.T) {
			res, err := e.Resolve(Coordinate{Latitude: tt.lat, Longitude: tt.lon})
			require.NoError(t, err)
			require.True(t, res.Resolved())
			assert.Equal(t, tt.district, res.Region.Name)
			assert.Equal(t, High, res.Confidence)
		})
	}
}

func TestResolve_EveryCentroidResolvesToItsRegion(t *testing.T) {
	e := newTestEngine(t)

	for _, r := range e.Atlas().Regions() {
		c := r.Centroid()
		res, err := e.Resolve(Coordinate{Latitude: c[1], Longitude: c[0]})
		require.NoError(t, err)
		require.True(t, res.Resolved(), r.Key())
		assert.Equal(t, r.Key(), res.Region.Key())
		assert.Equal(t, High, res.Confidence, r.Key())
	}
}

func TestResolve_OutOfCoverage(t *testing.T) {
	e := newTestEngine(t)

	for _, c := range []Coordinate{
		{Latitude: 0, Longitude: 0},
		{Latitude: 5.9, Longitude: 77},
		{Latitude: 20, Longitude: 97.6},
		{Latitude: -33.9, Longitude: 151.2},
		{Latitude: 90, Longitude: 180},
	} {
		res, err := e.Resolve(c)
		require.NoError(t, err)
		assert.False(t, res.Resolved())
		assert.Nil(t, res.Region)
		assert.Equal(t, OutOfCoverage, res.Reason, "%+v", c)
	}
}

func TestResolve_FallbackWithinThreshold(t *testing.T) {
	e := newTestEngine(t)

	c := Coordinate{Latitude: 8.90, Longitude: 76.95}
	_, inside := locate(e.Atlas(), c, false)
	require.False(t, inside, "point should be outside every polygon")

	res, err := e.Resolve(c)
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, "Thiruvananthapuram", res.Region.Name)
	assert.Equal(t, Medium, res.Confidence)
	assert.InDelta(t, 0.3147, res.Distance, 1e-3)
	assert.LessOrEqual(t, res.Distance, DefaultThresholdDeg)
}

func TestResolve_NoMatchWithinThreshold(t *testing.T) {
	e := newTestEngine(t)

	for _, c := range []Coordinate{
		{Latitude: 15.0, Longitude: 95.0},
		{Latitude: 20.0, Longitude: 70.0},
	} {
		res, err := e.Resolve(c)
		require.NoError(t, err)
		assert.False(t, res.Resolved())
		assert.Equal(t, NoMatchWithinThreshold, res.Reason)
	}
}

func TestResolve_UnprofiledSoilTypeUsesDefault(t *testing.T) {
	reg, err := atlas.NewRegion("Goa", "North Goa", "Peaty soil", nil, square(73.7, 15.4, 0.4))
	require.NoError(t, err)
	a, err := atlas.New([]atlas.Region{reg})
	require.NoError(t, err)
	tb, err := soil.Default()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	e, err := NewEngine(a, tb, WithLogger(zap.New(core)))
	require.NoError(t, err)

	res, err := e.Resolve(Coordinate{Latitude: 15.6, Longitude: 73.9})
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, High, res.Confidence)
	assert.False(t, res.Profiled)

	def := tb.DefaultProfile()
	assert.Equal(t, def, res.Profile)
	assert.Equal(t, "Loam", res.Profile.Texture)
	assert.Equal(t, def.OrganicCarbon, res.Profile.OrganicCarbon)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Contains(t, entry.Message, "not profiled")
	assert.Equal(t, "Peaty soil", entry.ContextMap()["soil_type"])
}

func TestResolve_InvalidInput(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name  string
		c     Coordinate
		field string
	}{
		{"nan latitude", Coordinate{Latitude: math.NaN(), Longitude: 76}, "latitude"},
		{"inf longitude", Coordinate{Latitude: 10, Longitude: math.Inf(-1)}, "longitude"},
		{"latitude out of range", Coordinate{Latitude: 91, Longitude: 76}, "latitude"},
		{"longitude out of range", Coordinate{Latitude: 10, Longitude: 181}, "longitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Resolve(tt.c)
			require.Error(t, err)
			assert.True(t, IsInvalidInput(err))
			assert.False(t, res.Resolved())
			assert.Equal(t, InvalidInput, res.Reason)

			var ie *InvalidInputError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.field, ie.Field)
		})
	}
}

func TestResolve_InvalidInputSkipsAtlas(t *testing.T) {
	// A zero Engine has no atlas; any traversal would panic.
	var e Engine
	_, err := e.Resolve(Coordinate{Latitude: math.NaN(), Longitude: 76})
	assert.True(t, IsInvalidInput(err))

	q, err := ParseQuery([]byte(`{"latitude":"x","longitude":76}`))
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))

	_, err = e.ResolveQuery(q)
	assert.True(t, IsInvalidInput(err))
}

func TestResolve_CorruptEngineIsInternal(t *testing.T) {
	e := &Engine{coverage: IndiaCoverage, log: zap.NewNop()}

	res, err := e.Resolve(Coordinate{Latitude: 10, Longitude: 76})
	require.Error(t, err)
	assert.True(t, IsInternal(err))
	assert.False(t, IsInvalidInput(err))
	assert.False(t, res.Resolved())
}

func TestResolve_IndexMatchesLinearScan(t *testing.T) {
	indexed := newTestEngine(t, WithIndex(true))
	linear := newTestEngine(t, WithIndex(false))

	for lat := 6.0; lat <= 37.5; lat += 0.37 {
		for lon := 68.0; lon <= 97.5; lon += 0.41 {
			c := Coordinate{Latitude: lat, Longitude: lon}
			a, err := indexed.Resolve(c)
			require.NoError(t, err)
			b, err := linear.Resolve(c)
			require.NoError(t, err)

			require.Equal(t, a.Resolved(), b.Resolved(), "%+v", c)
			assert.Equal(t, a.Reason, b.Reason)
			if a.Resolved() {
				assert.Equal(t, a.Region.Key(), b.Region.Key(), "%+v", c)
				assert.Equal(t, a.Confidence, b.Confidence)
			}
		}
	}
}

func TestResolve_FirstMatchWinsOnOverlap(t *testing.T) {
	first, err := atlas.NewRegion("S", "First", "Red soil", nil, square(80, 20, 2))
	require.NoError(t, err)
	second, err := atlas.NewRegion("S", "Second", "Black soil", nil, square(81, 21, 2))
	require.NoError(t, err)
	a, err := atlas.New([]atlas.Region{second, first})
	require.NoError(t, err)
	tb, err := soil.Default()
	require.NoError(t, err)

	for _, idx := range []bool{true, false} {
		e, err := NewEngine(a, tb, WithIndex(idx), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		res, err := e.Resolve(Coordinate{Latitude: 21.5, Longitude: 81.5})
		require.NoError(t, err)
		require.True(t, res.Resolved())
		assert.Equal(t, "Second", res.Region.Name, "index=%v", idx)
	}
}

func TestResolve_HaversineMetric(t *testing.T) {
	e := newTestEngine(t, WithMetric(Haversine))
	assert.Equal(t, DefaultThresholdKm, e.Threshold())

	res, err := e.Resolve(Coordinate{Latitude: 8.90, Longitude: 76.95})
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, Medium, res.Confidence)
	assert.InDelta(t, 35.0, res.Distance, 1.0)

	tight := newTestEngine(t, WithMetric(Haversine), WithThreshold(20))
	res, err = tight.Resolve(Coordinate{Latitude: 8.90, Longitude: 76.95})
	require.NoError(t, err)
	assert.Equal(t, NoMatchWithinThreshold, res.Reason)
}

func TestResolve_CustomCoverage(t *testing.T) {
	e := newTestEngine(t, WithCoverage(atlas.Bounds{MinLon: 76, MinLat: 8, MaxLon: 78, MaxLat: 14}))

	res, err := e.Resolve(Coordinate{Latitude: 31.5, Longitude: 75.0})
	require.NoError(t, err)
	assert.Equal(t, OutOfCoverage, res.Reason)

	res, err = e.Resolve(Coordinate{Latitude: 13.0, Longitude: 77.6})
	require.NoError(t, err)
	assert.True(t, res.Resolved())
}

func TestResolve_ConcurrentCallsAgree(t *testing.T) {
	e := newTestEngine(t)
	points := []Coordinate{
		{Latitude: 8.50, Longitude: 76.95},
		{Latitude: 8.90, Longitude: 76.95},
		{Latitude: 0, Longitude: 0},
		{Latitude: 15, Longitude: 95},
	}
	want := make([]Result, len(points))
	for i, p := range points {
		res, err := e.Resolve(p)
		require.NoError(t, err)
		want[i] = res
	}

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, p := range points {
				res, err := e.Resolve(p)
				if err != nil || res.Resolved() != want[i].Resolved() || res.Reason != want[i].Reason {
					errs <- "mismatch"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	assert.Empty(t, errs)
}

func TestNewEngine_Errors(t *testing.T) {
	a, err := atlas.Default()
	require.NoError(t, err)
	tb, err := soil.Default()
	require.NoError(t, err)

	_, err = NewEngine(nil, tb)
	assert.Error(t, err)
	_, err = NewEngine(a, nil)
	assert.Error(t, err)
	_, err = NewEngine(a, tb, WithMetric("manhattan"))
	assert.Error(t, err)
	_, err = NewEngine(a, tb, WithThreshold(-1))
	assert.Error(t, err)
	_, err = NewEngine(a, tb, WithCoverage(atlas.Bounds{MinLon: 10, MaxLon: 0, MinLat: 0, MaxLat: 1}))
	assert.Error(t, err)
}

func TestDefault_Singleton(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)
	b, err := Default()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, Planar, a.Metric())
	assert.Equal(t, DefaultThresholdDeg, a.Threshold())
}
