// Package resolve maps a coordinate to an atlas region and its soil
// profile. The flow is coverage check, polygon containment, then a
// nearest-centroid fallback bounded by a distance threshold.
package resolve

import (
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/atlas"
	"github.com/sells-group/soilmap/internal/soil"
)

// Engine resolves coordinates against one atlas and soil table. It holds no
// mutable state after NewEngine returns and is safe for concurrent use.
type Engine struct {
	atlas     *atlas.Atlas
	table     *soil.Table
	coverage  atlas.Bounds
	metric    Metric
	threshold float64
	useIndex  bool
	log       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCoverage sets the macro bounding box. Coordinates outside it resolve
// to OutOfCoverage without touching the atlas.
func WithCoverage(b atlas.Bounds) Option {
	return func(e *Engine) {
		e.coverage = b
	}
}

// WithMetric selects the fallback distance metric. Unless WithThreshold is
// also given, the threshold follows the metric's default.
func WithMetric(m Metric) Option {
	return func(e *Engine) {
		e.metric = m
	}
}

// WithThreshold sets the fallback acceptance distance, in the metric's unit.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		e.threshold = t
	}
}

// WithLogger sets the logger. Defaults to zap.L() at construction time.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithIndex toggles the R-tree candidate pre-filter. Results are identical
// either way.
func WithIndex(on bool) Option {
	return func(e *Engine) {
		e.useIndex = on
	}
}

// NewEngine builds an engine. The atlas and table are shared, not copied;
// both are immutable.
func NewEngine(a *atlas.Atlas, tb *soil.Table, opts ...Option) (*Engine, error) {
	if a == nil || a.Len() == 0 {
		return nil, eris.New("resolve: atlas is required")
	}
	if tb == nil {
		return nil, eris.New("resolve: soil table is required")
	}

	e := &Engine{
		atlas:     a,
		table:     tb,
		coverage:  IndiaCoverage,
		metric:    Planar,
		threshold: math.NaN(),
		useIndex:  true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.metric != Planar && e.metric != Haversine {
		return nil, eris.Errorf("resolve: unknown metric %q", e.metric)
	}
	if math.IsNaN(e.threshold) {
		e.threshold = e.metric.DefaultThreshold()
	}
	if e.threshold < 0 || math.IsInf(e.threshold, 0) {
		return nil, eris.Errorf("resolve: threshold must be a finite non-negative number, got %v", e.threshold)
	}
	if !e.coverage.Valid() {
		return nil, eris.Errorf("resolve: invalid coverage bounds %+v", e.coverage)
	}
	if e.log == nil {
		e.log = zap.L()
	}
	e.log = e.log.With(zap.String("component", "resolve"))
	return e, nil
}

// Atlas returns the engine's atlas.
func (e *Engine) Atlas() *atlas.Atlas {
	return e.atlas
}

// Table returns the engine's soil table.
func (e *Engine) Table() *soil.Table {
	return e.table
}

// Metric returns the fallback distance metric.
func (e *Engine) Metric() Metric {
	return e.metric
}

// Threshold returns the fallback acceptance distance.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Resolve maps a coordinate to a region and soil profile. OutOfCoverage and
// NoMatchWithinThreshold are ordinary results, not errors. An invalid
// coordinate returns an *InvalidInputError before any atlas work.
func (e *Engine) Resolve(c Coordinate) (res Result, err error) {
	if err := c.Validate(); err != nil {
		return unresolved(InvalidInput, c), err
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("resolve: panic during resolution",
				zap.Any("panic", r),
				zap.Float64("latitude", c.Latitude),
				zap.Float64("longitude", c.Longitude),
			)
			res = Result{Coordinate: c}
			err = &InternalError{Err: eris.Errorf("panic: %v", r)}
		}
	}()

	if !inCoverage(e.coverage, c) {
		return unresolved(OutOfCoverage, c), nil
	}

	if i, ok := locate(e.atlas, c, e.useIndex); ok {
		r := e.atlas.At(i)
		p, profiled := join(e.table, r, e.log)
		return assemble(r, p, profiled, High, c, 0), nil
	}

	i, d := nearest(e.atlas, c, e.metric)
	if i < 0 || d > e.threshold {
		return unresolved(NoMatchWithinThreshold, c), nil
	}
	r := e.atlas.At(i)
	p, profiled := join(e.table, r, e.log)
	return assemble(r, p, profiled, Medium, c, d), nil
}

// ResolveQuery validates a raw query and resolves it.
func (e *Engine) ResolveQuery(q Query) (Result, error) {
	c, err := q.Coordinate()
	if err != nil {
		return unresolved(InvalidInput, Coordinate{}), err
	}
	return e.Resolve(c)
}

var defaultEngine = sync.OnceValues(func() (*Engine, error) {
	a, err := atlas.Default()
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	tb, err := soil.Default()
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	return NewEngine(a, tb)
})

// Default returns an engine over the embedded atlas and soil table with
// default options, built once per process.
func Default() (*Engine, error) {
	return defaultEngine()
}
