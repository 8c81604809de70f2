// Package batch resolves many coordinates at once, for back-filling
// existing farm records.
package batch

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/soilmap/internal/api"
	"github.com/sells-group/soilmap/internal/resolve"
)

// Resolver is the part of *resolve.Engine a batch needs.
type Resolver interface {
	ResolveQuery(q resolve.Query) (resolve.Result, error)
}

// Row is one input record. ParseErr is set when its coordinates could not
// be read; such rows are reported, not resolved.
type Row struct {
	Line      int
	ID        string
	Latitude  string
	Longitude string
	Query     resolve.Query
	ParseErr  error
}

// Outcome statuses.
const (
	StatusResolved = "resolved"
	StatusFailed   = api.CodeInternal
)

// Outcome is the result for one row, in input order.
type Outcome struct {
	Row    Row
	Result resolve.Result
	Err    error
}

// Status returns resolved, an api failure code, or internal_error.
func (o Outcome) Status() string {
	switch {
	case o.Err != nil && resolve.IsInvalidInput(o.Err):
		return api.CodeInvalidInput
	case o.Err != nil:
		return StatusFailed
	case o.Result.Resolved():
		return StatusResolved
	case o.Result.Reason == resolve.OutOfCoverage:
		return api.CodeOutOfCoverage
	default:
		return api.CodeNoMatchWithinThreshold
	}
}

// Summary counts outcomes by kind.
type Summary struct {
	Total      int `json:"total"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Unresolved int `json:"unresolved"`
	Invalid    int `json:"invalid"`
	Failed     int `json:"failed"`
}

func (s *Summary) add(o Outcome) {
	s.Total++
	switch o.Status() {
	case StatusResolved:
		if o.Result.Confidence == resolve.High {
			s.High++
		} else {
			s.Medium++
		}
	case api.CodeInvalidInput:
		s.Invalid++
	case StatusFailed:
		s.Failed++
	default:
		s.Unresolved++
	}
}

// Run resolves rows with at most concurrency in flight. Outcomes are in
// input order. Rows not started before ctx is cancelled carry ctx's error.
func Run(ctx context.Context, r Resolver, rows []Row, concurrency int) ([]Outcome, Summary) {
	if concurrency < 1 {
		concurrency = 1
	}

	outcomes := make([]Outcome, len(rows))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, row := range rows {
		g.Go(func() error {
			outcomes[i] = resolveRow(gCtx, r, row)
			return nil // one bad row never aborts the batch
		})
	}
	_ = g.Wait()

	var sum Summary
	for _, o := range outcomes {
		sum.add(o)
	}

	zap.L().Info("batch: complete",
		zap.Int("total", sum.Total),
		zap.Int("high", sum.High),
		zap.Int("medium", sum.Medium),
		zap.Int("unresolved", sum.Unresolved),
		zap.Int("invalid", sum.Invalid),
		zap.Int("failed", sum.Failed),
	)
	return outcomes, sum
}

func resolveRow(ctx context.Context, r Resolver, row Row) Outcome {
	if row.ParseErr != nil {
		return Outcome{Row: row, Err: row.ParseErr}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Row: row, Err: err}
	}
	res, err := r.ResolveQuery(row.Query)
	if err != nil && !resolve.IsInvalidInput(err) {
		zap.L().Error("batch: row failed",
			zap.String("id", row.ID),
			zap.Int("line", row.Line),
			zap.Error(err),
		)
	}
	return Outcome{Row: row, Result: res, Err: err}
}
