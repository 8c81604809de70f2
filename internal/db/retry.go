package db

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RetryPolicy bounds reconnect attempts with doubling backoff.
type RetryPolicy struct {
	Attempts int           // total tries, including the first
	Initial  time.Duration // delay before the second try
	Max      time.Duration
}

// DefaultRetry suits a database that is still starting, e.g. alongside the
// service in a compose stack.
var DefaultRetry = RetryPolicy{Attempts: 4, Initial: 250 * time.Millisecond, Max: 4 * time.Second}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// policy or ctx runs out. The last error is returned.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	delay := p.Initial

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= p.Attempts || ctx.Err() != nil || !IsTransient(err) {
			return zero, err
		}

		zap.L().Warn("db: transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
}

// Postgres SQLSTATEs worth retrying: the server is starting, shutting
// down, or out of connection slots. Class 08 (connection exception) is
// matched by prefix.
var transientStates = map[string]bool{
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
}

// IsTransient reports whether err looks like a connection problem that a
// later attempt could get past. Query and constraint errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientStates[pgErr.Code] || len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}
