package server

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/soilmap/internal/api"
)

const requestIDHeader = "X-Request-Id"

// requestID keeps a caller-supplied request ID or assigns a UUID, and
// stores it where middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request at Info, or Warn for 5xx.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			}
			if status >= http.StatusInternalServerError {
				log.Warn("server: request failed", fields...)
				return
			}
			log.Info("server: request", fields...)
		})
	}
}

// clientLimiter hands out one token bucket per client IP. Idle buckets are
// swept so the map does not grow without bound.
type clientLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	idleAfter time.Duration
	clients   map[string]*clientBucket
	lastSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		idleAfter: 3 * time.Minute,
		clients:   make(map[string]*clientBucket),
		now:       time.Now,
	}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idleAfter {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > l.idleAfter {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, api.Failure{
				Error:   "rate_limited",
				Message: "Too many requests. Please slow down.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// proxyTrust decides whose forwarding headers are believed. Only a direct
// peer inside one of the prefixes may set the client address through
// X-Forwarded-For or X-Real-IP; anyone else is keyed on their own address.
type proxyTrust struct {
	prefixes []netip.Prefix
}

// newProxyTrust parses CIDRs or bare addresses. Bad entries are skipped
// with a warning; config validation rejects them before serve starts.
func newProxyTrust(entries []string, log *zap.Logger) proxyTrust {
	var p proxyTrust
	for _, e := range entries {
		prefix, err := parseTrusted(e)
		if err != nil {
			log.Warn("server: ignoring trusted proxy", zap.String("entry", e), zap.Error(err))
			continue
		}
		p.prefixes = append(p.prefixes, prefix)
	}
	return p
}

func parseTrusted(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		return prefix.Masked(), err
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

func (p proxyTrust) trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientAddr returns the address a request is attributed to. Behind
// trusted proxies it is the right-most X-Forwarded-For hop that is not
// itself a trusted proxy.
func (p proxyTrust) clientAddr(r *http.Request) string {
	peer := clientKey(r)
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !p.trusts(peerAddr) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !p.trusts(hop) {
				return hop.String()
			}
		}
	}
	if xrip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xrip.String()
	}
	return peer
}

// middleware rewrites RemoteAddr to the attributed client address so the
// limiter and request log see it.
func (p proxyTrust) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(p.prefixes) > 0 {
			if addr := p.clientAddr(r); addr != clientKey(r) {
				r.RemoteAddr = addr
			}
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
