package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/config"
	"github.com/sells-group/soilmap/internal/resolve"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:               0,
		AllowedOrigins:     []string{"*"},
		RequestTimeoutSecs: 5,
	}
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	e, err := resolve.Default()
	require.NoError(t, err)
	return New(e, cfg)
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())
	rr, body := do(t, s.Handler(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 33.0, body["regions"])
	assert.Equal(t, 7.0, body["soil_types"])
}

func TestResolvePost(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKey    string
		wantValue  any
	}{
		{"inside polygon", `{"latitude":8.50,"longitude":76.95}`, http.StatusOK, "district", "Thiruvananthapuram"},
		{"fallback", `{"latitude":8.90,"longitude":76.95}`, http.StatusOK, "confidence", "Medium"},
		{"out of coverage", `{"latitude":0,"longitude":0}`, http.StatusOK, "error", "out_of_coverage"},
		{"no match", `{"latitude":15.0,"longitude":95.0}`, http.StatusOK, "error", "no_match_within_threshold"},
		{"string latitude", `{"latitude":"x","longitude":76}`, http.StatusBadRequest, "error", "invalid_input"},
		{"missing longitude", `{"latitude":8.5}`, http.StatusBadRequest, "error", "invalid_input"},
		{"not json", `latitude=8.5`, http.StatusBadRequest, "error", "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := do(t, s.Handler(), http.MethodPost, "/v1/soil/resolve", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantValue, body[tt.wantKey])
		})
	}
}

func TestResolvePost_SuccessShape(t *testing.T) {
	s := newTestServer(t, testConfig())
	rr, body := do(t, s.Handler(), http.MethodPost, "/v1/soil/resolve", `{"latitude":8.50,"longitude":76.95}`)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Kerala", body["state"])
	assert.Equal(t, "Laterite soil", body["soilType"])
	assert.Equal(t, "High", body["confidence"])
	for _, k := range []string{"soilTypes", "texture", "ph", "phRange", "organicCarbon", "latitude", "longitude"} {
		assert.Contains(t, body, k)
	}
}

func TestResolvePost_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, testConfig())
	big := `{"latitude":8.5,"longitude":76.95,"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rr, body := do(t, s.Handler(), http.MethodPost, "/v1/soil/resolve", big)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", body["error"])
}

func TestResolveGet(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr, body := do(t, s.Handler(), http.MethodGet, "/v1/soil/resolve?lat=13.0&lon=77.6", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Bengaluru Urban", body["district"])

	rr, body = do(t, s.Handler(), http.MethodGet, "/v1/soil/resolve?lat=abc&lon=77.6", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", body["error"])
	assert.Equal(t, "latitude must be a number", body["message"])

	// strconv would read this as 8.
	rr, body = do(t, s.Handler(), http.MethodGet, "/v1/soil/resolve?lat=0x1p3&lon=76.95", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", body["error"])
}

func TestRegions(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/regions", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var all []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	assert.Len(t, all, 33)

	req = httptest.NewRequest(http.MethodGet, "/v1/regions?state=rajasthan", nil)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	var rj []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rj))
	require.Len(t, rj, 3)
	assert.Equal(t, "Jaipur", rj[0]["district"])
	assert.Contains(t, rj[0], "centroid")
}

func TestRegion(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr, body := do(t, s.Handler(), http.MethodGet, "/v1/regions/Karnataka/Bengaluru%20Urban", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Bengaluru Urban", body["district"])
	profile, ok := body["profile"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Sandy to loamy", profile["texture"])

	rr, body = do(t, s.Handler(), http.MethodGet, "/v1/regions/Kerala/Atlantis", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestSoilTypes(t *testing.T) {
	s := newTestServer(t, testConfig())
	rr, body := do(t, s.Handler(), http.MethodGet, "/v1/soil-types", "")
	require.Equal(t, http.StatusOK, rr.Code)

	types, ok := body["soilTypes"].([]any)
	require.True(t, ok)
	assert.Len(t, types, 7)
	assert.Contains(t, body, "defaultProfile")
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-Id"))

	rr, _ = do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Len(t, rr.Header().Get("X-Request-Id"), 36, "generated ids are UUIDs")
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://farm.example.com"}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/v1/soil/resolve", nil)
	req.Header.Set("Origin", "https://farm.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "https://farm.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 2}
	s := newTestServer(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/soil-types", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/v1/soil-types", nil)
	req.RemoteAddr = "198.51.100.2:5000"
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Health checks are never limited.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func limitedStatuses(t *testing.T, h http.Handler, remote string, n int, forwardedFor func(i int) string) []int {
	t.Helper()
	codes := make([]int, 0, n)
	for i := 0; i < n; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/soil-types", nil)
		req.RemoteAddr = remote
		if forwardedFor != nil {
			req.Header.Set("X-Forwarded-For", forwardedFor(i))
			req.Header.Set("X-Real-IP", forwardedFor(i))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	return codes
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 2}
	s := newTestServer(t, cfg)

	rotating := func(i int) string { return fmt.Sprintf("198.51.100.%d", i+1) }
	codes := limitedStatuses(t, s.Handler(), "203.0.113.7:5000", 20, rotating)

	limited := 0
	for _, c := range codes {
		if c == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes[:2])
	assert.Equal(t, 18, limited, "one peer shares one bucket whatever it forwards")
}

func TestRateLimit_TrustedProxyForwardsClient(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	cfg.TrustedProxies = []string{"10.0.0.0/8"}
	s := newTestServer(t, cfg)
	h := s.Handler()

	// Distinct clients behind the proxy get their own buckets.
	first := limitedStatuses(t, h, "10.1.2.3:443", 2, func(int) string { return "198.51.100.1" })
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, first)
	second := limitedStatuses(t, h, "10.1.2.3:443", 1, func(int) string { return "198.51.100.2" })
	assert.Equal(t, []int{http.StatusOK}, second)

	// A client-supplied hop left of the proxy chain cannot pick its bucket.
	spoofed := limitedStatuses(t, h, "10.1.2.3:443", 1, func(int) string { return "192.0.2.99, 198.51.100.1, 10.4.4.4" })
	assert.Equal(t, []int{http.StatusTooManyRequests}, spoofed)
}

func TestProxyTrust_ClientAddr(t *testing.T) {
	p := newProxyTrust([]string{"10.0.0.0/8", "192.0.2.10", "not-an-ip"}, zap.NewNop())
	require.Len(t, p.prefixes, 2)

	tests := []struct {
		name   string
		remote string
		xff    string
		xrip   string
		want   string
	}{
		{"untrusted peer ignores headers", "203.0.113.7:5000", "198.51.100.1", "198.51.100.2", "203.0.113.7"},
		{"trusted cidr uses forwarded", "10.0.0.5:80", "198.51.100.1", "", "198.51.100.1"},
		{"trusted single address", "192.0.2.10:80", "198.51.100.1", "", "198.51.100.1"},
		{"skips trusted hops", "10.0.0.5:80", "198.51.100.1, 10.9.9.9", "", "198.51.100.1"},
		{"real ip fallback", "10.0.0.5:80", "", "198.51.100.3", "198.51.100.3"},
		{"garbage header keeps peer", "10.0.0.5:80", "nonsense", "", "10.0.0.5"},
		{"ipv4 mapped peer", "[::ffff:10.0.0.5]:80", "198.51.100.1", "", "198.51.100.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xrip != "" {
				req.Header.Set("X-Real-IP", tt.xrip)
			}
			assert.Equal(t, tt.want, p.clientAddr(req))
		})
	}
}

func TestClientLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newClientLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.Len(t, l.clients, 1)

	now = now.Add(10 * time.Minute)
	assert.True(t, l.allow("b"))
	assert.Len(t, l.clients, 1, "idle client a was swept")
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, testConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/health", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx
		if err != nil {
			return false
		}
		resp.Body.Close() //nolint:errcheck
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
