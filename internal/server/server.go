// Package server exposes the resolution engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/soilmap/internal/api"
	"github.com/sells-group/soilmap/internal/config"
	"github.com/sells-group/soilmap/internal/resolve"
)

const (
	maxBodyBytes    = 1 << 16
	shutdownTimeout = 10 * time.Second
)

// Server routes resolution and catalogue requests to one engine.
type Server struct {
	engine *resolve.Engine
	cfg    config.ServerConfig
	log    *zap.Logger
	router chi.Router
}

// New builds a server and its router.
func New(e *resolve.Engine, cfg config.ServerConfig) *Server {
	s := &Server{
		engine: e,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "server")),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(newProxyTrust(s.cfg.TrustedProxies, s.log).middleware)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	if s.cfg.RequestTimeoutSecs > 0 {
		r.Use(middleware.Timeout(time.Duration(s.cfg.RequestTimeoutSecs) * time.Second))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.RateLimit.RPS > 0 {
			r.Use(newClientLimiter(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst).middleware)
		}
		r.Post("/soil/resolve", s.handleResolvePost)
		r.Get("/soil/resolve", s.handleResolveGet)
		r.Get("/regions", s.handleRegions)
		r.Get("/regions/{state}/{district}", s.handleRegion)
		r.Get("/soil-types", s.handleSoilTypes)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"regions":    s.engine.Atlas().Len(),
		"soil_types": s.engine.Table().Len(),
	})
}

func (s *Server) handleResolvePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, &resolve.InvalidInputError{Reason: "request body too large or unreadable"})
		return
	}
	q, err := resolve.ParseQuery(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.resolve(w, r, q)
}

func (s *Server) handleResolveGet(w http.ResponseWriter, r *http.Request) {
	q, err := resolve.ParseQueryStrings(r.URL.Query().Get("lat"), r.URL.Query().Get("lon"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.resolve(w, r, q)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, q resolve.Query) {
	res, err := s.engine.ResolveQuery(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.Resolved() {
		s.log.Debug("server: coordinate not resolved",
			zap.String("reason", string(res.Reason)),
			zap.Float64("latitude", res.Coordinate.Latitude),
			zap.Float64("longitude", res.Coordinate.Longitude),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	}
	writeJSON(w, http.StatusOK, api.FromResult(res))
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	a := s.engine.Atlas()
	regions := a.Regions()
	if state := r.URL.Query().Get("state"); state != "" {
		regions = a.InState(state)
	}
	out := make([]api.RegionSummary, 0, len(regions))
	for _, reg := range regions {
		out = append(out, api.SummarizeRegion(reg, s.engine.Table()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	state, err1 := url.PathUnescape(chi.URLParam(r, "state"))
	district, err2 := url.PathUnescape(chi.URLParam(r, "district"))
	if err1 != nil || err2 != nil {
		s.writeError(w, r, &resolve.InvalidInputError{Reason: "malformed region path"})
		return
	}

	reg, ok := s.engine.Atlas().Find(state, district)
	if !ok {
		writeJSON(w, http.StatusNotFound, api.NewFailure(api.CodeNotFound))
		return
	}
	writeJSON(w, http.StatusOK, api.RegionDetail{
		RegionSummary: api.SummarizeRegion(reg, s.engine.Table()),
		Profile:       api.ProfileFrom(s.engine.Table().Profile(reg.PrimarySoilType)),
	})
}

func (s *Server) handleSoilTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.SoilTypesFrom(s.engine.Table()))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, f := api.FromError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("server: resolution failed",
			zap.Error(err),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	}
	writeJSON(w, status, f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run listens on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return eris.Wrapf(err, "server: listen on port %d", s.cfg.Port)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server: serve")
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	if err := <-errc; err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: serve")
	}
	return nil
}
