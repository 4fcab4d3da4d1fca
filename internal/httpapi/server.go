// Package httpapi is the optional REST surface. It exposes the same
// catalog, query, and cache operations as the tool adapter for callers
// that want plain HTTP instead of the tool protocol.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datanerd/internal/analyst"
	"datanerd/internal/cache"
	"datanerd/internal/catalog"
	"datanerd/internal/logging"
	"datanerd/internal/session"
)

// Config carries the listener settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// RoleHook authenticates requests. Nil leaves the surface open.
	RoleHook RoleHook
}

// Server serves the REST surface over a chi router.
type Server struct {
	store    *catalog.Store
	analyst  *analyst.Analyst
	cache    *cache.Cache
	sessions *session.Manager
	metrics  *Metrics
	hook     RoleHook
	version  string
	started  time.Time

	httpServer *http.Server
}

// New wires the surface. The prometheus collectors live on a private
// registry owned by the returned server.
func New(cfg Config, store *catalog.Store, an *analyst.Analyst, qc *cache.Cache, sessions *session.Manager, version string) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		store:    store,
		analyst:  an,
		cache:    qc,
		sessions: sessions,
		metrics:  NewMetrics(qc),
		hook:     cfg.RoleHook,
		version:  version,
		started:  time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(cfg.AllowedOrigins),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if s.hook == nil {
		logging.Get(logging.CategoryHTTP).Warn("no role hook installed; all endpoints including cache clearing are open")
	}
	return s
}

// Handler builds the router. Exposed separately so tests can drive it
// through httptest without a listener.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/metrics", s.require(RoleRead, s.handleListMetrics))
	r.Get("/metrics/prometheus", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/metrics/{name}", s.require(RoleRead, s.handleGetMetric))
	r.Get("/dimensions", s.require(RoleRead, s.handleListDimensions))
	r.Post("/query", s.require(RoleQuery, s.handleQuery))
	r.Get("/cache/stats", s.require(RoleRead, s.handleCacheStats))
	r.Post("/cache/clear", s.require(RoleAdmin, s.handleCacheClear))
	r.Get("/status", s.require(RoleRead, s.handleStatus))

	return r
}

// instrument logs and measures every request with its resolved route
// pattern, so /metrics/{name} aggregates as one series.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(start)
		s.metrics.observe(route, r.Method, strconv.Itoa(ww.Status()), elapsed.Seconds())
		logging.HTTPDebug("%s %s -> %d in %s (request %s)",
			r.Method, r.URL.Path, ww.Status(), elapsed.Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logging.HTTP("listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.HTTP("shutting down")
	return s.httpServer.Shutdown(ctx)
}
