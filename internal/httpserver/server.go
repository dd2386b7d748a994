package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config carries the small set of HTTP-layer options that vary per
// deployment.
type Config struct {
	CORSAllowedOrigins []string
}

// Server is the process's HTTP boundary: CORS/logging/metrics middleware
// plus a Prometheus scrape endpoint. It has no notion of tenants or
// sessions — authentication is applied per-route by the caller via
// internal/authn rather
// than baked into Server itself.
type Server struct {
	Router  *chi.Mux
	Logger  *slog.Logger
	Metrics *prometheus.Registry
}

// NewServer creates an HTTP server with the ambient middleware stack and a
// Prometheus scrape endpoint wired up. Callers mount domain routes on
// Router after construction.
func NewServer(cfg Config, logger *slog.Logger, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		Logger:  logger,
		Metrics: metricsReg,
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// NewHTTPServer wraps handler in an *http.Server with production-sane
// timeouts, ready for ListenAndServe/Shutdown in internal/app.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
