// Package api assembles the HTTP surface: router, middleware stack, and
// server lifecycle.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/altiviz/datachat/internal/api/handlers"
	"github.com/altiviz/datachat/internal/api/middleware"
	"github.com/altiviz/datachat/internal/llm"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	AllowedOrigins     []string
	AllowedMethods     []string
	AllowedHeaders     []string
	ExposedHeaders     []string
	RequestTimeout     time.Duration
	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:     []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		RequestTimeout:     60 * time.Second,
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(),
	}
}

// Dependencies holds everything the routes need.
type Dependencies struct {
	Logger         *slog.Logger
	Ask            handlers.AskDeps
	Documents      handlers.DocumentStore
	Objects        handlers.ObjectStore
	IngestQueue    handlers.IngestQueue
	ResultCache    handlers.ResultCache
	Datasets       handlers.DatasetImporter
	DatasetLister  handlers.DatasetLister
	Registry       *llm.Registry
	Health         map[string]handlers.HealthChecker
	StatusStream   http.Handler
	RateLimitStore middleware.RateLimitStore
}

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(chimiddleware.Timeout(config.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: config.AllowedMethods,
		AllowedHeaders: config.AllowedHeaders,
		ExposedHeaders: config.ExposedHeaders,
		MaxAge:         300,
	}))

	var rateLimiter *middleware.RateLimiter
	if config.EnableRateLimiting {
		store := deps.RateLimitStore
		if store == nil {
			store = middleware.NewMemoryRateLimitStore()
		}
		rateLimiter = middleware.NewRateLimiter(store, config.RateLimitConfig, logger)
	}

	r.Get("/healthz", handlers.HealthCheck())
	r.Get("/readyz", handlers.ReadyCheck(deps.Health))

	if deps.StatusStream != nil {
		r.Get("/ws/status", deps.StatusStream.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/ask", func(r chi.Router) {
			if rateLimiter != nil {
				r.Use(rateLimiter.Middleware("ask"))
			}
			r.Post("/", handlers.HandleAsk(deps.Ask, logger))
		})

		r.Route("/documents", func(r chi.Router) {
			if rateLimiter != nil {
				r.Use(rateLimiter.Middleware("upload"))
			}
			r.Post("/", handlers.UploadDocument(deps.Documents, deps.Objects, deps.IngestQueue, logger))
			r.Get("/", handlers.ListDocuments(deps.Documents, logger))
			r.Get("/{id}", handlers.GetDocument(deps.Documents, logger))
			r.Delete("/{id}", handlers.DeleteDocument(deps.Documents, deps.Objects, deps.ResultCache, logger))
		})

		r.Route("/datasets", func(r chi.Router) {
			if rateLimiter != nil {
				r.Use(rateLimiter.Middleware("upload"))
			}
			r.Post("/", handlers.UploadDataset(deps.Datasets, logger))
			r.Get("/", handlers.ListDatasets(deps.DatasetLister, logger))
			r.Delete("/{id}", handlers.DeleteDataset(deps.Datasets, logger))
		})

		r.Get("/models", handlers.GetModels(deps.Registry))
		r.Put("/models", handlers.PutModels(deps.Registry, logger))
		r.Put("/offline", handlers.PutOffline(deps.Registry, logger))
	})

	return r
}

// Server wraps the HTTP server lifecycle.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates an HTTP server around the handler.
func NewServer(handler http.Handler, config ServerConfig, logger *slog.Logger) *Server {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger: logger,
	}
}

// Start blocks serving requests until shutdown or failure.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
