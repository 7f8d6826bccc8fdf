package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/handler"
	"github.com/faucetdb/reservoir/internal/observability"
	"github.com/faucetdb/reservoir/internal/server/middleware"
	"github.com/faucetdb/reservoir/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	CORSMethods       []string
	MaxBodySize       int64 // bytes
	MaxBatchSize      int
	SyncRunsPerMinute int
	MetricsEnabled    bool
	MetricsPath       string
	TLSCertFile       string
	TLSKeyFile        string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ShutdownTimeout:   30 * time.Second,
		CORSOrigins:       []string{"*"},
		CORSMethods:       []string{"GET", "POST", "DELETE", "OPTIONS"},
		MaxBodySize:       10 * 1024 * 1024, // 10MB
		MaxBatchSize:      handler.DefaultMaxBatchSize,
		SyncRunsPerMinute: 6,
		MetricsEnabled:    true,
		MetricsPath:       "/metrics",
	}
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Store     *config.Store
	Registry  *connector.Registry
	Engine    handler.SyncEngine
	Charts    handler.ChartRunner
	Cache     handler.Invalidator // nil when caching is off
	Auth      *service.AuthService
	Scheduler handler.Scheduler // nil when in-process scheduling is off
	Target    Pinger            // the internal PostgreSQL store
}

// Server is the top-level HTTP server for Reservoir. It owns the Chi router
// and the services behind it.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) authEnabled() bool {
	return s.deps.Auth != nil && s.deps.Auth.Enabled()
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   s.cfg.CORSMethods,
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Probes and metrics (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.cfg.MetricsEnabled {
		r.Handle(s.cfg.MetricsPath, observability.Handler())
	}

	sysHandler := handler.NewSystemHandler(s.deps.Store, s.deps.Registry, s.deps.Scheduler)
	schemaHandler := handler.NewSchemaHandler(s.deps.Store, s.deps.Registry)
	syncHandler := handler.NewSyncHandler(s.deps.Engine, s.logger)
	queryHandler := handler.NewQueryHandler(s.deps.Charts, s.cfg.MaxBatchSize)
	cacheHandler := handler.NewCacheHandler(s.deps.Cache)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.MaxBodySize > 0 {
			r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
		}
		if s.authEnabled() {
			r.Use(middleware.Authenticate(s.deps.Auth))
		}

		// Tenant-scoped endpoints; handlers pin the tenant to the token's.
		r.Post("/query", queryHandler.Query)
		r.Post("/query/batch", queryHandler.Batch)
		r.Post("/cache/invalidate", cacheHandler.Invalidate)

		// Operator endpoints.
		r.Group(func(r chi.Router) {
			if s.authEnabled() {
				r.Use(middleware.RequireAdmin())
			}

			r.Get("/connections", sysHandler.ListConnections)
			r.Post("/connections", sysHandler.CreateConnection)
			r.Get("/connections/{connectionId}", sysHandler.GetConnection)
			r.Delete("/connections/{connectionId}", sysHandler.DeleteConnection)
			r.Post("/connections/{connectionId}/test", sysHandler.TestConnection)
			r.Get("/connections/{connectionId}/schema", schemaHandler.ListTables)
			r.Get("/connections/{connectionId}/schema/{tableName}", schemaHandler.GetTableSchema)

			r.Post("/connections/{connectionId}/sync", syncHandler.Init)
			r.Get("/connections/{connectionId}/sync", syncHandler.Status)
			r.Delete("/connections/{connectionId}/sync", syncHandler.Drop)
			r.Post("/connections/{connectionId}/sync/reset", syncHandler.Reset)

			r.Get("/tenants", sysHandler.ListTenants)
			r.Post("/tenants", sysHandler.CreateTenant)
			r.Delete("/tenants/{tenantId}", sysHandler.DeleteTenant)

			r.Group(func(r chi.Router) {
				if s.cfg.SyncRunsPerMinute > 0 {
					r.Use(middleware.RateLimitByPrincipal(s.cfg.SyncRunsPerMinute))
				}
				r.Post("/sync/run", syncHandler.RunQueue)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the metadata store and
// the internal PostgreSQL store answer, or 503 otherwise. Sources are not
// checked: an unreachable customer database must not take the service down.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	deps := map[string]Pinger{}
	if s.deps.Store != nil {
		deps["store"] = s.deps.Store
	}
	if s.deps.Target != nil {
		deps["target"] = s.deps.Target
	}
	for name, p := range deps {
		if err := p.Ping(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks[name] = "ok"
		}
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// a SIGINT or SIGTERM is received. It then performs a graceful shutdown,
// draining in-flight requests before closing all source connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // sync runs hold the request for their budget
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "auth", s.authEnabled())
		var err error
		if s.cfg.TLSCertFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.deps.Registry != nil {
		s.deps.Registry.CloseAll()
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
