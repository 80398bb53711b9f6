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

	"github.com/gatekeepd/gatekeep/internal/cache"
	"github.com/gatekeepd/gatekeep/internal/handler"
	"github.com/gatekeepd/gatekeep/internal/server/middleware"
	"github.com/gatekeepd/gatekeep/internal/service"
	"github.com/gatekeepd/gatekeep/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	ValidatePerMinute int // rate limit on /v1/auth/validate, 0 disables
	Version           string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ShutdownTimeout:   30 * time.Second,
		CORSOrigins:       []string{"*"},
		ValidatePerMinute: 60,
		Version:           "dev",
	}
}

// Server is the top-level HTTP server for the gateway. It owns the Chi
// router, the durable store, the session cache, and the domain services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	cache      cache.SessionCache
	sessions   *service.SessionService
	usage      *service.UsageService
	authSvc    *service.AuthService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, c cache.SessionCache, sessions *service.SessionService, usage *service.UsageService, authSvc *service.AuthService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		cache:    c,
		sessions: sessions,
		usage:    usage,
		authSvc:  authSvc,
		logger:   logger,
	}
	s.setupRouter()
	return s
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version).ServeSpec)

	// --- API routes ---
	authHandler := handler.NewAuthHandler(s.sessions)
	usageHandler := handler.NewUsageHandler(s.usage)
	sysHandler := handler.NewSystemHandler(s.store, s.authSvc)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Validate is where stolen or guessed keys get ground through;
			// the rest of the auth surface requires an already-minted token.
			r.Group(func(r chi.Router) {
				if s.cfg.ValidatePerMinute > 0 {
					r.Use(middleware.RateLimit(s.cfg.ValidatePerMinute))
				}
				r.Post("/validate", authHandler.Validate)
			})
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/revoke", authHandler.Revoke)
		})

		r.Post("/usage/report", usageHandler.Report)

		// Operator surface. Login is unauthenticated; everything else
		// requires an admin JWT.
		r.Route("/system", func(r chi.Router) {
			r.Post("/login", sysHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(s.authSvc))

				r.Get("/games", sysHandler.ListGames)
				r.Post("/games", sysHandler.CreateGame)
				r.Post("/games/{gameID}/license", sysHandler.GrantLicense)
				r.Put("/games/{gameID}/license", sysHandler.UpdateLicenseStatus)

				r.Get("/licenses", sysHandler.ListLicenses)

				r.Get("/keys", sysHandler.ListAPIKeys)
				r.Post("/keys", sysHandler.CreateAPIKey)
				r.Delete("/keys/{keyID}", sysHandler.RevokeAPIKey)
			})
		})
	})

	s.router = r
}

// handleHealth is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. The durable store must be reachable;
// a degraded cache is reported but does not fail readiness, because the
// session path falls back to the store.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "unavailable"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if err := s.cache.Ping(r.Context()); err != nil {
		checks["cache"] = "error: " + err.Error()
		if status == "ok" {
			status = "degraded"
		}
	} else {
		checks["cache"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown: drain in-flight
// requests, flush queued usage reports, close the cache and the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.usage.Close()
	if err := s.cache.Close(); err != nil {
		s.logger.Warn("cache close failed", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close failed", "error", err)
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
