package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/metrics"
	"clawbounty.market/internal/core/services"
	"clawbounty.market/internal/core/tracing"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	limiterSweep      = time.Minute
)

type Config struct {
	BaseURL         string
	AdminSecret     string
	RefreshCooldown time.Duration
	// Requests per minute and IP; zero disables a limiter.
	GlobalPerMinute  int
	AuthPerMinute    int
	RefreshPerMinute int
	AllowedOrigins   []string
	EnableMetrics    bool
	// APIWriteKey, when set, is required as X-API-Key on /api/v1 writes.
	APIWriteKey string
}

type Server struct {
	cfg      Config
	router   *chi.Mux
	bounties *services.BountyService
	listings *services.ListingService
	registry *services.RegistryService
	health   *services.HealthService
	hub      *Hub
	sitemap  *SitemapCache

	limiters []*RateLimiter
	stats    statsCache
	refresh  refreshGate
	now      func() time.Time
}

// NewServer builds the router. registry, hub and sitemap are optional; their
// routes are only mounted when present.
func NewServer(cfg Config, bounties *services.BountyService, listings *services.ListingService,
	registry *services.RegistryService, health *services.HealthService, hub *Hub, sitemap *SitemapCache) *Server {
	if cfg.RefreshCooldown <= 0 {
		cfg.RefreshCooldown = DefaultRefreshCooldown
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		bounties: bounties,
		listings: listings,
		registry: registry,
		health:   health,
		hub:      hub,
		sitemap:  sitemap,
		refresh:  refreshGate{cooldown: cfg.RefreshCooldown},
		now:      time.Now,
	}
	s.routes()
	return s
}

func (s *Server) limiter(name string, perMinute int) func(http.Handler) http.Handler {
	rl := NewRateLimiter(name, perMinute)
	s.limiters = append(s.limiters, rl)
	return rl.Middleware
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestContext)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)
	s.router.Use(securityHeaders)
	s.router.Use(Honeypot)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-None-Match", "X-Admin-Secret", "X-API-Key"},
		ExposedHeaders: []string{"ETag", "Retry-After", middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	if s.cfg.EnableMetrics {
		s.router.Handle("/metrics", metrics.Handler())
	}

	// Kubernetes probes
	s.router.Get("/health", s.handleDetailedHealth)
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)

	s.router.Get("/robots.txt", robotsHandler(s.cfg.BaseURL))
	s.router.Get("/api/skill", s.handleSkillManifest)
	s.router.Get("/api/skill.json", s.handleSkillManifest)
	s.router.Get("/skill.md", s.handleSkillMarkdown)
	if s.sitemap != nil {
		s.router.Method(http.MethodGet, "/sitemap.xml", s.sitemap)
	}
	if s.hub != nil {
		s.router.Get("/api/ws", s.handleWS)
	}

	authLimit := s.limiter("auth", s.cfg.AuthPerMinute)

	s.router.Group(func(r chi.Router) {
		r.Use(s.limiter("global", s.cfg.GlobalPerMinute))
		r.Use(writeKeyAuth(s.cfg.APIWriteKey))

		r.Route("/api/v1/bounties", func(r chi.Router) {
			r.Post("/", s.handleCreateBounty)
			r.Get("/", s.handleListBounties)
			r.Get("/open", s.handleOpenBounties)
			r.Get("/check-acp", s.handleCheckACP)
			r.Post("/check-acp", s.handleCheckACP)
			r.Get("/{id}", s.handleGetBounty)
			r.Group(func(r chi.Router) {
				r.Use(authLimit)
				r.Post("/{id}/claim", s.handleClaimBounty)
				r.Post("/{id}/unclaim", s.handleUnclaimBounty)
				r.Post("/{id}/match", s.handleMatchBounty)
				r.Post("/{id}/fulfill", s.handleFulfillBounty)
				r.Post("/{id}/cancel", s.handleCancelBounty)
			})
		})

		r.Route("/api/v1/services", func(r chi.Router) {
			r.Post("/", s.handleCreateService)
			r.Get("/", s.handleListServices)
			r.Get("/{id}", s.handleGetService)
			r.With(authLimit).Put("/{id}", s.handleUpdateService)
			r.With(authLimit).Delete("/{id}", s.handleDeleteService)
		})

		r.Get("/api/v1/stats", s.handleStats)

		// Unversioned paths from before /api/v1.
		r.HandleFunc("/api/bounties/*", compatRedirect("bounties"))
		r.HandleFunc("/api/services/*", compatRedirect("services"))

		if s.registry != nil {
			r.Get("/api/v1/agents", s.handleListAgents)
			r.Get("/api/v1/agents/search", s.handleSearchAgents)
			r.Get("/api/registry", s.handleRegistry)
			r.With(s.limiter("registry_refresh", s.cfg.RefreshPerMinute)).
				Post("/api/registry/refresh", s.requireAdmin(s.handleRefreshRegistry))
		}
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           tracing.Handler(s.router, "http.server"),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	for _, rl := range s.limiters {
		go rl.Cleanup(ctx, limiterSweep)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logger.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.CheckHealth(r.Context())
	status := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.health.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	_, _ = w.Write([]byte(status))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, w, r)
}
