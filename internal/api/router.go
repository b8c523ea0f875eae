package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/aggregator"
	"github.com/scott-c-hughes/polymarket-terminal/internal/alerts"
	"github.com/scott-c-hughes/polymarket-terminal/internal/markets"
	"github.com/scott-c-hughes/polymarket-terminal/internal/metrics"
	"github.com/scott-c-hughes/polymarket-terminal/internal/regions"
	"github.com/scott-c-hughes/polymarket-terminal/internal/relevance"
	"github.com/scott-c-hughes/polymarket-terminal/internal/scheduler"
	"github.com/scott-c-hughes/polymarket-terminal/internal/stream"
	syncer "github.com/scott-c-hughes/polymarket-terminal/internal/sync"
	"github.com/scott-c-hughes/polymarket-terminal/internal/topics"
)

// Deps are the services behind the API. Matcher, Syncer, Scheduler and Hub
// are optional.
type Deps struct {
	Aggregator *aggregator.Service
	Normalizer *markets.Normalizer
	Relevance  *relevance.Engine
	Classifier *topics.Classifier
	Regions    *regions.Matcher
	Alerts     *alerts.Service
	Matcher    relevance.Matcher
	Syncer     *syncer.Syncer
	Scheduler  *scheduler.Scheduler
	Hub        *stream.Hub
}

// Server represents the API server.
type Server struct {
	router    *chi.Mux
	handlers  *Handlers
	syncer    *syncer.Syncer
	scheduler *scheduler.Scheduler
	addr      string
	server    *http.Server
}

// NewServer creates a new API server.
func NewServer(deps Deps, addr string) *Server {
	handlers := NewHandlers(deps)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv := &Server{
		router:    r,
		handlers:  handlers,
		syncer:    deps.Syncer,
		scheduler: deps.Scheduler,
		addr:      addr,
	}

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Long-lived, so outside the request timeout
		if deps.Hub != nil {
			r.Get("/stream", deps.Hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Health
			r.Get("/health", handlers.HealthCheck)

			// Markets
			r.Get("/markets", handlers.GetMarkets)
			r.Get("/markets/processed", handlers.GetProcessedMarkets)
			r.Get("/chart/{tokenId}", handlers.GetChart)
			r.Get("/orderbook/{tokenId}", handlers.GetOrderBook)

			// Feeds
			r.Get("/news", handlers.GetNews)
			r.Get("/prices", handlers.GetPrices)
			r.Get("/telegram", handlers.GetTelegram)
			r.Get("/x", handlers.GetX)
			r.Get("/osint", handlers.GetX)

			// Relevance
			r.Post("/match-markets", handlers.MatchMarkets)
			r.Post("/related", handlers.GetRelated)
			r.Post("/classify", handlers.Classify)

			// Map
			r.Get("/locations", handlers.GetLocations)
			r.Get("/regions", handlers.GetRegions)
			r.Get("/regions/{id}/markets", handlers.GetRegionMarkets)

			// Alerts
			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", handlers.GetAlerts)
				r.Post("/", handlers.CreateAlert)
				r.Get("/triggers", handlers.GetAlertTriggers)
				r.Delete("/{id}", handlers.DeleteAlert)
			})

			// Admin routes (no auth)
			r.Route("/admin", func(r chi.Router) {
				r.Post("/sync", srv.AdminSyncNow)
				r.Get("/jobs", srv.AdminGetJobs)
				r.Post("/jobs/{name}/run", srv.AdminRunJob)
			})
		})
	})

	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ============================================================================
// ADMIN HANDLERS
// ============================================================================

// AdminSyncNow forces an immediate market sync.
func (s *Server) AdminSyncNow(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		respondError(w, http.StatusServiceUnavailable, "Syncer not available")
		return
	}

	if err := s.syncer.SyncNow(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "Sync failed: "+err.Error())
		return
	}

	snap := s.syncer.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"markets":    len(snap.Events),
		"regions":    len(snap.Regions),
		"updated_at": snap.UpdatedAt,
	})
}

// AdminGetJobs returns the status of all scheduled jobs.
func (s *Server) AdminGetJobs(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	jobs := s.scheduler.GetJobStatus()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// AdminRunJob runs a specific job by name.
func (s *Server) AdminRunJob(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "Job name is required")
		return
	}

	if err := s.scheduler.RunJobNow(name); err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Job triggered: " + name,
	})
}
