// Package server provides the HTTP API for the matcher.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/audit"
	"github.com/referwell/matcher/internal/cache"
	"github.com/referwell/matcher/internal/catalogue"
	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/indexer"
	"github.com/referwell/matcher/internal/matching"
	"github.com/referwell/matcher/internal/models"
)

// DecisionStore reads persisted routing decisions.
type DecisionStore interface {
	HighTouchQueue(ctx context.Context, limit int) ([]*models.RoutingDecision, error)
	RoutingStats(ctx context.Context) (*audit.RoutingStats, error)
	Explanations(ctx context.Context, decisionID string) ([]models.Explanation, error)
}

// Server is the HTTP server for the matcher API.
type Server struct {
	engine    *matching.Engine
	indexer   *indexer.Indexer
	snapshot  *catalogue.Snapshot
	store     catalogue.Store
	decisions DecisionStore
	cache     *cache.Store
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies. decisions and
// cacheStore may be nil; their endpoints then answer 501.
func NewServer(
	engine *matching.Engine,
	idx *indexer.Indexer,
	snapshot *catalogue.Snapshot,
	store catalogue.Store,
	decisions DecisionStore,
	cacheStore *cache.Store,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:    engine,
		indexer:   idx,
		snapshot:  snapshot,
		store:     store,
		decisions: decisions,
		cache:     cacheStore,
		config:    cfg,
		logger:    logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/match", s.handleMatch)

		r.Get("/candidates", s.handleListCandidates)
		r.Post("/candidates", s.handleReindexCandidate)
		r.Post("/candidates/reindex", s.handleReindexAll)
		r.Get("/candidates/{id}", s.handleGetCandidate)
		r.Delete("/candidates/{id}", s.handleDeleteCandidate)

		r.Get("/queue/high-touch", s.handleHighTouchQueue)
		r.Get("/routing/stats", s.handleRoutingStats)
		r.Get("/decisions/{id}/explanations", s.handleExplanations)

		r.Post("/cache/invalidate", s.handleCacheInvalidate)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
