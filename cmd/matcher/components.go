package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/audit"
	"github.com/referwell/matcher/internal/cache"
	"github.com/referwell/matcher/internal/calibration"
	"github.com/referwell/matcher/internal/catalogue"
	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/embedding"
	"github.com/referwell/matcher/internal/indexer"
	"github.com/referwell/matcher/internal/matching"
	"github.com/referwell/matcher/internal/search"
	"github.com/referwell/matcher/internal/storage"
)

// Components holds the initialized services shared by the commands.
type Components struct {
	DB        *sql.DB
	Catalogue *catalogue.SQLiteStore
	Audit     *audit.SQLiteSink
	Cache     *cache.Store
	Embedder  embedding.Embedder
	Snapshot  *catalogue.Snapshot
	Indexer   *indexer.Indexer
	Registry  *calibration.Registry
	Engine    *matching.Engine
}

// Close releases the components' resources.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	db, err := storage.Open(ctx, cfg.Storage.DatabasePath, catalogue.Migration, audit.Migration)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.DB = db
	if c.Catalogue, err = catalogue.NewSQLiteStoreFromDB(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to initialize catalogue: %w", err)
	}
	if c.Audit, err = audit.NewSQLiteSinkFromDB(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to initialize audit sink: %w", err)
	}

	c.Cache = cache.NewStore(newCacheBackend(ctx, cfg.Cache, logger),
		cache.WithLogger(logger),
		cache.WithTimeout(cfg.Cache.Timeout),
		cache.WithComputeTimeout(cfg.Embedding.Timeout),
		cache.WithTTLs(cfg.Cache.EmbeddingTTL, cfg.Cache.CorpusTTL),
	)
	c.Embedder = newEmbedder(cfg.Embedding, logger)

	if c.Registry, err = calibration.NewRegistry(cfg.Matching.Calibration, logger); err != nil {
		return nil, err
	}

	c.Snapshot = catalogue.NewSnapshot(nil)
	c.Indexer = indexer.NewIndexer(c.Catalogue, c.Snapshot, c.Cache, c.Embedder, indexer.WithLogger(logger))
	if _, err := c.Indexer.Load(ctx); err != nil {
		return nil, err
	}

	var sink audit.Sink = c.Audit
	if cfg.Debug {
		sink = audit.Tee(c.Audit, audit.NewLogSink(logger))
	}
	c.Engine, err = matching.NewEngine(cfg.Matching,
		search.NewEngine(c.Cache, c.Embedder, search.WithLogger(logger)),
		c.Registry,
		matching.WithLogger(logger),
		matching.WithSink(sink),
	)
	if err != nil {
		return nil, err
	}
	ok = true
	return c, nil
}

// newCacheBackend builds the configured backend. An unreachable Redis falls
// back to the in-memory backend.
func newCacheBackend(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) cache.Backend {
	backend, err := cache.NewBackend(ctx, cache.BackendOptions{
		Kind:          cfg.Backend,
		Capacity:      cfg.Capacity,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn("cache backend unavailable, using memory",
			zap.String("backend", cfg.Backend), zap.Error(err))
		return cache.NewMemoryBackend(cfg.Capacity)
	}
	return backend
}

// newEmbedder builds the configured embedding function. A model that cannot
// be loaded leaves vector retrieval unavailable; matching continues lexically.
func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) embedding.Embedder {
	var e embedding.Embedder
	switch cfg.Provider {
	case "mock":
		e = embedding.NewMockEmbedder(cfg.Dimensions)
	case "onnx":
		onnx, err := embedding.NewONNXEmbedder(embedding.ONNXOptions{
			ModelPath:    cfg.ModelPath,
			ModelVersion: cfg.ModelVersion,
			Dimensions:   cfg.Dimensions,
			MaxTokens:    cfg.MaxTokens,
		})
		if err != nil {
			logger.Warn("embedding model unavailable, vector retrieval disabled",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			return embedding.Unavailable{Dims: cfg.Dimensions, Version: cfg.ModelVersion}
		}
		e = onnx
	default:
		logger.Warn("unknown embedding provider, vector retrieval disabled", zap.String("provider", cfg.Provider))
		return embedding.Unavailable{Dims: cfg.Dimensions, Version: cfg.ModelVersion}
	}
	return embedding.WithTimeout(e, cfg.Timeout)
}
