package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/referwell/matcher/internal/embedding"
	"github.com/referwell/matcher/internal/lexical"
	"github.com/referwell/matcher/internal/metrics"
)

// Key prefixes of the side tables.
const (
	EmbeddingPrefix = "embedding:"
	CorpusPrefix    = "bm25:"
)

// Table names a side table for invalidation.
type Table string

const (
	TableEmbedding Table = "embedding"
	TableCorpus    Table = "bm25"
	TableAll       Table = "all"
)

// Store is the shared cache of embeddings keyed by content fingerprint and of
// lexical corpus statistics keyed by pool version. Backend failures and
// timeouts are logged and treated as misses.
type Store struct {
	backend      Backend
	timeout      time.Duration
	embeddingTTL time.Duration
	corpusTTL    time.Duration
	logger       *zap.Logger
	group        singleflight.Group

	// bounds a shared embedding computation, which outlives any one caller
	computeTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithComputeTimeout bounds an embedding computation shared by concurrent
// callers. Each caller still gives up on its own context.
func WithComputeTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.computeTimeout = d
		}
	}
}

// WithTTLs sets the expiry of embedding and corpus entries.
func WithTTLs(embeddingTTL, corpusTTL time.Duration) Option {
	return func(s *Store) {
		s.embeddingTTL = embeddingTTL
		s.corpusTTL = corpusTTL
	}
}

// NewStore returns a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:        backend,
		timeout:        200 * time.Millisecond,
		embeddingTTL:   24 * time.Hour,
		corpusTTL:      time.Hour,
		computeTimeout: 5 * time.Second,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbeddingKey returns the cache key of text under a model version.
func EmbeddingKey(modelVersion, text string) string {
	return EmbeddingPrefix + embedding.Fingerprint(modelVersion, text)
}

// CorpusKey returns the cache key of the corpus statistics of a pool version.
func CorpusKey(poolVersion string) string {
	return CorpusPrefix + poolVersion
}

// Embedding returns the cached embedding of text or computes it with e.
// Concurrent requests for the same text share one computation, which is not
// cancelled by any single caller's context. Embedder
// errors are returned; cache errors are not.
func (s *Store) Embedding(ctx context.Context, e embedding.Embedder, text string) ([]float32, error) {
	key := EmbeddingKey(e.ModelVersion(), text)
	if raw, ok := s.get(ctx, "embedding", key); ok {
		if vec, err := DecodeVector(raw); err == nil && len(vec) == e.Dimensions() {
			return vec, nil
		}
		s.logger.Warn("discarding malformed cached embedding", zap.String("key", key))
	}

	ch := s.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.computeTimeout)
		defer cancel()
		vec, err := e.Embed(shared, text)
		if err != nil {
			return nil, err
		}
		s.set(shared, key, EncodeVector(vec), s.embeddingTTL)
		return vec, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return append([]float32(nil), r.Val.([]float32)...), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("embedding %s: %w", key, ctx.Err())
	}
}

// PutEmbedding stores a precomputed embedding, replacing any previous value.
func (s *Store) PutEmbedding(ctx context.Context, modelVersion, text string, vec []float32) {
	s.set(ctx, EmbeddingKey(modelVersion, text), EncodeVector(vec), s.embeddingTTL)
}

// Corpus returns the cached statistics for poolVersion, or builds and stores them.
func (s *Store) Corpus(ctx context.Context, poolVersion string, build func() *lexical.Corpus) *lexical.Corpus {
	key := CorpusKey(poolVersion)
	if raw, ok := s.get(ctx, "bm25", key); ok {
		var c lexical.Corpus
		if err := json.Unmarshal(raw, &c); err == nil && c.Version == poolVersion {
			return &c
		}
		s.logger.Warn("discarding malformed cached corpus", zap.String("key", key))
	}
	v, _, _ := s.group.Do(key, func() (any, error) {
		c := build()
		if data, err := json.Marshal(c); err == nil {
			s.set(ctx, key, data, s.corpusTTL)
		}
		return c, nil
	})
	return v.(*lexical.Corpus)
}

// Invalidate clears a side table and returns the number of removed entries.
func (s *Store) Invalidate(ctx context.Context, table Table) (int, error) {
	var prefixes []string
	switch table {
	case TableEmbedding:
		prefixes = []string{EmbeddingPrefix}
	case TableCorpus:
		prefixes = []string{CorpusPrefix}
	case TableAll:
		prefixes = []string{EmbeddingPrefix, CorpusPrefix}
	default:
		return 0, fmt.Errorf("unknown cache table: %s (supported: embedding, bm25, all)", table)
	}
	total := 0
	for _, p := range prefixes {
		n, err := s.backend.DeletePrefix(ctx, p)
		total += n
		if err != nil {
			return total, fmt.Errorf("invalidate %s: %w", table, err)
		}
	}
	s.logger.Info("cache invalidated", zap.String("table", string(table)), zap.Int("removed", total))
	return total, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) get(ctx context.Context, table, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, ok, err := s.backend.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheRequests.WithLabelValues(table, metrics.CacheError).Inc()
		s.logger.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false
	case !ok:
		metrics.CacheRequests.WithLabelValues(table, metrics.CacheMiss).Inc()
		return nil, false
	default:
		metrics.CacheRequests.WithLabelValues(table, metrics.CacheHit).Inc()
		return raw, true
	}
}

func (s *Store) set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.backend.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}
