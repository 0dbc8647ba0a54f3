// Package indexer recomputes candidate embeddings and lexical entries, persists
// them in the catalogue and publishes the updated pool snapshot.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/cache"
	"github.com/referwell/matcher/internal/catalogue"
	"github.com/referwell/matcher/internal/embedding"
	"github.com/referwell/matcher/internal/lexical"
	"github.com/referwell/matcher/internal/metrics"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/storage"
)

// Reindex results recorded in metrics.
const (
	ResultIndexed = "indexed"
	ResultLexical = "lexical_only"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

const defaultBatch = 100

// Indexer is the only writer of candidate embeddings and lexical entries.
type Indexer struct {
	store    catalogue.Store
	snapshot *catalogue.Snapshot
	cache    *cache.Store
	embedder embedding.Embedder
	clock    func() time.Time
	logger   *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithClock sets the clock used for IndexedAt.
func WithClock(clock func() time.Time) IndexerOption {
	return func(idx *Indexer) {
		if clock != nil {
			idx.clock = clock
		}
	}
}

// NewIndexer creates an indexer. embedder must not be nil; use
// embedding.Unavailable when no model is configured. A nil cache store uses a
// private in-memory cache.
func NewIndexer(
	store catalogue.Store,
	snapshot *catalogue.Snapshot,
	cacheStore *cache.Store,
	embedder embedding.Embedder,
	opts ...IndexerOption,
) *Indexer {
	if cacheStore == nil {
		cacheStore = cache.NewStore(cache.NewMemoryBackend(0))
	}
	idx := &Indexer{
		store:    store,
		snapshot: snapshot,
		cache:    cacheStore,
		embedder: embedder,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Outcome reports what a reindex did.
type Outcome struct {
	Candidate *models.CandidateProfile
	// Embedded is false when the embedding function failed and the candidate
	// was stored with its lexical entry only. It scores 0 on vector retrieval
	// until reindexed.
	Embedded bool
	// Reused is true when the stored embedding was still current.
	Reused bool
}

// Load publishes every stored candidate as the current pool.
func (idx *Indexer) Load(ctx context.Context) (*catalogue.Pool, error) {
	all, err := idx.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}
	idx.snapshot.Replace(all)
	pool := idx.snapshot.Current()
	idx.logger.Info("catalogue loaded", zap.Int("candidates", pool.Len()), zap.String("pool_version", pool.Version))
	return pool, nil
}

// Reindex recomputes c's lexical entry and embedding, persists it and swaps
// it into the snapshot. The caller's profile is not modified. An embedding
// that is still current for the profile text and model is reused.
func (idx *Indexer) Reindex(ctx context.Context, c *models.CandidateProfile) (*Outcome, error) {
	return idx.reindex(ctx, c, true)
}

// Refresh reindexes the stored candidate id. With force the embedding is
// recomputed even when current.
func (idx *Indexer) Refresh(ctx context.Context, id string, force bool) (*Outcome, error) {
	c, err := idx.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("candidate %s: %w", id, err)
	}
	return idx.reindex(ctx, c, !force)
}

func (idx *Indexer) reindex(ctx context.Context, c *models.CandidateProfile, reuse bool) (*Outcome, error) {
	if err := ValidateCandidate(c); err != nil {
		metrics.Reindexed.WithLabelValues(ResultFailed).Inc()
		return nil, err
	}
	next := c.Clone()
	next.Text = Preprocess(next.Text)
	next.Embedding, next.EmbeddingModel = nil, ""

	out := &Outcome{Candidate: next}
	if reuse {
		prev, err := idx.store.Get(ctx, next.ID)
		switch {
		case err == nil && idx.embeddingCurrent(prev, next.Text):
			next.Embedding, next.EmbeddingModel = prev.Embedding, prev.EmbeddingModel
			out.Embedded, out.Reused = true, true
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			metrics.Reindexed.WithLabelValues(ResultFailed).Inc()
			return nil, fmt.Errorf("failed to read candidate %s: %w", next.ID, err)
		}
	}

	if !out.Embedded {
		vec, err := idx.cache.Embedding(ctx, idx.embedder, next.Text)
		if err != nil {
			idx.logger.Warn("embedding unavailable, storing lexical entry only",
				zap.String("candidate_id", next.ID), zap.Error(err))
		} else {
			next.Embedding, next.EmbeddingModel = vec, idx.embedder.ModelVersion()
			out.Embedded = true
		}
	}

	if err := idx.commit(ctx, next); err != nil {
		metrics.Reindexed.WithLabelValues(ResultFailed).Inc()
		return nil, err
	}
	idx.snapshot.Put(next)

	switch {
	case out.Reused:
		metrics.Reindexed.WithLabelValues(ResultSkipped).Inc()
	case out.Embedded:
		metrics.Reindexed.WithLabelValues(ResultIndexed).Inc()
	default:
		metrics.Reindexed.WithLabelValues(ResultLexical).Inc()
	}
	idx.logger.Debug("candidate reindexed",
		zap.String("candidate_id", next.ID), zap.Bool("embedded", out.Embedded), zap.Bool("reused", out.Reused))
	return out, nil
}

// Delete removes a candidate from the catalogue and the snapshot.
func (idx *Indexer) Delete(ctx context.Context, id string) error {
	if err := idx.store.Delete(ctx, id); err != nil {
		return err
	}
	idx.snapshot.Remove(id)
	idx.logger.Debug("candidate deleted", zap.String("candidate_id", id))
	return nil
}

// Stats summarises a ReindexAll run.
type Stats struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ReindexAll embeds every stored candidate in batches of batchSize. Without
// force, candidates whose embedding is current are skipped. A failed batch is
// counted and the run continues; the snapshot is republished at the end.
func (idx *Indexer) ReindexAll(ctx context.Context, batchSize int, force bool) (*Stats, error) {
	if batchSize <= 0 {
		batchSize = defaultBatch
	}
	all, err := idx.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}
	stats := &Stats{Total: len(all)}

	var pending []*models.CandidateProfile
	for _, c := range all {
		c.Text = Preprocess(c.Text)
		if !force && idx.embeddingCurrent(c, c.Text) {
			stats.Skipped++
			continue
		}
		pending = append(pending, c)
	}

	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch := pending[start:min(start+batchSize, len(pending))]
		if err := idx.embedBatch(ctx, batch); err != nil {
			stats.Failed += len(batch)
			metrics.Reindexed.WithLabelValues(ResultFailed).Add(float64(len(batch)))
			idx.logger.Warn("reindex batch failed", zap.Int("offset", start), zap.Int("size", len(batch)), zap.Error(err))
			continue
		}
		stats.Updated += len(batch)
		metrics.Reindexed.WithLabelValues(ResultIndexed).Add(float64(len(batch)))
	}

	if _, err := idx.Load(ctx); err != nil {
		return stats, err
	}
	idx.logger.Info("reindex complete",
		zap.Int("total", stats.Total), zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return stats, nil
}

func (idx *Indexer) embedBatch(ctx context.Context, batch []*models.CandidateProfile) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vecs, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	version := idx.embedder.ModelVersion()
	for i, c := range batch {
		c.Embedding, c.EmbeddingModel = vecs[i], version
		idx.cache.PutEmbedding(ctx, version, c.Text, vecs[i])
		if err := idx.commit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Indexer) commit(ctx context.Context, c *models.CandidateProfile) error {
	c.Lexical = lexical.BuildEntry(c.Text)
	c.IndexedAt = idx.clock()
	if err := idx.store.Upsert(ctx, c); err != nil {
		return fmt.Errorf("failed to store candidate %s: %w", c.ID, err)
	}
	return nil
}

func (idx *Indexer) embeddingCurrent(stored *models.CandidateProfile, text string) bool {
	return len(stored.Embedding) > 0 &&
		len(stored.Embedding) == idx.embedder.Dimensions() &&
		stored.EmbeddingModel == idx.embedder.ModelVersion() &&
		stored.Text == text
}

// ValidateCandidate checks that a profile can be stored.
func ValidateCandidate(c *models.CandidateProfile) error {
	if c == nil {
		return models.NewValidationError("candidate", "must not be empty")
	}
	if strings.TrimSpace(c.ID) == "" {
		return models.NewValidationError("candidate.id", "must not be empty")
	}
	if c.Capacity < 0 {
		return models.NewValidationError("candidate.capacity", "must not be negative")
	}
	if c.YearsExperience < 0 {
		return models.NewValidationError("candidate.years_experience", "must not be negative")
	}
	if c.Location != nil {
		if err := c.Location.Validate(); err != nil {
			return models.NewValidationError("candidate.location", err.Error())
		}
	}
	return nil
}
