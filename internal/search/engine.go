package search

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/cache"
	"github.com/referwell/matcher/internal/embedding"
	"github.com/referwell/matcher/internal/lexical"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/vector"
)

// Engine runs lexical and vector retrieval concurrently over an eligible set.
type Engine struct {
	store    *cache.Store
	embedder embedding.Embedder
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an Engine. A nil store uses a private in-memory cache.
func NewEngine(store *cache.Store, embedder embedding.Embedder, opts ...Option) *Engine {
	if store == nil {
		store = cache.NewStore(cache.NewMemoryBackend(0))
	}
	e := &Engine{store: store, embedder: embedder, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request is the input of one retrieval.
type Request struct {
	Referral *models.Referral
	// Pool is the full candidate pool; corpus statistics are computed over it.
	Pool        []*models.CandidateProfile
	PoolVersion string
	Eligible    []*models.CandidateProfile
	Weights     Weights
	BM25        lexical.Scorer
}

// Response is the fused retrieval output.
type Response struct {
	// Scores are ranked by hybrid score descending, ties by candidate id.
	Scores      []models.RetrievalScore
	Degradation Degradation
	Degraded    []models.DegradedCondition
}

// Retrieve scores the eligible set. Embedding failures and empty queries are
// reported as degraded conditions, never as errors.
func (e *Engine) Retrieve(ctx context.Context, req *Request) *Response {
	resp := &Response{Scores: []models.RetrievalScore{}}
	if len(req.Eligible) == 0 {
		return resp
	}

	var (
		lexScores []lexical.Score
		vecScores []vector.Score
		lexReason string
		vecReason string
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		terms := lexical.QueryTerms(req.Referral.Text)
		if len(terms) == 0 {
			lexReason = "referral text has no indexable terms"
			return
		}
		corpus := e.store.Corpus(ctx, req.PoolVersion, func() *lexical.Corpus {
			return lexical.NewCorpus(req.PoolVersion, req.Pool)
		})
		lexScores = req.BM25.Retrieve(corpus, terms, req.Eligible)
	}()
	go func() {
		defer wg.Done()
		if e.embedder == nil {
			vecReason = embedding.ErrUnavailable.Error()
			return
		}
		query, err := e.store.Embedding(ctx, e.embedder, req.Referral.Text)
		if err != nil {
			vecReason = err.Error()
			return
		}
		vecScores = vector.Retriever{ModelVersion: e.embedder.ModelVersion()}.Retrieve(query, req.Eligible)
	}()
	wg.Wait()

	scores := make([]models.RetrievalScore, len(req.Eligible))
	missing := 0
	for i, c := range req.Eligible {
		scores[i].CandidateID = c.ID
		if lexScores != nil {
			scores[i].Lexical = lexScores[i].Score
		}
		if vecScores != nil {
			scores[i].Vector = vecScores[i].Score
			if vecScores[i].Missing {
				missing++
			}
		}
	}

	if lexReason != "" {
		resp.Degradation.Lexical = true
		resp.Degraded = append(resp.Degraded, models.DegradedCondition{Component: models.ComponentLexical, Reason: lexReason})
		e.logger.Warn("lexical retrieval degraded, using vector scores only",
			zap.String("referral_id", req.Referral.ID), zap.String("reason", lexReason))
	}
	if vecReason != "" {
		resp.Degradation.Vector = true
		resp.Degraded = append(resp.Degraded, models.DegradedCondition{Component: models.ComponentVector, Reason: vecReason})
		e.logger.Warn("vector retrieval degraded, using lexical scores only",
			zap.String("referral_id", req.Referral.ID), zap.String("reason", vecReason))
	}
	if missing > 0 {
		e.logger.Debug("candidates without usable embeddings scored 0",
			zap.String("referral_id", req.Referral.ID), zap.Int("count", missing))
	}

	resp.Scores = Combine(scores, req.Weights, resp.Degradation)
	return resp
}
