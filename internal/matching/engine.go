// Package matching runs the referral matching pipeline: feasibility, hybrid
// retrieval, reranking, calibration, routing and explanation.
package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/audit"
	"github.com/referwell/matcher/internal/calibration"
	"github.com/referwell/matcher/internal/catalogue"
	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/explain"
	"github.com/referwell/matcher/internal/feasibility"
	"github.com/referwell/matcher/internal/lexical"
	"github.com/referwell/matcher/internal/metrics"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/ranking"
	"github.com/referwell/matcher/internal/routing"
	"github.com/referwell/matcher/internal/search"
)

// Run outcomes recorded in metrics.
const (
	outcomeOK            = "ok"
	outcomeDegraded      = "degraded"
	outcomeInvalid       = "validation_error"
	outcomeConfiguration = "configuration_error"
)

// Engine matches referrals against candidate pools. It holds no per-run state
// and is safe for concurrent use.
type Engine struct {
	cfg      config.MatchingConfig
	search   *search.Engine
	registry *calibration.Registry
	sink     audit.Sink
	clock    routing.Clock
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

// WithClock sets the clock that stamps routing decisions.
func WithClock(clock routing.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithSink sets the audit sink that receives decisions and explanations.
func WithSink(s audit.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// NewEngine returns an Engine bound to cfg. It fails with a ConfigurationError
// when cfg is invalid. A nil registry is loaded from cfg.Calibration.
func NewEngine(cfg config.MatchingConfig, searchEngine *search.Engine, registry *calibration.Registry, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		search:   searchEngine,
		registry: registry,
		sink:     audit.Nop{},
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.search == nil {
		e.search = search.NewEngine(nil, nil, search.WithLogger(e.logger))
	}
	if e.registry == nil {
		reg, err := calibration.NewRegistry(cfg.Calibration, e.logger)
		if err != nil {
			return nil, err
		}
		e.registry = reg
	}
	if err := e.checkCalibration(&cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// checkCalibration rejects a configuration whose calibration method differs
// from the registry's. The model is bound when the engine is built, so a run
// cannot switch methods.
func (e *Engine) checkCalibration(cfg *config.MatchingConfig) error {
	if cfg.Calibration.Method != e.registry.Method() {
		return models.NewConfigurationError("matching.calibration.method",
			fmt.Sprintf("%q does not match the loaded %q model", cfg.Calibration.Method, e.registry.Method()))
	}
	return nil
}

// Config returns a copy of the engine's matching configuration.
func (e *Engine) Config() config.MatchingConfig {
	return e.cfg
}

// Match runs the pipeline with the engine's configuration.
func (e *Engine) Match(ctx context.Context, ref *models.Referral, pool []*models.CandidateProfile) (*models.MatchResult, error) {
	return e.MatchWithConfig(ctx, ref, pool, &e.cfg)
}

// MatchWithConfig runs the pipeline with cfg. The calibration model stays the
// engine's, and cfg must name the same method. Validation and configuration
// errors abort the run before scoring. Degraded components and an empty
// eligible set are reported in the result, never as errors. Neither ref nor
// pool is modified.
func (e *Engine) MatchWithConfig(ctx context.Context, ref *models.Referral, pool []*models.CandidateProfile, cfg *config.MatchingConfig) (*models.MatchResult, error) {
	start := time.Now()
	defer func() { metrics.MatchDuration.Observe(time.Since(start).Seconds()) }()

	if cfg == nil {
		metrics.MatchRuns.WithLabelValues(outcomeConfiguration).Inc()
		return nil, models.NewConfigurationError("matching", "missing configuration")
	}
	p, err := e.prepare(ref, cfg)
	if err != nil {
		outcome := outcomeConfiguration
		if models.IsValidationError(err) {
			outcome = outcomeInvalid
		}
		metrics.MatchRuns.WithLabelValues(outcome).Inc()
		return nil, err
	}

	feas, err := p.filter.Evaluate(ref, pool)
	if err != nil {
		metrics.MatchRuns.WithLabelValues(outcomeInvalid).Inc()
		return nil, err
	}
	metrics.EligibleCandidates.Observe(float64(len(feas.Eligible)))

	calib := e.registry.Current()
	result := &models.MatchResult{
		Matches:            []models.CalibratedMatch{},
		Explanations:       []models.Explanation{},
		Feasibility:        feas.Results,
		PoolVersion:        catalogue.PoolVersion(pool),
		CalibrationVersion: calib.Model.Version(),
	}
	if calib.Degraded != "" {
		result.Degraded = append(result.Degraded, models.DegradedCondition{
			Component: models.ComponentCalibration, Reason: calib.Degraded,
		})
	}

	if len(feas.Eligible) == 0 {
		e.logger.Info("no eligible candidates", zap.String("referral_id", ref.ID), zap.Int("pool", len(pool)))
		result.Decision = p.router.Route(ref, result.PoolVersion, nil)
		e.finish(ctx, result)
		return result, nil
	}

	weights := search.Weights{Lexical: cfg.LexicalWeight, Vector: cfg.VectorWeight}
	retrieval := e.search.Retrieve(ctx, &search.Request{
		Referral:    ref,
		Pool:        pool,
		PoolVersion: result.PoolVersion,
		Eligible:    feas.Eligible,
		Weights:     weights,
		BM25:        lexical.Scorer{K1: cfg.BM25.K1, B: cfg.BM25.B},
	})
	result.Degraded = append(result.Degraded, retrieval.Degraded...)

	byID := make(map[string]*models.CandidateProfile, len(feas.Eligible))
	for _, c := range feas.Eligible {
		byID[c.ID] = c
	}
	reranked := p.ranker.Rerank(ref, retrieval.Scores, byID)
	noSignal := retrieval.Degradation.Lexical && retrieval.Degradation.Vector
	if noSignal {
		// eligibility order
		sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].CandidateID < reranked[j].CandidateID })
	}

	result.Matches = calibration.Calibrate(calib.Model, reranked)
	if noSignal {
		result.Decision = p.router.Review(ref, result.PoolVersion, result.Matches)
	} else {
		result.Decision = p.router.Route(ref, result.PoolVersion, result.Matches)
	}
	result.Explanations = explain.NewGenerator(cfg.Rerank).Explain(&explain.Input{
		Referral:    ref,
		Retrieval:   retrieval.Scores,
		Reranked:    reranked,
		Calibrated:  result.Matches,
		Weights:     search.EffectiveWeights(weights, retrieval.Degradation),
		Degradation: retrieval.Degradation,
	})

	e.finish(ctx, result)
	return result, nil
}

type pipeline struct {
	filter *feasibility.Filter
	ranker *ranking.Ranker
	router *routing.Router
}

func (e *Engine) prepare(ref *models.Referral, cfg *config.MatchingConfig) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkCalibration(cfg); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, models.NewValidationError("referral", "must not be empty")
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	filter, err := feasibility.NewFilter(cfg.RadiusKM, feasibility.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	ranker, err := ranking.NewRanker(cfg.Rerank, cfg.ExperienceCap)
	if err != nil {
		return nil, err
	}
	router, err := routing.NewRouter(cfg, e.clock)
	if err != nil {
		return nil, err
	}
	return &pipeline{filter: filter, ranker: ranker, router: router}, nil
}

// finish records metrics and emits the run to the audit sink. Sink failures
// are logged; the result is already complete.
func (e *Engine) finish(ctx context.Context, result *models.MatchResult) {
	d := result.Decision
	outcome := outcomeOK
	if len(result.Degraded) > 0 {
		outcome = outcomeDegraded
	}
	metrics.MatchRuns.WithLabelValues(outcome).Inc()
	metrics.Decisions.WithLabelValues(string(d.Kind), string(d.Urgency)).Inc()
	for _, c := range result.Degraded {
		metrics.DegradedRuns.WithLabelValues(c.Component).Inc()
	}

	if err := e.sink.RecordDecision(ctx, d, result.Matches); err != nil {
		e.logger.Error("failed to record routing decision", zap.String("decision_id", d.ID), zap.Error(err))
	}
	if err := e.sink.RecordExplanations(ctx, d.ID, result.Explanations); err != nil {
		e.logger.Error("failed to record explanations", zap.String("decision_id", d.ID), zap.Error(err))
	}

	top := 0.0
	if len(result.Matches) > 0 {
		top = result.Matches[0].Probability
	}
	e.logger.Info("referral matched",
		zap.String("referral_id", d.ReferralID),
		zap.String("decision", string(d.Kind)),
		zap.Int("ranked", len(result.Matches)),
		zap.Float64("top_probability", top),
		zap.Float64("threshold", d.Threshold),
		zap.String("pool_version", result.PoolVersion),
		zap.Int("degraded", len(result.Degraded)),
	)
}
