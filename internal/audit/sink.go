// Package audit persists routing decisions and explanations emitted by
// matching runs, and serves the high-touch review queue built from them.
package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/models"
)

// Sink receives the records of completed runs.
type Sink interface {
	RecordDecision(ctx context.Context, d *models.RoutingDecision, matches []models.CalibratedMatch) error
	RecordExplanations(ctx context.Context, decisionID string, explanations []models.Explanation) error
}

// Nop discards every record.
type Nop struct{}

func (Nop) RecordDecision(context.Context, *models.RoutingDecision, []models.CalibratedMatch) error {
	return nil
}

func (Nop) RecordExplanations(context.Context, string, []models.Explanation) error { return nil }

// LogSink writes records to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink. A nil logger discards records.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) RecordDecision(_ context.Context, d *models.RoutingDecision, matches []models.CalibratedMatch) error {
	top := 0.0
	if len(matches) > 0 {
		top = matches[0].Probability
	}
	s.logger.Info("routing decision",
		zap.String("decision_id", d.ID),
		zap.String("referral_id", d.ReferralID),
		zap.String("kind", string(d.Kind)),
		zap.Strings("candidate_ids", d.CandidateIDs),
		zap.Float64("threshold", d.Threshold),
		zap.Float64("top_probability", top),
		zap.String("urgency", string(d.Urgency)),
		zap.Time("decided_at", d.DecidedAt),
	)
	return nil
}

func (s *LogSink) RecordExplanations(_ context.Context, decisionID string, explanations []models.Explanation) error {
	for _, e := range explanations {
		s.logger.Debug("match explanation",
			zap.String("decision_id", decisionID),
			zap.String("candidate_id", e.CandidateID),
			zap.Strings("dominant", e.Dominant),
			zap.Any("factors", e.Factors),
		)
	}
	return nil
}

type tee []Sink

// Tee returns a Sink that records to every sink in order and joins their errors.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

func (t tee) RecordDecision(ctx context.Context, d *models.RoutingDecision, matches []models.CalibratedMatch) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.RecordDecision(ctx, d, matches))
	}
	return errors.Join(errs...)
}

func (t tee) RecordExplanations(ctx context.Context, decisionID string, explanations []models.Explanation) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.RecordExplanations(ctx, decisionID, explanations))
	}
	return errors.Join(errs...)
}
