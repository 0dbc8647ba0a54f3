// Package ranking reranks hybrid retrieval results with structured match features.
package ranking

import (
	"github.com/referwell/matcher/internal/models"
)

// Feature names. They double as explanation factor names.
const (
	FeatureSpecialism = "specialism"
	FeatureLanguage   = "language"
	FeatureAgeGroup   = "age_group"
	FeatureExperience = "experience"
	FeatureModality   = "modality"
)

// Feature is one structured match signal. Score returns a value in [0,1] and
// must be a pure function of its inputs.
type Feature interface {
	// Score calculates the feature value for a candidate given a referral.
	Score(ref *models.Referral, c *models.CandidateProfile) float64
	// Name returns the feature name for breakdowns and logging.
	Name() string
}

// ScoreBreakdown is the per-term decomposition of a reranked score.
type ScoreBreakdown struct {
	// HybridContribution is the hybrid weight times the hybrid score.
	HybridContribution float64
	// Contributions maps feature name to weight times value.
	Contributions map[string]float64
	// FinalScore is the reranked score.
	FinalScore float64
}
