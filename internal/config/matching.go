package config

import (
	"fmt"
	"math"

	"github.com/referwell/matcher/internal/models"
)

const weightTolerance = 1e-6

// Calibration methods.
const (
	CalibrationIsotonic = "isotonic"
	CalibrationPlatt    = "platt"
	CalibrationIdentity = "identity"
)

// MatchingConfig is the configuration surface of a matching run.
type MatchingConfig struct {
	LexicalWeight float64       `yaml:"lexical_weight"`
	VectorWeight  float64       `yaml:"vector_weight"`
	Rerank        RerankWeights `yaml:"rerank"`
	// ExperienceCap is the number of years at which the experience feature stops growing linearly.
	ExperienceCap int     `yaml:"experience_cap"`
	RadiusKM      float64 `yaml:"radius_km"`
	AutoThreshold float64 `yaml:"auto_threshold"`
	// ThresholdsByUrgency overrides AutoThreshold for specific urgency tiers.
	ThresholdsByUrgency map[models.Urgency]float64 `yaml:"thresholds_by_urgency"`
	TopN                int                        `yaml:"top_n"`
	Calibration         CalibrationConfig          `yaml:"calibration"`
	BM25                BM25Config                 `yaml:"bm25"`
}

// RerankWeights are the reranker weights. They must sum to 1.0.
type RerankWeights struct {
	Hybrid     float64 `yaml:"hybrid"`
	Specialism float64 `yaml:"specialism"`
	Language   float64 `yaml:"language"`
	AgeGroup   float64 `yaml:"age_group"`
	Experience float64 `yaml:"experience"`
	Modality   float64 `yaml:"modality"`
}

// Sum returns the total of all reranker weights.
func (w RerankWeights) Sum() float64 {
	return w.Hybrid + w.Specialism + w.Language + w.AgeGroup + w.Experience + w.Modality
}

func (w RerankWeights) isZero() bool {
	return w == RerankWeights{}
}

// CalibrationConfig selects the calibration method and its fitted artifact.
type CalibrationConfig struct {
	Method       string `yaml:"method"`
	ArtifactPath string `yaml:"artifact_path"`
	// Watch reloads the artifact when the file changes.
	Watch bool `yaml:"watch"`
}

// BM25Config holds lexical scoring parameters.
type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// DefaultMatchingConfig returns the default matching configuration.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		LexicalWeight: 0.3,
		VectorWeight:  0.7,
		Rerank: RerankWeights{
			Hybrid:     0.25,
			Specialism: 0.30,
			Language:   0.15,
			AgeGroup:   0.10,
			Experience: 0.10,
			Modality:   0.10,
		},
		ExperienceCap: 15,
		RadiusKM:      25,
		AutoThreshold: 0.75,
		TopN:          3,
		Calibration:   CalibrationConfig{Method: CalibrationIdentity},
		BM25:          BM25Config{K1: 1.2, B: 0.75},
	}
}

// ThresholdFor returns the auto-match threshold for an urgency tier.
func (m *MatchingConfig) ThresholdFor(u models.Urgency) float64 {
	if t, ok := m.ThresholdsByUrgency[u]; ok {
		return t
	}
	return m.AutoThreshold
}

// Validate returns a ConfigurationError when the matching configuration is
// missing values or inconsistent.
func (m *MatchingConfig) Validate() error {
	if m.RadiusKM <= 0 || math.IsNaN(m.RadiusKM) || math.IsInf(m.RadiusKM, 0) {
		return models.NewConfigurationError("matching.radius_km", "must be set to a positive number")
	}
	if m.LexicalWeight < 0 || m.VectorWeight < 0 {
		return models.NewConfigurationError("matching.lexical_weight/vector_weight", "must not be negative")
	}
	if math.Abs(m.LexicalWeight+m.VectorWeight-1.0) > weightTolerance {
		return models.NewConfigurationError("matching.lexical_weight/vector_weight",
			fmt.Sprintf("must sum to 1.0, got %.6f", m.LexicalWeight+m.VectorWeight))
	}
	if err := m.Rerank.Validate(); err != nil {
		return err
	}
	if m.ExperienceCap <= 0 {
		return models.NewConfigurationError("matching.experience_cap", "must be positive")
	}
	if err := validateThreshold("matching.auto_threshold", m.AutoThreshold); err != nil {
		return err
	}
	for u, t := range m.ThresholdsByUrgency {
		if err := validateThreshold(fmt.Sprintf("matching.thresholds_by_urgency.%s", u), t); err != nil {
			return err
		}
	}
	if m.TopN <= 0 {
		return models.NewConfigurationError("matching.top_n", "must be at least 1")
	}
	switch m.Calibration.Method {
	case CalibrationIsotonic, CalibrationPlatt, CalibrationIdentity:
	default:
		return models.NewConfigurationError("matching.calibration.method",
			fmt.Sprintf("unknown method %q (supported: isotonic, platt, identity)", m.Calibration.Method))
	}
	if m.BM25.K1 <= 0 {
		return models.NewConfigurationError("matching.bm25.k1", "must be positive")
	}
	if m.BM25.B < 0 || m.BM25.B > 1 {
		return models.NewConfigurationError("matching.bm25.b", "must be within [0,1]")
	}
	return nil
}

// Validate checks that every weight is non-negative and the weights sum to 1.0.
func (w RerankWeights) Validate() error {
	for name, v := range map[string]float64{
		"hybrid": w.Hybrid, "specialism": w.Specialism, "language": w.Language,
		"age_group": w.AgeGroup, "experience": w.Experience, "modality": w.Modality,
	} {
		if v < 0 || math.IsNaN(v) {
			return models.NewConfigurationError("matching.rerank."+name, "must not be negative")
		}
	}
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return models.NewConfigurationError("matching.rerank", fmt.Sprintf("weights must sum to 1.0, got %.6f", w.Sum()))
	}
	return nil
}

func validateThreshold(field string, t float64) error {
	if t < 0 || t > 1 || math.IsNaN(t) {
		return models.NewConfigurationError(field, "must be within [0,1]")
	}
	return nil
}
