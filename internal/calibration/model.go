// Package calibration maps reranked scores to calibrated match probabilities
// with pre-fit isotonic or Platt models.
package calibration

import (
	"fmt"
	"math"
	"sort"

	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/pkg/utils"
)

// Model is a fitted, immutable calibration model. Predict is monotonically
// non-decreasing in score and always returns a value in [0,1].
type Model interface {
	Method() string
	Version() string
	Predict(score float64) float64
}

// Identity clips the score to [0,1].
type Identity struct{}

func (Identity) Method() string  { return config.CalibrationIdentity }
func (Identity) Version() string { return "identity" }

func (Identity) Predict(score float64) float64 {
	return utils.Clamp01(score)
}

// Isotonic is a piecewise-linear isotonic regression fit. X is strictly
// increasing; Y is non-decreasing within [0,1].
type Isotonic struct {
	version string
	x, y    []float64
}

// NewIsotonic validates the breakpoints and returns the model.
func NewIsotonic(version string, x, y []float64) (*Isotonic, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, models.NewConfigurationError("calibration.isotonic", fmt.Sprintf("need equal, non-empty x and y (got %d and %d)", len(x), len(y)))
	}
	for i := range x {
		if !utils.IsFinite(x[i]) || !utils.IsFinite(y[i]) {
			return nil, models.NewConfigurationError("calibration.isotonic", fmt.Sprintf("non-finite breakpoint at %d", i))
		}
		if y[i] < 0 || y[i] > 1 {
			return nil, models.NewConfigurationError("calibration.isotonic", fmt.Sprintf("y[%d]=%v outside [0,1]", i, y[i]))
		}
		if i > 0 && x[i] <= x[i-1] {
			return nil, models.NewConfigurationError("calibration.isotonic", fmt.Sprintf("x must be strictly increasing at %d", i))
		}
		if i > 0 && y[i] < y[i-1] {
			return nil, models.NewConfigurationError("calibration.isotonic", fmt.Sprintf("y must be non-decreasing at %d", i))
		}
	}
	return &Isotonic{
		version: version,
		x:       append([]float64(nil), x...),
		y:       append([]float64(nil), y...),
	}, nil
}

func (m *Isotonic) Method() string  { return config.CalibrationIsotonic }
func (m *Isotonic) Version() string { return m.version }

// Predict interpolates linearly between breakpoints and clamps outside them.
func (m *Isotonic) Predict(score float64) float64 {
	if math.IsNaN(score) {
		return m.y[0]
	}
	n := len(m.x)
	if score <= m.x[0] {
		return m.y[0]
	}
	if score >= m.x[n-1] {
		return m.y[n-1]
	}
	i := sort.SearchFloat64s(m.x, score)
	if m.x[i] == score {
		return m.y[i]
	}
	x0, x1 := m.x[i-1], m.x[i]
	y0, y1 := m.y[i-1], m.y[i]
	return utils.Clamp01(y0 + (y1-y0)*(score-x0)/(x1-x0))
}

// Platt is a logistic calibration 1/(1+exp(A*s+B)) with A <= 0.
type Platt struct {
	version string
	a, b    float64
}

// NewPlatt validates the parameters and returns the model.
func NewPlatt(version string, a, b float64) (*Platt, error) {
	if !utils.IsFinite(a) || !utils.IsFinite(b) {
		return nil, models.NewConfigurationError("calibration.platt", "parameters must be finite")
	}
	if a > 0 {
		return nil, models.NewConfigurationError("calibration.platt", fmt.Sprintf("a=%v must be <= 0 for a non-decreasing map", a))
	}
	return &Platt{version: version, a: a, b: b}, nil
}

func (m *Platt) Method() string  { return config.CalibrationPlatt }
func (m *Platt) Version() string { return m.version }

func (m *Platt) Predict(score float64) float64 {
	if math.IsNaN(score) {
		score = 0
	}
	return utils.Clamp01(1 / (1 + math.Exp(m.a*score+m.b)))
}

// Calibrate maps every reranked score through m, preserving order.
func Calibrate(m Model, reranked []models.RerankedScore) []models.CalibratedMatch {
	out := make([]models.CalibratedMatch, len(reranked))
	for i, r := range reranked {
		out[i] = models.CalibratedMatch{
			CandidateID: r.CandidateID,
			Reranked:    r.Score,
			Probability: m.Predict(r.Score),
		}
	}
	return out
}
