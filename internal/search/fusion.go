// Package search runs lexical and vector retrieval over the eligible set and
// fuses the two score streams into a hybrid ranking.
package search

import (
	"sort"

	"github.com/referwell/matcher/internal/models"
)

// Weights are the retrieval stream weights. They sum to 1.0.
type Weights struct {
	Lexical float64
	Vector  float64
}

// Degradation records which retrieval streams were unavailable for a run.
type Degradation struct {
	Lexical bool
	Vector  bool
}

// NormalizeMinMax maps values onto [0,1] by min-max scaling. If all values are
// equal, every normalized value is 0.5.
func NormalizeMinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	span := hi - lo
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out
}

// EffectiveWeights redistributes the weight of a degraded stream to the other one.
// When both are degraded both weights are zero.
func EffectiveWeights(w Weights, d Degradation) Weights {
	switch {
	case d.Lexical && d.Vector:
		return Weights{}
	case d.Vector:
		return Weights{Lexical: 1, Vector: 0}
	case d.Lexical:
		return Weights{Lexical: 0, Vector: 1}
	default:
		return w
	}
}

// Combine normalizes the Lexical and Vector fields of scores across the set,
// fills LexicalNorm, VectorNorm and Hybrid, and returns a new slice ranked by
// hybrid score descending with ties broken by candidate id ascending. When both
// streams are degraded every hybrid score is 0.5, which leaves the ranking in
// candidate id order.
func Combine(scores []models.RetrievalScore, w Weights, d Degradation) []models.RetrievalScore {
	out := make([]models.RetrievalScore, len(scores))
	copy(out, scores)

	eff := EffectiveWeights(w, d)
	lex := make([]float64, len(out))
	vec := make([]float64, len(out))
	for i, s := range out {
		lex[i], vec[i] = s.Lexical, s.Vector
	}
	lexNorm, vecNorm := NormalizeMinMax(lex), NormalizeMinMax(vec)

	for i := range out {
		if d.Lexical && d.Vector {
			out[i].LexicalNorm, out[i].VectorNorm = 0, 0
			out[i].Hybrid = 0.5
			continue
		}
		if !d.Lexical {
			out[i].LexicalNorm = lexNorm[i]
		}
		if !d.Vector {
			out[i].VectorNorm = vecNorm[i]
		}
		out[i].Hybrid = eff.Lexical*out[i].LexicalNorm + eff.Vector*out[i].VectorNorm
	}
	SortByHybrid(out)
	return out
}

// SortByHybrid orders scores by hybrid score descending, then candidate id ascending.
func SortByHybrid(scores []models.RetrievalScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Hybrid != scores[j].Hybrid {
			return scores[i].Hybrid > scores[j].Hybrid
		}
		return scores[i].CandidateID < scores[j].CandidateID
	})
}
