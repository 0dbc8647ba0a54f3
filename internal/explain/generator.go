// Package explain builds auditable per-candidate score breakdowns.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/ranking"
	"github.com/referwell/matcher/internal/search"
)

// Factor names that are not reranker features.
const (
	FactorFeasibility       = "feasibility"
	FactorLexical           = "lexical"
	FactorVector            = "vector"
	FactorRetrievalFallback = "retrieval_fallback"
	FactorProbability       = "calibrated_probability"
)

// DominantCount is the number of factors highlighted per explanation.
const DominantCount = 3

// Input is everything a run produced that explanations are derived from.
type Input struct {
	Referral   *models.Referral
	Retrieval  []models.RetrievalScore
	Reranked   []models.RerankedScore
	Calibrated []models.CalibratedMatch
	// Weights are the effective retrieval weights after degradation.
	Weights     search.Weights
	Degradation search.Degradation
}

// Generator explains reranked scores as the exact terms of the weighted sum.
type Generator struct {
	weights config.RerankWeights
}

// NewGenerator returns a Generator for the given reranker weights.
func NewGenerator(weights config.RerankWeights) *Generator {
	return &Generator{weights: weights}
}

// Explain returns one explanation per calibrated match, in ranking order.
// It reads its inputs only.
func (g *Generator) Explain(in *Input) []models.Explanation {
	retrieval := make(map[string]models.RetrievalScore, len(in.Retrieval))
	for _, r := range in.Retrieval {
		retrieval[r.CandidateID] = r
	}
	reranked := make(map[string]models.RerankedScore, len(in.Reranked))
	for _, r := range in.Reranked {
		reranked[r.CandidateID] = r
	}

	out := make([]models.Explanation, 0, len(in.Calibrated))
	for _, m := range in.Calibrated {
		out = append(out, g.explainOne(in, m, retrieval[m.CandidateID], reranked[m.CandidateID]))
	}
	return out
}

func (g *Generator) explainOne(in *Input, m models.CalibratedMatch, rs models.RetrievalScore, rr models.RerankedScore) models.Explanation {
	w := g.weights
	factors := []models.Factor{{
		Name: FactorFeasibility,
		Note: "passed capacity, availability, service type, modality, radius and language checks",
	}}
	score := make([]models.Factor, 0, 8)

	bothDown := in.Degradation.Lexical && in.Degradation.Vector
	lex := models.Factor{
		Name: FactorLexical,
		Note: retrievalNote("text overlap", rs.LexicalNorm, in.Weights.Lexical, in.Degradation.Lexical),
	}
	vec := models.Factor{
		Name: FactorVector,
		Note: retrievalNote("semantic similarity", rs.VectorNorm, in.Weights.Vector, in.Degradation.Vector),
	}
	if !bothDown {
		lex.Contribution = w.Hybrid * in.Weights.Lexical * rs.LexicalNorm
		vec.Contribution = w.Hybrid * in.Weights.Vector * rs.VectorNorm
	}
	score = append(score, lex, vec)
	if bothDown {
		score = append(score, models.Factor{
			Name:         FactorRetrievalFallback,
			Contribution: w.Hybrid * rs.Hybrid,
			Note:         "retrieval unavailable, neutral hybrid score applied",
		})
	}

	fv := rr.Features
	score = append(score,
		models.Factor{Name: ranking.FeatureSpecialism, Contribution: w.Specialism * fv.Specialism,
			Note: fmt.Sprintf("%.0f%% of requested specialisms covered", 100*fv.Specialism)},
		models.Factor{Name: ranking.FeatureLanguage, Contribution: w.Language * fv.Language,
			Note: languageNote(in.Referral, fv.Language)},
		models.Factor{Name: ranking.FeatureAgeGroup, Contribution: w.AgeGroup * fv.AgeGroup,
			Note: ageNote(in.Referral, fv.AgeGroup)},
		models.Factor{Name: ranking.FeatureExperience, Contribution: w.Experience * fv.Experience,
			Note: fmt.Sprintf("experience score %.2f", fv.Experience)},
		models.Factor{Name: ranking.FeatureModality, Contribution: w.Modality * fv.Modality,
			Note: modalityNote(in.Referral, fv.Modality)},
	)
	factors = append(factors, score...)
	factors = append(factors, models.Factor{
		Name:         FactorProbability,
		Contribution: m.Probability,
		Note:         fmt.Sprintf("reranked score %.3f calibrated to %.1f%% match probability", m.Reranked, 100*m.Probability),
	})

	return models.Explanation{
		ReferralID:  in.Referral.ID,
		CandidateID: m.CandidateID,
		Factors:     factors,
		Dominant:    dominant(score, DominantCount),
	}
}

// dominant returns the names of the n score terms with the largest magnitude,
// ties broken by name.
func dominant(terms []models.Factor, n int) []string {
	sorted := append([]models.Factor(nil), terms...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := math.Abs(sorted[i].Contribution), math.Abs(sorted[j].Contribution)
		if ai != aj {
			return ai > aj
		}
		return sorted[i].Name < sorted[j].Name
	})
	names := make([]string, 0, n)
	for _, f := range sorted {
		if len(names) == n || f.Contribution == 0 {
			break
		}
		names = append(names, f.Name)
	}
	return names
}

func retrievalNote(what string, norm, weight float64, degraded bool) string {
	if degraded {
		return what + " unavailable for this run"
	}
	return fmt.Sprintf("%s %.2f of the eligible range, weight %.2f", what, norm, weight)
}

func languageNote(ref *models.Referral, v float64) string {
	if len(ref.RequiredLanguages) == 0 {
		return "no language requirement"
	}
	if v == 1 {
		return "speaks all required languages"
	}
	return "does not cover every required language"
}

func ageNote(ref *models.Referral, v float64) string {
	switch {
	case ref.AgeGroup == "":
		return "no age group requested"
	case v == 1:
		return "works with " + ref.AgeGroup + " patients"
	default:
		return "does not list " + ref.AgeGroup + " patients"
	}
}

func modalityNote(ref *models.Referral, v float64) string {
	either := ref.Modality == "" || ref.Modality == models.ModalityEither
	switch {
	case either && v == 1:
		return "offers remote and in-person sessions"
	case either:
		return "offers a single modality"
	case v == 1:
		return "offers " + string(ref.Modality) + " sessions only"
	case v > 0:
		return "offers " + string(ref.Modality) + " among other modalities"
	default:
		return "does not offer " + string(ref.Modality) + " sessions"
	}
}
