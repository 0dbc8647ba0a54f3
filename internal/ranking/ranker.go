package ranking

import (
	"sort"

	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/pkg/utils"
)

type weightedFeature struct {
	feature Feature
	weight  float64
}

// Ranker computes the reranked score as a weighted sum of the hybrid score and
// the structured features.
type Ranker struct {
	weights  config.RerankWeights
	features []weightedFeature
}

// NewRanker creates a Ranker. It fails with a ConfigurationError when the
// weights do not sum to 1.0 or the experience cap is unset.
func NewRanker(weights config.RerankWeights, experienceCap int) (*Ranker, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if experienceCap <= 0 {
		return nil, models.NewConfigurationError("matching.experience_cap", "must be positive")
	}
	return &Ranker{
		weights: weights,
		features: []weightedFeature{
			{SpecialismFeature{}, weights.Specialism},
			{LanguageFeature{}, weights.Language},
			{AgeGroupFeature{}, weights.AgeGroup},
			{ExperienceFeature{Cap: experienceCap}, weights.Experience},
			{ModalityFeature{}, weights.Modality},
		},
	}, nil
}

// Weights returns the configured weights.
func (r *Ranker) Weights() config.RerankWeights {
	return r.weights
}

// Features computes the feature vector of a candidate.
func (r *Ranker) Features(ref *models.Referral, c *models.CandidateProfile) models.FeatureVector {
	var fv models.FeatureVector
	for _, wf := range r.features {
		v := utils.Clamp01(wf.feature.Score(ref, c))
		switch wf.feature.Name() {
		case FeatureSpecialism:
			fv.Specialism = v
		case FeatureLanguage:
			fv.Language = v
		case FeatureAgeGroup:
			fv.AgeGroup = v
		case FeatureExperience:
			fv.Experience = v
		case FeatureModality:
			fv.Modality = v
		}
	}
	return fv
}

// Breakdown decomposes the reranked score of a hybrid score and feature vector.
func (r *Ranker) Breakdown(hybrid float64, fv models.FeatureVector) *ScoreBreakdown {
	b := &ScoreBreakdown{
		HybridContribution: r.weights.Hybrid * hybrid,
		Contributions: map[string]float64{
			FeatureSpecialism: r.weights.Specialism * fv.Specialism,
			FeatureLanguage:   r.weights.Language * fv.Language,
			FeatureAgeGroup:   r.weights.AgeGroup * fv.AgeGroup,
			FeatureExperience: r.weights.Experience * fv.Experience,
			FeatureModality:   r.weights.Modality * fv.Modality,
		},
	}
	// fixed summation order keeps scores bit-identical across runs
	b.FinalScore = b.HybridContribution +
		b.Contributions[FeatureSpecialism] +
		b.Contributions[FeatureLanguage] +
		b.Contributions[FeatureAgeGroup] +
		b.Contributions[FeatureExperience] +
		b.Contributions[FeatureModality]
	return b
}

// Score returns the reranked score of a hybrid score and feature vector.
func (r *Ranker) Score(hybrid float64, fv models.FeatureVector) float64 {
	return r.Breakdown(hybrid, fv).FinalScore
}

// Rerank scores every retrieval result whose candidate is in candidates and
// returns them ranked by reranked score descending, ties by candidate id ascending.
func (r *Ranker) Rerank(ref *models.Referral, retrieval []models.RetrievalScore, candidates map[string]*models.CandidateProfile) []models.RerankedScore {
	out := make([]models.RerankedScore, 0, len(retrieval))
	for _, rs := range retrieval {
		c, ok := candidates[rs.CandidateID]
		if !ok {
			continue
		}
		fv := r.Features(ref, c)
		out = append(out, models.RerankedScore{
			CandidateID: rs.CandidateID,
			Hybrid:      rs.Hybrid,
			Features:    fv,
			Score:       r.Score(rs.Hybrid, fv),
		})
	}
	SortByScore(out)
	return out
}

// SortByScore orders reranked scores descending, then by candidate id ascending.
func SortByScore(scores []models.RerankedScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].CandidateID < scores[j].CandidateID
	})
}
