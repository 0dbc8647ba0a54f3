package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/ranking"
	"github.com/referwell/matcher/internal/search"
)

func testInput() (*Input, *ranking.Ranker) {
	cfg := config.DefaultMatchingConfig()
	rk, _ := ranking.NewRanker(cfg.Rerank, cfg.ExperienceCap)
	ref := &models.Referral{ID: "r1", Text: "anxiety", Specialisms: []string{"anxiety"}, Modality: models.ModalityRemote}
	retrieval := []models.RetrievalScore{
		{CandidateID: "a", LexicalNorm: 1, VectorNorm: 0.8},
		{CandidateID: "b", LexicalNorm: 0, VectorNorm: 0.1},
	}
	w := search.Weights{Lexical: cfg.LexicalWeight, Vector: cfg.VectorWeight}
	for i := range retrieval {
		retrieval[i].Hybrid = w.Lexical*retrieval[i].LexicalNorm + w.Vector*retrieval[i].VectorNorm
	}
	fvA := models.FeatureVector{Specialism: 1, Language: 1, AgeGroup: 1, Experience: 0.4, Modality: 1}
	fvB := models.FeatureVector{Specialism: 0, Language: 1, AgeGroup: 1, Experience: 0.1, Modality: 0.5}
	reranked := []models.RerankedScore{
		{CandidateID: "a", Hybrid: retrieval[0].Hybrid, Features: fvA, Score: rk.Score(retrieval[0].Hybrid, fvA)},
		{CandidateID: "b", Hybrid: retrieval[1].Hybrid, Features: fvB, Score: rk.Score(retrieval[1].Hybrid, fvB)},
	}
	calibrated := []models.CalibratedMatch{
		{CandidateID: "a", Reranked: reranked[0].Score, Probability: reranked[0].Score},
		{CandidateID: "b", Reranked: reranked[1].Score, Probability: reranked[1].Score},
	}
	return &Input{
		Referral:   ref,
		Retrieval:  retrieval,
		Reranked:   reranked,
		Calibrated: calibrated,
		Weights:    w,
	}, rk
}

func sumScoreTerms(e models.Explanation) float64 {
	total := 0.0
	for _, f := range e.Factors {
		if f.Name == FactorFeasibility || f.Name == FactorProbability {
			continue
		}
		total += f.Contribution
	}
	return total
}

func TestExplain_contributionsSumToRerankedScore(t *testing.T) {
	in, rk := testInput()
	got := NewGenerator(rk.Weights()).Explain(in)
	require.Len(t, got, 2)
	for i, e := range got {
		assert.Equal(t, in.Calibrated[i].CandidateID, e.CandidateID)
		assert.Equal(t, "r1", e.ReferralID)
		assert.InDelta(t, in.Reranked[i].Score, sumScoreTerms(e), 1e-12)
	}
}

func TestExplain_factorOrder(t *testing.T) {
	in, rk := testInput()
	e := NewGenerator(rk.Weights()).Explain(in)[0]
	var names []string
	for _, f := range e.Factors {
		names = append(names, f.Name)
		assert.NotEmpty(t, f.Note)
	}
	assert.Equal(t, []string{
		FactorFeasibility, FactorLexical, FactorVector,
		ranking.FeatureSpecialism, ranking.FeatureLanguage, ranking.FeatureAgeGroup,
		ranking.FeatureExperience, ranking.FeatureModality,
		FactorProbability,
	}, names)
}

func TestExplain_dominant(t *testing.T) {
	in, rk := testInput()
	e := NewGenerator(rk.Weights()).Explain(in)[0]
	// specialism 0.30, language 0.15, vector 0.25*0.7*0.8 = 0.14
	assert.Equal(t, []string{ranking.FeatureSpecialism, ranking.FeatureLanguage, FactorVector}, e.Dominant)
}

func TestDominant_tiesByName(t *testing.T) {
	got := dominant([]models.Factor{
		{Name: "z", Contribution: 0.1},
		{Name: "b", Contribution: -0.1},
		{Name: "a", Contribution: 0.1},
		{Name: "c", Contribution: 0.05},
		{Name: "zero", Contribution: 0},
	}, 3)
	assert.Equal(t, []string{"a", "b", "z"}, got)
	assert.Empty(t, dominant([]models.Factor{{Name: "zero"}}, 3))
}

func TestExplain_doubleDegraded(t *testing.T) {
	in, rk := testInput()
	in.Degradation = search.Degradation{Lexical: true, Vector: true}
	in.Weights = search.EffectiveWeights(in.Weights, in.Degradation)
	for i := range in.Retrieval {
		in.Retrieval[i].LexicalNorm, in.Retrieval[i].VectorNorm, in.Retrieval[i].Hybrid = 0, 0, 0.5
		in.Reranked[i].Hybrid = 0.5
		in.Reranked[i].Score = rk.Score(0.5, in.Reranked[i].Features)
	}
	e := NewGenerator(rk.Weights()).Explain(in)[0]
	names := make([]string, 0, 4)
	for _, f := range e.Factors[:4] {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{FactorFeasibility, FactorLexical, FactorVector, FactorRetrievalFallback}, names)
	assert.Zero(t, e.Factors[1].Contribution)
	assert.Zero(t, e.Factors[2].Contribution)
	assert.Contains(t, e.Factors[1].Note, "unavailable")
	assert.Contains(t, e.Factors[2].Note, "unavailable")
	assert.NotContains(t, e.Dominant, FactorLexical)
	assert.InDelta(t, in.Reranked[0].Score, sumScoreTerms(e), 1e-12)
}

func TestExplain_doesNotMutateInputs(t *testing.T) {
	in, rk := testInput()
	before := append([]models.CalibratedMatch(nil), in.Calibrated...)
	beforeRetrieval := append([]models.RetrievalScore(nil), in.Retrieval...)
	NewGenerator(rk.Weights()).Explain(in)
	assert.Equal(t, before, in.Calibrated)
	assert.Equal(t, beforeRetrieval, in.Retrieval)
}

func TestExplain_empty(t *testing.T) {
	in, rk := testInput()
	in.Calibrated = nil
	assert.Empty(t, NewGenerator(rk.Weights()).Explain(in))
}
