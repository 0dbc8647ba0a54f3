package vector

import (
	"github.com/referwell/matcher/internal/models"
)

// Score is the vector score of one candidate.
type Score struct {
	CandidateID string
	Score       float64
	// Missing is set when the candidate had no usable embedding.
	Missing bool
}

// Retriever scores eligible candidates against a referral embedding.
type Retriever struct {
	// ModelVersion is the embedding model of the referral vector. Candidate
	// embeddings from another model are treated as missing.
	ModelVersion string
}

// Retrieve scores every eligible candidate, in the order given. A candidate
// with no embedding, a different dimension or another model version scores 0.
func (r Retriever) Retrieve(query []float32, eligible []*models.CandidateProfile) []Score {
	out := make([]Score, len(eligible))
	for i, c := range eligible {
		out[i] = Score{CandidateID: c.ID}
		if !r.usable(query, c) {
			out[i].Missing = true
			continue
		}
		out[i].Score = CosineSimilarity(query, c.Embedding)
	}
	return out
}

func (r Retriever) usable(query []float32, c *models.CandidateProfile) bool {
	if len(c.Embedding) == 0 || len(c.Embedding) != len(query) {
		return false
	}
	if r.ModelVersion != "" && c.EmbeddingModel != "" && c.EmbeddingModel != r.ModelVersion {
		return false
	}
	return true
}
