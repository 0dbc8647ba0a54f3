package lexical

import (
	"github.com/referwell/matcher/internal/models"
)

// Scorer computes Okapi BM25 scores.
type Scorer struct {
	// K1 controls term-frequency saturation.
	K1 float64
	// B controls document length normalization.
	B float64
}

// Score is the lexical score of one candidate.
type Score struct {
	CandidateID string
	Score       float64
}

// Score returns the BM25 score of entry for the sorted, de-duplicated queryTerms.
// The result is non-negative and zero when no query term occurs in the entry.
func (s Scorer) Score(corpus *Corpus, queryTerms []string, entry *models.LexicalEntry) float64 {
	if entry == nil || entry.Length == 0 {
		return 0
	}
	norm := 1.0
	if corpus.AvgLength > 0 {
		norm = 1 - s.B + s.B*float64(entry.Length)/corpus.AvgLength
	}
	var score float64
	for _, term := range queryTerms {
		tf := float64(entry.TermFreqs[term])
		if tf == 0 {
			continue
		}
		idf := corpus.IDF(term)
		score += idf * tf * (s.K1 + 1) / (tf + s.K1*norm)
	}
	return score
}

// Retrieve scores every eligible candidate, in the order given.
func (s Scorer) Retrieve(corpus *Corpus, queryTerms []string, eligible []*models.CandidateProfile) []Score {
	out := make([]Score, len(eligible))
	for i, c := range eligible {
		out[i] = Score{CandidateID: c.ID, Score: s.Score(corpus, queryTerms, EntryFor(c))}
	}
	return out
}
