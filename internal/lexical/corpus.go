package lexical

import (
	"math"

	"github.com/referwell/matcher/internal/models"
)

// Corpus holds the statistics of a versioned pool snapshot. It is immutable once
// built and safe for concurrent reads.
type Corpus struct {
	Version   string         `json:"version"`
	DocCount  int            `json:"doc_count"`
	AvgLength float64        `json:"avg_length"`
	DocFreqs  map[string]int `json:"doc_freqs"`
}

// NewCorpus computes statistics over every candidate in pool.
func NewCorpus(version string, pool []*models.CandidateProfile) *Corpus {
	c := &Corpus{Version: version, DocFreqs: make(map[string]int)}
	var total int
	for _, p := range pool {
		if p == nil {
			continue
		}
		e := EntryFor(p)
		c.DocCount++
		total += e.Length
		for term, n := range e.TermFreqs {
			if n > 0 {
				c.DocFreqs[term]++
			}
		}
	}
	if c.DocCount > 0 {
		c.AvgLength = float64(total) / float64(c.DocCount)
	}
	return c
}

// IDF returns the inverse document frequency of term, or 0 if no document contains it.
func (c *Corpus) IDF(term string) float64 {
	df := c.DocFreqs[term]
	if df == 0 {
		return 0
	}
	n := float64(c.DocCount)
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}
