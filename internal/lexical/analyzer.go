// Package lexical provides BM25 scoring of candidate profile text against referral text.
package lexical

import (
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/referwell/matcher/internal/models"
)

var (
	analyzeOnce sync.Once
	analyze     func([]byte) analysis.TokenStream
)

// Tokenize splits text with bleve's standard analyzer: unicode word boundaries,
// lowercased, English stop words removed, no stemming. Catalogue indexing and
// referral queries both go through it so their terms agree.
func Tokenize(text string) []string {
	analyzeOnce.Do(func() {
		an := bleve.NewIndexMapping().AnalyzerNamed(standard.Name)
		analyze = an.Analyze
	})
	stream := analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// QueryTerms returns the unique tokens of text, sorted so score summation order
// is fixed.
func QueryTerms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range Tokenize(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// BuildEntry computes the term statistics for a profile text.
func BuildEntry(text string) *models.LexicalEntry {
	terms := Tokenize(text)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	return &models.LexicalEntry{TermFreqs: tf, Length: len(terms)}
}

// EntryFor returns the candidate's precomputed entry, or computes one from its text.
func EntryFor(c *models.CandidateProfile) *models.LexicalEntry {
	if c.Lexical != nil {
		return c.Lexical
	}
	return BuildEntry(c.Text)
}
