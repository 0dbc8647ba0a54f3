package search

import (
	"context"
	"testing"

	"github.com/referwell/matcher/internal/embedding"
	"github.com/referwell/matcher/internal/lexical"
	"github.com/referwell/matcher/internal/models"
)

func indexedPool(t *testing.T, e embedding.Embedder, texts map[string]string) []*models.CandidateProfile {
	t.Helper()
	var pool []*models.CandidateProfile
	for _, id := range []string{"c1", "c2", "c3"} {
		text, ok := texts[id]
		if !ok {
			continue
		}
		vec, err := e.Embed(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		pool = append(pool, &models.CandidateProfile{
			ID: id, Text: text, Embedding: vec, EmbeddingModel: e.ModelVersion(), Lexical: lexical.BuildEntry(text),
		})
	}
	return pool
}

func TestEngine_Retrieve(t *testing.T) {
	emb := embedding.NewMockEmbedder(256)
	pool := indexedPool(t, emb, map[string]string{
		"c1": "adult anxiety panic disorder cbt",
		"c2": "child autism assessment",
		"c3": "adult depression anxiety",
	})
	engine := NewEngine(nil, emb)
	resp := engine.Retrieve(context.Background(), &Request{
		Referral:    &models.Referral{ID: "r1", Text: "adult with panic attacks and anxiety"},
		Pool:        pool,
		PoolVersion: "v1",
		Eligible:    pool,
		Weights:     Weights{Lexical: 0.3, Vector: 0.7},
		BM25:        lexical.Scorer{K1: 1.2, B: 0.75},
	})
	if len(resp.Degraded) != 0 {
		t.Fatalf("unexpected degraded: %+v", resp.Degraded)
	}
	if len(resp.Scores) != 3 {
		t.Fatalf("scores = %d", len(resp.Scores))
	}
	if resp.Scores[0].CandidateID != "c1" {
		t.Errorf("top = %s, want c1", resp.Scores[0].CandidateID)
	}
	if resp.Scores[2].CandidateID != "c2" {
		t.Errorf("bottom = %s, want c2", resp.Scores[2].CandidateID)
	}
}

func TestEngine_RetrieveVectorDegraded(t *testing.T) {
	emb := embedding.NewMockEmbedder(64)
	pool := indexedPool(t, emb, map[string]string{
		"c1": "trauma ptsd emdr",
		"c2": "anxiety",
	})
	engine := NewEngine(nil, embedding.Unavailable{Dims: 64})
	resp := engine.Retrieve(context.Background(), &Request{
		Referral:    &models.Referral{ID: "r1", Text: "ptsd after accident"},
		Pool:        pool,
		PoolVersion: "v1",
		Eligible:    pool,
		Weights:     Weights{Lexical: 0.3, Vector: 0.7},
		BM25:        lexical.Scorer{K1: 1.2, B: 0.75},
	})
	if !resp.Degradation.Vector || len(resp.Degraded) != 1 || resp.Degraded[0].Component != models.ComponentVector {
		t.Fatalf("expected vector degraded, got %+v", resp.Degraded)
	}
	if resp.Scores[0].CandidateID != "c1" || resp.Scores[0].Hybrid != 1 {
		t.Errorf("lexical-only ranking wrong: %+v", resp.Scores)
	}
}

func TestEngine_RetrieveEmptyEligible(t *testing.T) {
	engine := NewEngine(nil, embedding.NewMockEmbedder(8))
	resp := engine.Retrieve(context.Background(), &Request{
		Referral: &models.Referral{ID: "r1", Text: "anything"},
	})
	if len(resp.Scores) != 0 || len(resp.Degraded) != 0 {
		t.Errorf("expected empty response, got %+v", resp)
	}
}

func TestEngine_RetrieveNoQueryTerms(t *testing.T) {
	emb := embedding.NewMockEmbedder(64)
	pool := indexedPool(t, emb, map[string]string{"c1": "anxiety", "c2": "depression"})
	engine := NewEngine(nil, embedding.Unavailable{})
	resp := engine.Retrieve(context.Background(), &Request{
		Referral:    &models.Referral{ID: "r1", Text: "the and of"},
		Pool:        pool,
		PoolVersion: "v1",
		Eligible:    pool,
		Weights:     Weights{Lexical: 0.3, Vector: 0.7},
		BM25:        lexical.Scorer{K1: 1.2, B: 0.75},
	})
	if !resp.Degradation.Lexical || !resp.Degradation.Vector {
		t.Fatalf("expected both streams degraded: %+v", resp.Degradation)
	}
	if resp.Scores[0].CandidateID != "c1" || resp.Scores[1].CandidateID != "c2" {
		t.Errorf("double degraded must fall back to id order: %+v", resp.Scores)
	}
}
