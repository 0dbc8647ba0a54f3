package embedding

import (
	"context"
	"hash/fnv"

	"github.com/referwell/matcher/internal/lexical"
	"github.com/referwell/matcher/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and local runs. Each
// token is hashed into a bucket and the bag of buckets is L2-normalized, so
// texts that share words have a positive cosine similarity.
type MockEmbedder struct {
	dimensions int
	version    string
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, version: "mock-v1"}
}

// Embed returns the hashed bag-of-words embedding of text. Text with no tokens
// yields the zero vector.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, tok := range lexical.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		emb[h.Sum32()%uint32(e.dimensions)] += 1
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelVersion identifies the mock model.
func (e *MockEmbedder) ModelVersion() string {
	return e.version
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
