package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referwell/matcher/internal/embedding"
	"github.com/referwell/matcher/internal/lexical"
	"github.com/referwell/matcher/internal/models"
)

type countingEmbedder struct {
	*embedding.MockEmbedder
	calls atomic.Int32
	delay time.Duration
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return c.MockEmbedder.Embed(ctx, text)
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (failingBackend) DeletePrefix(context.Context, string) (int, error) {
	return 0, errors.New("connection refused")
}
func (failingBackend) Close() error { return nil }

func TestStore_EmbeddingCached(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(100))
	e := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(16)}

	first, err := s.Embedding(ctx, e, "adult anxiety")
	require.NoError(t, err)
	second, err := s.Embedding(ctx, e, "adult anxiety")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), e.calls.Load())

	_, err = s.Embedding(ctx, e, "child trauma")
	require.NoError(t, err)
	assert.Equal(t, int32(2), e.calls.Load())
}

func TestStore_EmbeddingSingleflight(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(100))
	e := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(16), delay: 50 * time.Millisecond}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Embedding(ctx, e, "same text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), e.calls.Load())
}

func TestStore_EmbeddingSharedAcrossDeadlines(t *testing.T) {
	s := NewStore(NewMemoryBackend(100))
	e := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(16), delay: 50 * time.Millisecond}

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	shortErr := make(chan error, 1)
	go func() {
		_, err := s.Embedding(short, e, "shared referral text")
		shortErr <- err
	}()
	time.Sleep(5 * time.Millisecond)

	vec, err := s.Embedding(context.Background(), e, "shared referral text")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.ErrorIs(t, <-shortErr, context.DeadlineExceeded)
	assert.Equal(t, int32(1), e.calls.Load())

	// the shared result was cached even though the first caller gave up
	_, ok := s.get(context.Background(), "embedding", EmbeddingKey(e.ModelVersion(), "shared referral text"))
	assert.True(t, ok)
}

func TestStore_EmbeddingComputeTimeout(t *testing.T) {
	s := NewStore(NewMemoryBackend(100), WithComputeTimeout(10*time.Millisecond))
	e := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(16), delay: 30 * time.Millisecond}
	_, err := s.Embedding(context.Background(), e, "slow text")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_EmbeddingErrorPropagates(t *testing.T) {
	s := NewStore(NewMemoryBackend(10))
	_, err := s.Embedding(context.Background(), embedding.Unavailable{Dims: 4}, "x")
	assert.ErrorIs(t, err, embedding.ErrUnavailable)
}

func TestStore_BackendFailureIsMiss(t *testing.T) {
	s := NewStore(failingBackend{})
	e := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(16)}
	vec, err := s.Embedding(context.Background(), e, "anxiety")
	require.NoError(t, err)
	assert.Len(t, vec, 16)

	c := s.Corpus(context.Background(), "v1", func() *lexical.Corpus { return lexical.NewCorpus("v1", nil) })
	assert.Equal(t, "v1", c.Version)
}

func TestStore_CorpusOverRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(ctx, RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	s := NewStore(b, WithTTLs(time.Hour, time.Minute))

	pool := []*models.CandidateProfile{{ID: "a", Text: "anxiety depression"}, {ID: "b", Text: "trauma"}}
	builds := 0
	build := func() *lexical.Corpus {
		builds++
		return lexical.NewCorpus("v1", pool)
	}
	first := s.Corpus(ctx, "v1", build)
	second := s.Corpus(ctx, "v1", build)
	assert.Equal(t, 1, builds)
	assert.Equal(t, first.DocFreqs, second.DocFreqs)
	assert.InDelta(t, first.AvgLength, second.AvgLength, 1e-12)
	assert.True(t, mr.Exists(CorpusKey("v1")))

	mr.FastForward(2 * time.Minute)
	s.Corpus(ctx, "v1", build)
	assert.Equal(t, 2, builds, "expired corpus is rebuilt")
}

func TestStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(100))
	e := embedding.NewMockEmbedder(8)
	_, err := s.Embedding(ctx, e, "one")
	require.NoError(t, err)
	s.PutEmbedding(ctx, e.ModelVersion(), "two", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	s.Corpus(ctx, "v1", func() *lexical.Corpus { return lexical.NewCorpus("v1", nil) })

	n, err := s.Invalidate(ctx, TableEmbedding)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Invalidate(ctx, TableAll)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Invalidate(ctx, "vectors")
	assert.Error(t, err)
}

func TestEmbeddingKey(t *testing.T) {
	assert.Equal(t, EmbeddingKey("m1", "text"), EmbeddingKey("m1", "text"))
	assert.NotEqual(t, EmbeddingKey("m1", "text"), EmbeddingKey("m2", "text"))
	assert.Equal(t, "bm25:abc", CorpusKey("abc"))
}
