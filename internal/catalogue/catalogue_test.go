package catalogue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/storage"
)

func profile(id, text string) *models.CandidateProfile {
	return &models.CandidateProfile{
		ID:           id,
		Text:         text,
		Specialisms:  []string{"anxiety"},
		Languages:    []string{"en"},
		Modalities:   []models.Modality{models.ModalityRemote},
		ServiceTypes: []models.ServiceType{models.ServiceNHS},
		Location:     &models.GeoPoint{Lat: 51.5, Lon: -0.12},
		Capacity:     2,
	}
}

func TestSQLiteStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "catalogue.db"))
	require.NoError(t, err)
	defer store.Close()

	c := profile("c1", "CBT for anxiety")
	c.Embedding = []float32{0.6, 0.8}
	c.EmbeddingModel = "mock-v1"
	c.Lexical = &models.LexicalEntry{TermFreqs: map[string]int{"cbt": 1, "for": 1, "anxiety": 1}, Length: 3}
	c.IndexedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, c))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c.Text, got.Text)
	assert.Equal(t, c.Embedding, got.Embedding)
	assert.Equal(t, c.Lexical, got.Lexical)
	assert.True(t, c.IndexedAt.Equal(got.IndexedAt))
	assert.Equal(t, c.Location, got.Location)

	c.Text = "EMDR for trauma"
	c.Embedding = nil
	require.NoError(t, store.Upsert(ctx, c))
	got, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "EMDR for trauma", got.Text)
	assert.Empty(t, got.Embedding)

	require.NoError(t, store.Upsert(ctx, profile("c0", "x")))
	list, err := store.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c0", list[0].ID)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, store.Delete(ctx, "c1"))
	_, err = store.Get(ctx, "c1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(store.Delete(ctx, "c1"), storage.ErrNotFound))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSnapshot_copyOnWrite(t *testing.T) {
	s := NewSnapshot([]*models.CandidateProfile{profile("b", "two"), profile("a", "one")})
	before := s.Current()
	require.Equal(t, 2, before.Len())
	assert.Equal(t, "a", before.Candidates[0].ID)

	updated := profile("a", "one updated")
	after := s.Put(updated)
	updated.Text = "mutated by caller"

	assert.Equal(t, "one", before.Candidates[0].Text, "old pool unchanged")
	got, ok := after.Get("a")
	require.True(t, ok)
	assert.Equal(t, "one updated", got.Text)
	assert.NotEqual(t, before.Version, after.Version)

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Equal(t, 1, s.Current().Len())
	assert.Equal(t, 2, after.Len())
}

func TestSnapshot_concurrentReadersSeeWholePools(t *testing.T) {
	s := NewSnapshot(nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Put(profile(string(rune('a'+i%26)), "text"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p := s.Current()
			assert.Equal(t, PoolVersion(p.Candidates), p.Version)
		}
	}()
	wg.Wait()
}

func TestPoolVersion(t *testing.T) {
	a := []*models.CandidateProfile{profile("a", "one"), profile("b", "two")}
	b := []*models.CandidateProfile{profile("b", "two"), profile("a", "one"), nil}
	assert.Equal(t, PoolVersion(a), PoolVersion(b), "order independent")

	c := []*models.CandidateProfile{profile("a", "one"), profile("b", "two!")}
	assert.NotEqual(t, PoolVersion(a), PoolVersion(c), "text sensitive")

	d := profile("a", "one")
	d.Capacity = 0
	assert.Equal(t, PoolVersion(a), PoolVersion([]*models.CandidateProfile{d, profile("b", "two")}),
		"non-text fields do not affect corpus statistics")
}
