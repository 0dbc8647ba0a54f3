package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referwell/matcher/internal/audit"
	"github.com/referwell/matcher/internal/cache"
	"github.com/referwell/matcher/internal/catalogue"
	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/embedding"
	"github.com/referwell/matcher/internal/indexer"
	"github.com/referwell/matcher/internal/matching"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/search"
	"github.com/referwell/matcher/internal/storage"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type testServer struct {
	srv     *Server
	handler http.Handler
}

func newTestServer(t *testing.T, withDecisions bool) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "matcher.db"), catalogue.Migration, audit.Migration)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := catalogue.NewSQLiteStoreFromDB(ctx, db)
	require.NoError(t, err)
	sink, err := audit.NewSQLiteSinkFromDB(ctx, db)
	require.NoError(t, err)

	cacheStore := cache.NewStore(cache.NewMemoryBackend(100))
	embedder := embedding.NewMockEmbedder(64)
	snapshot := catalogue.NewSnapshot(nil)
	idx := indexer.NewIndexer(store, snapshot, cacheStore, embedder,
		indexer.WithClock(func() time.Time { return fixedNow }))

	cfg := config.DefaultMatchingConfig()
	// Nothing short of a perfect score auto-matches, so every test decision is HIGH_TOUCH.
	cfg.AutoThreshold = 1.0
	engine, err := matching.NewEngine(cfg, search.NewEngine(cacheStore, embedder), nil,
		matching.WithSink(sink),
		matching.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	var decisions DecisionStore
	if withDecisions {
		decisions = sink
	}
	srv := NewServer(engine, idx, snapshot, store, decisions, cacheStore, &config.ServerConfig{Port: 8080}, nil)
	return &testServer{srv: srv, handler: srv.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func remoteClinician(id string) *models.CandidateProfile {
	return &models.CandidateProfile{
		ID:              id,
		Text:            "CBT for adult anxiety and panic",
		Specialisms:     []string{"anxiety"},
		Languages:       []string{"en"},
		Modalities:      []models.Modality{models.ModalityRemote},
		Capacity:        2,
		YearsExperience: 6,
	}
}

func traumaReferral() *models.Referral {
	return &models.Referral{
		ID:          "ref-42",
		Text:        "adult with panic attacks after a car accident",
		Modality:    models.ModalityRemote,
		Specialisms: []string{"trauma"},
		Urgency:     models.UrgencyHigh,
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), w.Body.String())
}

func TestCandidateLifecycle(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodPost, "/api/v1/candidates", remoteClinician("c1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]string
	decode(t, w, &created)
	assert.Equal(t, "c1", created["id"])
	assert.Equal(t, indexer.ResultIndexed, created["status"])
	assert.NotEmpty(t, created["pool_version"])

	w = ts.do(t, http.MethodPost, "/api/v1/candidates", remoteClinician("c1"))
	require.Equal(t, http.StatusCreated, w.Code)
	decode(t, w, &created)
	assert.Equal(t, indexer.ResultSkipped, created["status"])

	w = ts.do(t, http.MethodGet, "/api/v1/candidates/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.CandidateProfile
	decode(t, w, &got)
	assert.Equal(t, "c1", got.ID)
	assert.Len(t, got.Embedding, 64)
	assert.True(t, fixedNow.Equal(got.IndexedAt), "indexed_at = %v", got.IndexedAt)

	w = ts.do(t, http.MethodGet, "/api/v1/candidates?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Candidates []models.CandidateProfile `json:"candidates"`
		Total      int64                     `json:"total"`
	}
	decode(t, w, &list)
	assert.Equal(t, int64(1), list.Total)
	assert.Len(t, list.Candidates, 1)

	w = ts.do(t, http.MethodDelete, "/api/v1/candidates/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/candidates/c1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/v1/candidates/c1", nil).Code)
}

func TestReindexCandidate_invalid(t *testing.T) {
	ts := newTestServer(t, true)

	bad := remoteClinician("")
	w := ts.do(t, http.MethodPost, "/api/v1/candidates", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/candidates", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCandidates_badParams(t *testing.T) {
	ts := newTestServer(t, true)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/candidates?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/candidates?offset=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/candidates?limit=many", nil).Code)
}

func TestReindexAll(t *testing.T) {
	ts := newTestServer(t, true)
	for _, id := range []string{"c1", "c2"} {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/candidates", remoteClinician(id)).Code)
	}

	w := ts.do(t, http.MethodPost, "/api/v1/candidates/reindex", map[string]interface{}{"force": true, "batch_size": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats indexer.Stats
	decode(t, w, &stats)
	assert.Equal(t, indexer.Stats{Total: 2, Updated: 2}, stats)

	w = ts.do(t, http.MethodPost, "/api/v1/candidates/reindex", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &stats)
	assert.Equal(t, indexer.Stats{Total: 2, Skipped: 2}, stats)
}

func TestMatch_routesAndPersistsDecision(t *testing.T) {
	ts := newTestServer(t, true)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/candidates", remoteClinician("c1")).Code)

	w := ts.do(t, http.MethodPost, "/api/v1/match", matchRequest{Referral: traumaReferral()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.MatchResult
	decode(t, w, &result)
	require.NotNil(t, result.Decision)
	assert.Equal(t, "ref-42", result.Decision.ReferralID)
	assert.Equal(t, models.DecisionHighTouch, result.Decision.Kind)
	assert.Equal(t, []string{"c1"}, result.Decision.CandidateIDs)
	assert.Equal(t, ts.srv.snapshot.Current().Version, result.PoolVersion)
	require.Len(t, result.Matches, 1)
	require.Len(t, result.Explanations, 1)

	w = ts.do(t, http.MethodGet, "/api/v1/queue/high-touch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var queue struct {
		Decisions []models.RoutingDecision `json:"decisions"`
		Count     int                      `json:"count"`
	}
	decode(t, w, &queue)
	require.Equal(t, 1, queue.Count)
	assert.Equal(t, result.Decision.ID, queue.Decisions[0].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/routing/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats audit.RoutingStats
	decode(t, w, &stats)
	assert.Equal(t, int64(1), stats.TotalReferrals)
	assert.Equal(t, int64(1), stats.HighTouchRouted)
	assert.InDelta(t, 100.0, stats.HighTouchPercentage, 1e-9)

	w = ts.do(t, http.MethodGet, "/api/v1/decisions/"+result.Decision.ID+"/explanations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var expl struct {
		Explanations []models.Explanation `json:"explanations"`
	}
	decode(t, w, &expl)
	require.Len(t, expl.Explanations, 1)
	assert.Equal(t, "c1", expl.Explanations[0].CandidateID)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/decisions/unknown/explanations", nil).Code)
}

func TestMatch_candidateSubset(t *testing.T) {
	ts := newTestServer(t, true)
	for _, id := range []string{"c1", "c2"} {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/candidates", remoteClinician(id)).Code)
	}

	w := ts.do(t, http.MethodPost, "/api/v1/match", matchRequest{Referral: traumaReferral(), CandidateIDs: []string{"c2"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.MatchResult
	decode(t, w, &result)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "c2", result.Matches[0].CandidateID)

	w = ts.do(t, http.MethodPost, "/api/v1/match", matchRequest{Referral: traumaReferral(), CandidateIDs: []string{"c9"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMatch_emptyCatalogueIsHighTouch(t *testing.T) {
	ts := newTestServer(t, true)
	w := ts.do(t, http.MethodPost, "/api/v1/match", matchRequest{Referral: traumaReferral()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.MatchResult
	decode(t, w, &result)
	assert.Equal(t, models.DecisionHighTouch, result.Decision.Kind)
	assert.Empty(t, result.Decision.CandidateIDs)
}

func TestMatch_badRequests(t *testing.T) {
	ts := newTestServer(t, true)
	tests := []struct {
		name string
		body interface{}
	}{
		{"missing referral", map[string]string{}},
		{"empty referral text", matchRequest{Referral: &models.Referral{ID: "r1"}}},
		{"in person without location", matchRequest{Referral: &models.Referral{ID: "r1", Text: "x", Modality: models.ModalityInPerson}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/match", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestDecisionEndpoints_notConfigured(t *testing.T) {
	ts := newTestServer(t, false)
	for _, path := range []string{"/api/v1/queue/high-touch", "/api/v1/routing/stats", "/api/v1/decisions/d1/explanations"} {
		assert.Equal(t, http.StatusNotImplemented, ts.do(t, http.MethodGet, path, nil).Code, path)
	}
}

func TestCacheInvalidate(t *testing.T) {
	ts := newTestServer(t, true)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/candidates", remoteClinician("c1")).Code)

	w := ts.do(t, http.MethodPost, "/api/v1/cache/invalidate", invalidateRequest{Table: "embedding"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Table   string `json:"table"`
		Removed int    `json:"removed"`
	}
	decode(t, w, &out)
	assert.Equal(t, "embedding", out.Table)
	assert.Equal(t, 1, out.Removed)

	w = ts.do(t, http.MethodPost, "/api/v1/cache/invalidate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &out)
	assert.Equal(t, "all", out.Table)

	w = ts.do(t, http.MethodPost, "/api/v1/cache/invalidate", invalidateRequest{Table: "sessions"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, true)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/candidates", remoteClinician("c1")).Code)

	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status      string `json:"status"`
		Candidates  int    `json:"candidates"`
		PoolVersion string `json:"pool_version"`
	}
	decode(t, w, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Candidates)
	assert.NotEmpty(t, health.PoolVersion)

	w = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "matcher_reindexed_total")
}

func TestRespondFailure(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, nil, nil, &config.ServerConfig{}, nil)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", models.NewValidationError("referral.text", "must not be empty"), http.StatusBadRequest},
		{"configuration", fmt.Errorf("run: %w", models.NewConfigurationError("matching.top_n", "must be at least 1")), http.StatusInternalServerError},
		{"not found", fmt.Errorf("candidate c1: %w", storage.ErrNotFound), http.StatusNotFound},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.respondFailure(w, tt.err)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}
