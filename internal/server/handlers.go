package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/cache"
	"github.com/referwell/matcher/internal/indexer"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type matchRequest struct {
	Referral *models.Referral `json:"referral"`
	// CandidateIDs restricts the pool to these catalogue entries. Empty means
	// the whole catalogue.
	CandidateIDs []string `json:"candidate_ids,omitempty"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Referral == nil {
		s.respondError(w, http.StatusBadRequest, "referral is required")
		return
	}
	pool := s.snapshot.Current()
	candidates := pool.Candidates
	if len(req.CandidateIDs) > 0 {
		candidates = make([]*models.CandidateProfile, 0, len(req.CandidateIDs))
		for _, id := range req.CandidateIDs {
			c, ok := pool.Get(id)
			if !ok {
				s.respondError(w, http.StatusBadRequest, "unknown candidate: "+id)
				return
			}
			candidates = append(candidates, c)
		}
	}
	s.logger.Debug("match request",
		zap.String("referral_id", req.Referral.ID), zap.Int("pool_size", len(candidates)))
	result, err := s.engine.Match(r.Context(), req.Referral, candidates)
	if err != nil {
		s.logger.Error("match failed", zap.String("referral_id", req.Referral.ID), zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxListLimit)
	candidates, err := s.store.List(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list candidates failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	total, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("count candidates failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": candidates,
		"total":      total,
		"offset":     offset,
		"limit":      limit,
	})
}

func (s *Server) handleReindexCandidate(w http.ResponseWriter, r *http.Request) {
	var input models.CandidateProfile
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("reindex candidate request", zap.String("candidate_id", input.ID))
	out, err := s.indexer.Reindex(r.Context(), &input)
	if err != nil {
		s.logger.Error("reindex failed", zap.String("candidate_id", input.ID), zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	status := indexer.ResultIndexed
	switch {
	case out.Reused:
		status = indexer.ResultSkipped
	case !out.Embedded:
		status = indexer.ResultLexical
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"id":           out.Candidate.ID,
		"status":       status,
		"pool_version": s.snapshot.Current().Version,
	})
}

type reindexAllRequest struct {
	BatchSize int  `json:"batch_size"`
	Force     bool `json:"force"`
}

func (s *Server) handleReindexAll(w http.ResponseWriter, r *http.Request) {
	var req reindexAllRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	stats, err := s.indexer.ReindexAll(r.Context(), req.BatchSize, req.Force)
	if err != nil {
		s.logger.Error("reindex all failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete candidate request", zap.String("candidate_id", id))
	if err := s.indexer.Delete(r.Context(), id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("deletion failed", zap.String("candidate_id", id), zap.Error(err))
		}
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHighTouchQueue(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		s.respondError(w, http.StatusNotImplemented, "decision store not configured")
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	queue, err := s.decisions.HighTouchQueue(r.Context(), limit)
	if err != nil {
		s.logger.Error("high-touch queue failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	if queue == nil {
		queue = []*models.RoutingDecision{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"decisions": queue, "count": len(queue)})
}

func (s *Server) handleRoutingStats(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		s.respondError(w, http.StatusNotImplemented, "decision store not configured")
		return
	}
	stats, err := s.decisions.RoutingStats(r.Context())
	if err != nil {
		s.logger.Error("routing stats failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExplanations(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		s.respondError(w, http.StatusNotImplemented, "decision store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	explanations, err := s.decisions.Explanations(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	if len(explanations) == 0 {
		s.respondError(w, http.StatusNotFound, "no explanations for decision")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"decision_id": id, "explanations": explanations})
}

type invalidateRequest struct {
	Table string `json:"table"`
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.respondError(w, http.StatusNotImplemented, "cache not configured")
		return
	}
	req := invalidateRequest{Table: string(cache.TableAll)}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	table := cache.Table(req.Table)
	switch table {
	case cache.TableEmbedding, cache.TableCorpus, cache.TableAll:
	default:
		s.respondError(w, http.StatusBadRequest, "unknown cache table: "+req.Table)
		return
	}
	removed, err := s.cache.Invalidate(r.Context(), table)
	if err != nil {
		s.logger.Error("cache invalidation failed", zap.String("table", req.Table), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"table": table, "removed": removed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pool := s.snapshot.Current()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"candidates":   pool.Len(),
		"pool_version": pool.Version,
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// respondFailure maps typed errors to status codes.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidationError(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
