package catalogue

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/referwell/matcher/internal/models"
)

// Pool is an immutable view of the candidate catalogue. Profiles are ordered
// by id and must not be modified.
type Pool struct {
	Version    string
	Candidates []*models.CandidateProfile
	byID       map[string]*models.CandidateProfile
}

// Get returns the profile with id, if present.
func (p *Pool) Get(id string) (*models.CandidateProfile, bool) {
	c, ok := p.byID[id]
	return c, ok
}

// Len returns the number of candidates in the pool.
func (p *Pool) Len() int {
	return len(p.Candidates)
}

func newPool(byID map[string]*models.CandidateProfile) *Pool {
	list := make([]*models.CandidateProfile, 0, len(byID))
	for _, c := range byID {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return &Pool{Version: PoolVersion(list), Candidates: list, byID: byID}
}

// Snapshot publishes the current Pool. Writers build a new Pool and swap it
// in, so a reader holding a Pool never sees a partial update.
type Snapshot struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Pool]
}

// NewSnapshot returns a snapshot holding copies of candidates.
func NewSnapshot(candidates []*models.CandidateProfile) *Snapshot {
	s := &Snapshot{}
	s.Replace(candidates)
	return s
}

// Current returns the pool to use for one run.
func (s *Snapshot) Current() *Pool {
	return s.current.Load()
}

// Replace swaps in a pool built from copies of candidates.
func (s *Snapshot) Replace(candidates []*models.CandidateProfile) {
	byID := make(map[string]*models.CandidateProfile, len(candidates))
	for _, c := range candidates {
		if c != nil {
			byID[c.ID] = c.Clone()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(newPool(byID))
}

// Put swaps in a pool with c added or replaced.
func (s *Snapshot) Put(c *models.CandidateProfile) *Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.copyCurrent()
	byID[c.ID] = c.Clone()
	p := newPool(byID)
	s.current.Store(p)
	return p
}

// Remove swaps in a pool without id. It reports whether id was present.
func (s *Snapshot) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.copyCurrent()
	if _, ok := byID[id]; !ok {
		return false
	}
	delete(byID, id)
	s.current.Store(newPool(byID))
	return true
}

func (s *Snapshot) copyCurrent() map[string]*models.CandidateProfile {
	cur := s.current.Load()
	byID := make(map[string]*models.CandidateProfile, len(cur.byID)+1)
	for id, c := range cur.byID {
		byID[id] = c
	}
	return byID
}

// PoolVersion fingerprints the lexical content of a pool: the sorted candidate
// ids and their profile texts. Corpus statistics are cached under it.
func PoolVersion(pool []*models.CandidateProfile) string {
	ids := make([]int, 0, len(pool))
	for i, c := range pool {
		if c != nil {
			ids = append(ids, i)
		}
	}
	sort.SliceStable(ids, func(a, b int) bool { return pool[ids[a]].ID < pool[ids[b]].ID })

	h := sha256.New()
	for _, i := range ids {
		c := pool[i]
		h.Write([]byte(c.ID))
		h.Write([]byte{0})
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
