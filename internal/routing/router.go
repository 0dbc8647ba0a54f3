// Package routing turns a calibrated ranking into a single AUTO_MATCH or
// HIGH_TOUCH decision.
package routing

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/models"
)

// decisionNamespace scopes decision ids derived with uuid.NewSHA1.
var decisionNamespace = uuid.MustParse("6f1c3a52-8d0e-4b8a-9a55-0d7f2e4c9b13")

// Clock returns the current time.
type Clock func() time.Time

// Router applies the per-urgency auto-match threshold.
type Router struct {
	cfg   *config.MatchingConfig
	clock Clock
}

// NewRouter returns a Router. A nil clock uses time.Now in UTC.
func NewRouter(cfg *config.MatchingConfig, clock Clock) (*Router, error) {
	if cfg == nil {
		return nil, models.NewConfigurationError("matching", "missing configuration")
	}
	if cfg.TopN <= 0 {
		return nil, models.NewConfigurationError("matching.top_n", "must be at least 1")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Router{cfg: cfg, clock: clock}, nil
}

// Route decides for a ranking ordered by reranked score. The top N form the
// match set when the first match's probability reaches the urgency threshold;
// otherwise they are suggested for manual review. An empty ranking is
// HIGH_TOUCH with no suggestions.
func (r *Router) Route(ref *models.Referral, poolVersion string, matches []models.CalibratedMatch) *models.RoutingDecision {
	return r.decide(ref, poolVersion, matches, true)
}

// Review always routes to HIGH_TOUCH with the top N suggestions. It is used
// when the ranking carries no retrieval signal.
func (r *Router) Review(ref *models.Referral, poolVersion string, matches []models.CalibratedMatch) *models.RoutingDecision {
	return r.decide(ref, poolVersion, matches, false)
}

func (r *Router) decide(ref *models.Referral, poolVersion string, matches []models.CalibratedMatch, allowAuto bool) *models.RoutingDecision {
	threshold := r.cfg.ThresholdFor(ref.Urgency)
	d := &models.RoutingDecision{
		ReferralID:   ref.ID,
		Kind:         models.DecisionHighTouch,
		CandidateIDs: []string{},
		Threshold:    threshold,
		Urgency:      ref.Urgency,
		DecidedAt:    r.clock(),
	}

	if len(matches) > 0 && allowAuto && matches[0].Probability >= threshold {
		d.Kind = models.DecisionAutoMatch
	}
	for _, m := range matches[:min(r.cfg.TopN, len(matches))] {
		d.CandidateIDs = append(d.CandidateIDs, m.CandidateID)
	}

	d.ID = DecisionID(d, poolVersion)
	return d
}

// DecisionID derives a stable id from the decision's referral, the pool
// version it was ranked against, its outcome and its time.
func DecisionID(d *models.RoutingDecision, poolVersion string) string {
	key := strings.Join([]string{
		d.ReferralID,
		poolVersion,
		string(d.Kind),
		strings.Join(d.CandidateIDs, ","),
		d.DecidedAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	return uuid.NewSHA1(decisionNamespace, []byte(key)).String()
}
