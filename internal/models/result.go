package models

import "time"

// FeasibilityResult records the hard-constraint outcome for one candidate.
type FeasibilityResult struct {
	ReferralID  string   `json:"referral_id"`
	CandidateID string   `json:"candidate_id"`
	Eligible    bool     `json:"eligible"`
	Reasons     []string `json:"reasons,omitempty"`
}

// RetrievalScore holds the raw and normalized retrieval scores for a candidate.
type RetrievalScore struct {
	CandidateID string  `json:"candidate_id"`
	Lexical     float64 `json:"lexical"`
	Vector      float64 `json:"vector"`
	LexicalNorm float64 `json:"lexical_norm"`
	VectorNorm  float64 `json:"vector_norm"`
	Hybrid      float64 `json:"hybrid"`
}

// FeatureVector holds the structured match signals, each in [0,1].
type FeatureVector struct {
	Specialism float64 `json:"specialism"`
	Language   float64 `json:"language"`
	AgeGroup   float64 `json:"age_group"`
	Experience float64 `json:"experience"`
	Modality   float64 `json:"modality"`
}

// RerankedScore is the hybrid score adjusted by structured features.
type RerankedScore struct {
	CandidateID string        `json:"candidate_id"`
	Hybrid      float64       `json:"hybrid"`
	Features    FeatureVector `json:"features"`
	Score       float64       `json:"score"`
}

// CalibratedMatch is a reranked candidate with its calibrated match probability.
type CalibratedMatch struct {
	CandidateID string  `json:"candidate_id"`
	Reranked    float64 `json:"reranked"`
	Probability float64 `json:"probability"`
}

// DecisionKind is the terminal state of a routing decision.
type DecisionKind string

const (
	DecisionAutoMatch DecisionKind = "AUTO_MATCH"
	DecisionHighTouch DecisionKind = "HIGH_TOUCH"
)

// RoutingDecision is the single outcome of a matching run. It is never mutated
// after creation.
type RoutingDecision struct {
	ID           string       `json:"id"`
	ReferralID   string       `json:"referral_id"`
	Kind         DecisionKind `json:"kind"`
	CandidateIDs []string     `json:"candidate_ids"`
	Threshold    float64      `json:"threshold"`
	Urgency      Urgency      `json:"urgency,omitempty"`
	DecidedAt    time.Time    `json:"decided_at"`
}

// Factor is one line of an explanation.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Note         string  `json:"note"`
}

// Explanation is an auditable breakdown of a candidate's score.
type Explanation struct {
	ReferralID  string   `json:"referral_id"`
	CandidateID string   `json:"candidate_id"`
	Factors     []Factor `json:"factors"`
	Dominant    []string `json:"dominant"`
}

// Component names used in degraded conditions.
const (
	ComponentVector      = "vector"
	ComponentLexical     = "lexical"
	ComponentCalibration = "calibration"
	ComponentCache       = "cache"
)

// DegradedCondition records a fallback taken during a run. It is reported,
// never returned as an error.
type DegradedCondition struct {
	Component string `json:"component"`
	Reason    string `json:"reason"`
}

// MatchResult is the complete output of a matching run.
type MatchResult struct {
	Decision     *RoutingDecision    `json:"decision"`
	Matches      []CalibratedMatch   `json:"matches"`
	Explanations []Explanation       `json:"explanations"`
	Feasibility  []FeasibilityResult `json:"feasibility,omitempty"`
	Degraded     []DegradedCondition `json:"degraded,omitempty"`
	PoolVersion  string              `json:"pool_version"`
	// CalibrationVersion identifies the calibration model used for the run.
	CalibrationVersion string `json:"calibration_version"`
}

// IsDegraded reports whether the named component fell back during the run.
func (r *MatchResult) IsDegraded(component string) bool {
	for _, d := range r.Degraded {
		if d.Component == component {
			return true
		}
	}
	return false
}
