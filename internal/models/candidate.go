package models

import "time"

// Availability is the catalogue availability status of a clinician.
type Availability string

const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityBusy        Availability = "busy"
	AvailabilityUnavailable Availability = "unavailable"
	AvailabilityOnLeave     Availability = "on_leave"
)

// LexicalEntry holds precomputed term statistics for a profile text.
type LexicalEntry struct {
	TermFreqs map[string]int `json:"term_freqs"`
	Length    int            `json:"length"`
}

// CandidateProfile is a clinician supplied by the catalogue context.
// Embedding and Lexical are written only through the reindex path.
type CandidateProfile struct {
	ID              string        `json:"id"`
	Text            string        `json:"text"`
	Specialisms     []string      `json:"specialisms,omitempty"`
	Languages       []string      `json:"languages,omitempty"`
	Modalities      []Modality    `json:"modalities,omitempty"`
	ServiceTypes    []ServiceType `json:"service_types,omitempty"`
	Location        *GeoPoint     `json:"location,omitempty"`
	RemoteOnly      bool          `json:"remote_only,omitempty"`
	Capacity        int           `json:"capacity"`
	YearsExperience int           `json:"years_experience,omitempty"`
	AgeGroups       []string      `json:"age_groups,omitempty"`
	// Availability empty is treated as available.
	Availability   Availability  `json:"availability,omitempty"`
	Embedding      []float32     `json:"embedding,omitempty"`
	EmbeddingModel string        `json:"embedding_model,omitempty"`
	Lexical        *LexicalEntry `json:"lexical,omitempty"`
	IndexedAt      time.Time     `json:"indexed_at,omitempty"`
}

// OffersModality reports whether the candidate delivers sessions in m.
// Remote-only candidates offer remote sessions only, whatever Modalities says.
func (c *CandidateProfile) OffersModality(m Modality) bool {
	if c.RemoteOnly {
		return m == ModalityRemote
	}
	for _, have := range c.Modalities {
		if have == m {
			return true
		}
	}
	return false
}

// OffersService reports whether the candidate provides service type s.
func (c *CandidateProfile) OffersService(s ServiceType) bool {
	for _, have := range c.ServiceTypes {
		if have == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the profile.
func (c *CandidateProfile) Clone() *CandidateProfile {
	out := *c
	out.Specialisms = append([]string(nil), c.Specialisms...)
	out.Languages = append([]string(nil), c.Languages...)
	out.Modalities = append([]Modality(nil), c.Modalities...)
	out.ServiceTypes = append([]ServiceType(nil), c.ServiceTypes...)
	out.AgeGroups = append([]string(nil), c.AgeGroups...)
	out.Embedding = append([]float32(nil), c.Embedding...)
	if c.Location != nil {
		loc := *c.Location
		out.Location = &loc
	}
	if c.Lexical != nil {
		tf := make(map[string]int, len(c.Lexical.TermFreqs))
		for k, v := range c.Lexical.TermFreqs {
			tf[k] = v
		}
		out.Lexical = &LexicalEntry{TermFreqs: tf, Length: c.Lexical.Length}
	}
	return &out
}
