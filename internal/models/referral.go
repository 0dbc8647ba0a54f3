// Package models defines core data structures for referrals, candidate profiles, and match results.
package models

import (
	"fmt"
	"math"
	"strings"
)

// ServiceType is the NHS/private preference of a referral or the offering of a candidate.
type ServiceType string

const (
	ServiceNHS     ServiceType = "nhs"
	ServicePrivate ServiceType = "private"
	// ServiceEither is only meaningful on a referral: any offering is acceptable.
	ServiceEither ServiceType = "either"
)

// Modality is how sessions are delivered.
type Modality string

const (
	ModalityRemote   Modality = "remote"
	ModalityInPerson Modality = "in_person"
	// ModalityEither is only meaningful on a referral.
	ModalityEither Modality = "either"
)

// Urgency is the priority tier of a referral. Routing thresholds may vary per tier.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Validate reports whether the point has finite, in-range coordinates.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return fmt.Errorf("non-finite coordinates (%v, %v)", p.Lat, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("coordinates out of range (%v, %v)", p.Lat, p.Lon)
	}
	return nil
}

// Referral is a patient referral supplied by the referral intake context.
// The matching core never mutates it.
type Referral struct {
	ID                string      `json:"id"`
	Text              string      `json:"text"`
	ServiceType       ServiceType `json:"service_type"`
	Modality          Modality    `json:"modality"`
	Location          *GeoPoint   `json:"location,omitempty"`
	RequiredLanguages []string    `json:"required_languages,omitempty"`
	Specialisms       []string    `json:"specialisms,omitempty"`
	// AgeGroup is the patient age band (e.g. "child", "adult"); empty means unspecified.
	AgeGroup string  `json:"age_group,omitempty"`
	Urgency  Urgency `json:"urgency,omitempty"`
}

// RequiresInPerson reports whether the referral can only be served in person.
func (r *Referral) RequiresInPerson() bool {
	return r.Modality == ModalityInPerson
}

// Validate checks that the referral can be scored. It does not apply defaults.
func (r *Referral) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("referral.id", "must not be empty")
	}
	if strings.TrimSpace(r.Text) == "" {
		return NewValidationError("referral.text", "must not be empty")
	}
	switch r.ServiceType {
	case ServiceNHS, ServicePrivate, ServiceEither, "":
	default:
		return NewValidationError("referral.service_type", fmt.Sprintf("unknown value %q", r.ServiceType))
	}
	switch r.Modality {
	case ModalityRemote, ModalityInPerson, ModalityEither, "":
	default:
		return NewValidationError("referral.modality", fmt.Sprintf("unknown value %q", r.Modality))
	}
	if r.RequiresInPerson() && r.Location == nil {
		return NewValidationError("referral.location", "required for in-person referrals")
	}
	if r.Location != nil {
		if err := r.Location.Validate(); err != nil {
			return NewValidationError("referral.location", err.Error())
		}
	}
	return nil
}
