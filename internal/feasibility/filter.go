// Package feasibility evaluates the hard constraints a candidate must satisfy
// before it can be scored for a referral.
package feasibility

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/geo/s2"
	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/pkg/utils"
)

// EarthRadiusKM is the mean Earth radius used for great-circle distances.
const EarthRadiusKM = 6371.0088

// Reason codes. Each recorded reason starts with one of these followed by ": ".
const (
	ReasonCapacity     = "capacity"
	ReasonAvailability = "availability"
	ReasonServiceType  = "service_type"
	ReasonModality     = "modality"
	ReasonRadius       = "radius"
	ReasonLanguage     = "language"
)

// Filter applies the hard constraints with a fixed search radius.
type Filter struct {
	radiusKM float64
	logger   *zap.Logger
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Filter) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFilter returns a Filter. It fails with a ConfigurationError when the radius is unset.
func NewFilter(radiusKM float64, opts ...Option) (*Filter, error) {
	if radiusKM <= 0 || !utils.IsFinite(radiusKM) {
		return nil, models.NewConfigurationError("matching.radius_km", "must be set to a positive number")
	}
	f := &Filter{radiusKM: radiusKM, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Result is the outcome of evaluating a pool.
type Result struct {
	// Eligible candidates ordered by id ascending.
	Eligible []*models.CandidateProfile
	// Results has one entry per pool candidate, ordered by id ascending.
	Results []models.FeasibilityResult
}

// Evaluate checks every candidate in pool against the referral. All constraints
// are evaluated for every candidate so the reasons are complete. The pool is not
// modified.
func (f *Filter) Evaluate(ref *models.Referral, pool []*models.CandidateProfile) (*Result, error) {
	if ref.RequiresInPerson() && ref.Location == nil {
		return nil, models.NewValidationError("referral.location", "required for in-person referrals")
	}
	if ref.Location != nil {
		if err := ref.Location.Validate(); err != nil {
			return nil, models.NewValidationError("referral.location", err.Error())
		}
	}
	sorted := make([]*models.CandidateProfile, 0, len(pool))
	for _, c := range pool {
		if c != nil {
			sorted = append(sorted, c)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	required := utils.TagSet(ref.RequiredLanguages)
	out := &Result{
		Eligible: make([]*models.CandidateProfile, 0, len(sorted)),
		Results:  make([]models.FeasibilityResult, 0, len(sorted)),
	}
	for _, c := range sorted {
		reasons, err := f.check(ref, c, required)
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, models.FeasibilityResult{
			ReferralID:  ref.ID,
			CandidateID: c.ID,
			Eligible:    len(reasons) == 0,
			Reasons:     reasons,
		})
		if len(reasons) == 0 {
			out.Eligible = append(out.Eligible, c)
		}
	}
	f.logger.Debug("feasibility evaluated",
		zap.String("referral_id", ref.ID),
		zap.Int("pool", len(sorted)),
		zap.Int("eligible", len(out.Eligible)))
	return out, nil
}

func (f *Filter) check(ref *models.Referral, c *models.CandidateProfile, required map[string]struct{}) ([]string, error) {
	var reasons []string
	add := func(code, format string, args ...any) {
		reasons = append(reasons, code+": "+fmt.Sprintf(format, args...))
	}

	if c.Capacity <= 0 {
		add(ReasonCapacity, "no remaining capacity (%d)", c.Capacity)
	}
	if c.Availability != "" && c.Availability != models.AvailabilityAvailable {
		add(ReasonAvailability, "candidate is %s", c.Availability)
	}
	if !serviceCompatible(ref.ServiceType, c) {
		add(ReasonServiceType, "%s not offered", ref.ServiceType)
	}
	if !modalityCompatible(ref.Modality, c) {
		add(ReasonModality, "%s not offered", ref.Modality)
	}
	if ref.RequiresInPerson() && !c.RemoteOnly {
		if c.Location == nil {
			add(ReasonRadius, "candidate has no location")
		} else {
			if err := c.Location.Validate(); err != nil {
				return nil, models.NewValidationError("candidate["+c.ID+"].location", err.Error())
			}
			if d := Distance(*ref.Location, *c.Location); d > f.radiusKM {
				add(ReasonRadius, "%.1f km exceeds %.1f km", d, f.radiusKM)
			}
		}
	}
	if len(required) > 0 && !overlaps(required, c.Languages) {
		add(ReasonLanguage, "none of %s spoken", strings.Join(utils.NormalizeTags(ref.RequiredLanguages), ","))
	}
	return reasons, nil
}

func serviceCompatible(want models.ServiceType, c *models.CandidateProfile) bool {
	if want == "" || want == models.ServiceEither {
		return true
	}
	return c.OffersService(want)
}

func modalityCompatible(want models.Modality, c *models.CandidateProfile) bool {
	if want == "" || want == models.ModalityEither {
		return true
	}
	return c.OffersModality(want)
}

func overlaps(set map[string]struct{}, tags []string) bool {
	for t := range utils.TagSet(tags) {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b models.GeoPoint) float64 {
	pa := s2.LatLngFromDegrees(a.Lat, a.Lon)
	pb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return pa.Distance(pb).Radians() * EarthRadiusKM
}

// HasReason reports whether reasons contains the given reason code.
func HasReason(reasons []string, code string) bool {
	for _, r := range reasons {
		if strings.HasPrefix(r, code+":") {
			return true
		}
	}
	return false
}
