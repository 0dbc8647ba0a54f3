package ranking

import (
	"math"

	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/pkg/utils"
)

// SpecialismFeature is the fraction of referral specialisms the candidate covers.
type SpecialismFeature struct{}

func (SpecialismFeature) Name() string { return FeatureSpecialism }

// Score returns 1 when the referral names no specialisms.
func (SpecialismFeature) Score(ref *models.Referral, c *models.CandidateProfile) float64 {
	want := utils.NormalizeTags(ref.Specialisms)
	if len(want) == 0 {
		return 1
	}
	have := utils.TagSet(c.Specialisms)
	hits := 0
	for _, s := range want {
		if _, ok := have[s]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

// LanguageFeature is 1 when the candidate speaks every required language.
type LanguageFeature struct{}

func (LanguageFeature) Name() string { return FeatureLanguage }

func (LanguageFeature) Score(ref *models.Referral, c *models.CandidateProfile) float64 {
	have := utils.TagSet(c.Languages)
	for _, l := range utils.NormalizeTags(ref.RequiredLanguages) {
		if _, ok := have[l]; !ok {
			return 0
		}
	}
	return 1
}

// AgeGroupFeature is 1 when the candidate works with the referral's patient age band.
type AgeGroupFeature struct{}

func (AgeGroupFeature) Name() string { return FeatureAgeGroup }

// Score returns 1 when the referral gives no age band and 0 when the candidate lists none.
func (AgeGroupFeature) Score(ref *models.Referral, c *models.CandidateProfile) float64 {
	want := utils.NormalizeTags([]string{ref.AgeGroup})
	if len(want) == 0 {
		return 1
	}
	if _, ok := utils.TagSet(c.AgeGroups)[want[0]]; ok {
		return 1
	}
	return 0
}

// ExperienceFeature maps years of experience onto [0,1]. Up to Cap years it
// grows linearly to 0.8; beyond Cap it approaches 1 with diminishing returns.
type ExperienceFeature struct {
	Cap int
}

func (ExperienceFeature) Name() string { return FeatureExperience }

func (f ExperienceFeature) Score(_ *models.Referral, c *models.CandidateProfile) float64 {
	return ExperienceCurve(c.YearsExperience, f.Cap)
}

// ExperienceCurve is the experience feature value of years against a cap.
func ExperienceCurve(years, capYears int) float64 {
	if years <= 0 || capYears <= 0 {
		return 0
	}
	y, c := float64(years), float64(capYears)
	if y <= c {
		return 0.8 * y / c
	}
	return 0.8 + 0.2*(1-math.Exp(-(y-c)/c))
}

// ModalityFeature rewards candidates whose offering matches the referral's
// preference exactly.
type ModalityFeature struct{}

func (ModalityFeature) Name() string { return FeatureModality }

// Score returns 1 when the candidate offers exactly the preferred modality,
// 0.5 when it is one of several offered, and 0 when it is not offered. For a
// referral without preference, offering both modalities scores 1.
func (ModalityFeature) Score(ref *models.Referral, c *models.CandidateProfile) float64 {
	remote := c.OffersModality(models.ModalityRemote)
	inPerson := c.OffersModality(models.ModalityInPerson)
	switch ref.Modality {
	case models.ModalityRemote, models.ModalityInPerson:
		if !c.OffersModality(ref.Modality) {
			return 0
		}
		if remote && inPerson {
			return 0.5
		}
		return 1
	default:
		if remote && inPerson {
			return 1
		}
		if remote || inPerson {
			return 0.5
		}
		return 0
	}
}
