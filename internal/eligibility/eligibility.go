// Package eligibility derives a donor's donation eligibility from their
// medical and demographic attributes.
package eligibility

import (
	"fmt"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// Age bounds for donation, inclusive.
const (
	MinAge = 18
	MaxAge = 70
)

// Input is everything the evaluator looks at. Optional values are pointers.
type Input struct {
	BloodType         models.BloodType
	Genotype          models.Genotype
	HIV               models.ScreeningStatus
	HepatitisB        models.ScreeningStatus
	HepatitisC        models.ScreeningStatus
	DateOfBirth       *time.Time
	HasChronicIllness bool
	CooldownUntil     *time.Time
}

// Result is the verdict. Reasons lists every rule that applied; Permanent
// and Temporary split them by kind.
type Result struct {
	Status    models.EligibilityStatus
	Reasons   []string
	Permanent []string
	Temporary []string
	Age       *int
}

// Eligible reports whether the donor may donate now.
func (r Result) Eligible() bool {
	return r.Status == models.EligibilityEligible
}

// Evaluate applies every rule independently and derives the status:
// any permanent reason makes the donor ineligible, otherwise any temporary
// reason makes them temporarily ineligible.
func Evaluate(in Input, now time.Time) Result {
	var res Result

	if in.DateOfBirth != nil {
		age := AgeAt(*in.DateOfBirth, now)
		res.Age = &age
		if age < MinAge || age > MaxAge {
			res.Temporary = append(res.Temporary, fmt.Sprintf("Age must be between %d and %d years", MinAge, MaxAge))
		}
	}
	if in.HIV == models.ScreeningPositive {
		res.Permanent = append(res.Permanent, "HIV positive status")
	}
	if in.HepatitisB == models.ScreeningPositive {
		res.Permanent = append(res.Permanent, "Hepatitis B positive status")
	}
	if in.HepatitisC == models.ScreeningPositive {
		res.Permanent = append(res.Permanent, "Hepatitis C positive status")
	}
	if in.Genotype == models.GenotypeSS {
		res.Permanent = append(res.Permanent, "Sickle cell disease (SS genotype)")
	}
	if in.HasChronicIllness {
		res.Permanent = append(res.Permanent, "Chronic illness")
	}
	if in.CooldownUntil != nil && now.Before(*in.CooldownUntil) {
		res.Temporary = append(res.Temporary, "Recent donation - eligible after "+in.CooldownUntil.Format("2006-01-02"))
	}

	res.Reasons = append(append([]string{}, res.Permanent...), res.Temporary...)
	switch {
	case len(res.Permanent) > 0:
		res.Status = models.EligibilityIneligible
	case len(res.Temporary) > 0:
		res.Status = models.EligibilityTemporaryIneligible
	default:
		res.Status = models.EligibilityEligible
	}
	return res
}

// EvaluateDonor runs Evaluate on a donor record.
func EvaluateDonor(d *models.Donor, now time.Time) Result {
	return Evaluate(Input{
		BloodType:         d.BloodType,
		Genotype:          d.Genotype,
		HIV:               d.Screening.HIV,
		HepatitisB:        d.Screening.HepatitisB,
		HepatitisC:        d.Screening.HepatitisC,
		DateOfBirth:       d.DateOfBirth,
		HasChronicIllness: d.Screening.HasChronicIllness,
		CooldownUntil:     d.CooldownUntil,
	}, now)
}

// Apply recomputes and stores the donor's eligibility fields.
func Apply(d *models.Donor, now time.Time) Result {
	res := EvaluateDonor(d, now)
	d.Eligibility = res.Status
	d.EligibilityReasons = res.Reasons
	return res
}

// CooldownUntil returns the end of the cooldown following a donation.
func CooldownUntil(lastDonation time.Time) time.Time {
	return lastDonation.Add(models.CooldownPeriod)
}

// AgeAt returns completed years between dob and now.
func AgeAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
