package models

import "strings"

// BloodType is one of the eight ABO/Rh groups.
type BloodType string

const (
	BloodTypeAPos  BloodType = "A+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeABPos BloodType = "AB+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeONeg  BloodType = "O-"
)

// AllBloodTypes lists blood types in menu order.
var AllBloodTypes = []BloodType{
	BloodTypeAPos, BloodTypeANeg, BloodTypeBPos, BloodTypeBNeg,
	BloodTypeOPos, BloodTypeONeg, BloodTypeABPos, BloodTypeABNeg,
}

// ParseBloodType accepts a literal blood type ("o+", "AB-") in any case.
func ParseBloodType(s string) (BloodType, bool) {
	candidate := BloodType(strings.ToUpper(strings.TrimSpace(s)))
	for _, bt := range AllBloodTypes {
		if bt == candidate {
			return bt, true
		}
	}
	return "", false
}

// Genotype is the hemoglobin genotype.
type Genotype string

const (
	GenotypeAA Genotype = "AA"
	GenotypeAS Genotype = "AS"
	GenotypeAC Genotype = "AC"
	GenotypeSS Genotype = "SS"
	GenotypeSC Genotype = "SC"
)

// AllGenotypes lists genotypes in menu order.
var AllGenotypes = []Genotype{GenotypeAA, GenotypeAS, GenotypeAC, GenotypeSS, GenotypeSC}

// ParseGenotype accepts a literal genotype in any case.
func ParseGenotype(s string) (Genotype, bool) {
	candidate := Genotype(strings.ToUpper(strings.TrimSpace(s)))
	for _, g := range AllGenotypes {
		if g == candidate {
			return g, true
		}
	}
	return "", false
}

// ScreeningStatus is the result of an infectious-disease screening.
type ScreeningStatus string

const (
	ScreeningNegative ScreeningStatus = "negative"
	ScreeningPositive ScreeningStatus = "positive"
	ScreeningImmune   ScreeningStatus = "immune"
	ScreeningUnknown  ScreeningStatus = "unknown"
)

// EligibilityStatus is the derived donation eligibility of a donor.
type EligibilityStatus string

const (
	EligibilityEligible            EligibilityStatus = "eligible"
	EligibilityTemporaryIneligible EligibilityStatus = "temporary_ineligible"
	EligibilityIneligible          EligibilityStatus = "ineligible"
)

// Role is the kind of actor behind a phone number.
type Role string

const (
	RoleNone      Role = ""
	RoleDonor     Role = "donor"
	RoleHospital  Role = "hospital"
	RoleAdmin     Role = "admin"
	RoleRecipient Role = "recipient"
)

// Urgency of a blood request. Rank orders urgencies for sorting.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// Rank returns 1 (low) through 4 (emergency), 0 for unknown values.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyEmergency:
		return 4
	default:
		return 0
	}
}

// Label is the capitalised display name.
func (u Urgency) Label() string {
	if u == "" {
		return ""
	}
	return strings.ToUpper(string(u[:1])) + string(u[1:])
}

// RequestStatus is the lifecycle state of a blood request.
type RequestStatus string

const (
	RequestCreated            RequestStatus = "created"
	RequestActive             RequestStatus = "active"
	RequestPartiallyFulfilled RequestStatus = "partially_fulfilled"
	RequestFulfilled          RequestStatus = "fulfilled"
	RequestCancelled          RequestStatus = "cancelled"
	RequestExpired            RequestStatus = "expired"
)

// OpenRequestStatuses are the statuses under which a request accepts pledges.
var OpenRequestStatuses = []RequestStatus{RequestActive, RequestPartiallyFulfilled}

// AcceptanceStatus is the lifecycle state of a pledge.
type AcceptanceStatus string

const (
	AcceptancePending   AcceptanceStatus = "pending"
	AcceptanceConfirmed AcceptanceStatus = "confirmed"
	AcceptanceCancelled AcceptanceStatus = "cancelled"
)

// HospitalStatus is the verification state of a hospital.
type HospitalStatus string

const (
	HospitalPending  HospitalStatus = "pending"
	HospitalApproved HospitalStatus = "approved"
	HospitalRejected HospitalStatus = "rejected"
)

// VerificationState tracks KYC progress on a durable donor record.
type VerificationState string

const (
	VerificationPending  VerificationState = "pending"
	VerificationVerified VerificationState = "verified"
	VerificationFailed   VerificationState = "failed"
)
