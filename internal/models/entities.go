package models

import (
	"time"
)

// CooldownPeriod is the mandatory wait between two donations.
const CooldownPeriod = 56 * 24 * time.Hour

// Location is where a donor or hospital is based.
type Location struct {
	City      string   `json:"city"`
	State     string   `json:"state"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// BankDetails holds a donor's payout account.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// MedicalScreening is the self-reported infectious-disease screening.
type MedicalScreening struct {
	HIV               ScreeningStatus `json:"hiv"`
	HepatitisB        ScreeningStatus `json:"hepatitis_b"`
	HepatitisC        ScreeningStatus `json:"hepatitis_c"`
	HasChronicIllness bool            `json:"has_chronic_illness,omitempty"`
}

// VerificationEvidence is what a successful KYC run leaves on the entity.
type VerificationEvidence struct {
	Identifier      string                 `json:"identifier,omitempty"`
	ProviderPayload map[string]interface{} `json:"provider_payload,omitempty"`
	SelfieURL       string                 `json:"selfie_url,omitempty"`
	DocumentURL     string                 `json:"document_url,omitempty"`
	FaceMatch       bool                   `json:"face_match,omitempty"`
	Confidence      float64                `json:"confidence,omitempty"`
	VerifiedAt      time.Time              `json:"verified_at"`
}

// Donor is a registered blood donor.
type Donor struct {
	DonorID            string                `json:"donor_id"`
	Phone              string                `json:"phone"`
	FullName           string                `json:"full_name"`
	BloodType          BloodType             `json:"blood_type"`
	Genotype           Genotype              `json:"genotype"`
	Screening          MedicalScreening      `json:"screening"`
	DateOfBirth        *time.Time            `json:"date_of_birth,omitempty"`
	Location           Location              `json:"location"`
	Bank               BankDetails           `json:"bank"`
	IDDocumentURL      string                `json:"id_document_url,omitempty"`
	Eligibility        EligibilityStatus     `json:"eligibility"`
	EligibilityReasons []string              `json:"eligibility_reasons,omitempty"`
	Available          bool                  `json:"available"`
	Verification       VerificationState     `json:"verification"`
	Evidence           *VerificationEvidence `json:"evidence,omitempty"`
	TotalDonations     int                   `json:"total_donations"`
	LastDonationAt     *time.Time            `json:"last_donation_at,omitempty"`
	CooldownUntil      *time.Time            `json:"cooldown_until,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// Verified reports whether KYC completed for the donor.
func (d *Donor) Verified() bool {
	return d.Verification == VerificationVerified
}

// Hospital is a registered hospital account.
type Hospital struct {
	Reference     string                `json:"reference"`
	Phone         string                `json:"phone"`
	Name          string                `json:"name"`
	LicenseNumber string                `json:"license_number"`
	Contact       string                `json:"contact"`
	Address       string                `json:"address"`
	AdminName     string                `json:"admin_name"`
	AdminPhone    string                `json:"admin_phone"`
	PictureURLs   []string              `json:"picture_urls,omitempty"`
	Status        HospitalStatus        `json:"status"`
	Credits       int                   `json:"credits"`
	Evidence      *VerificationEvidence `json:"evidence,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Request is a hospital's blood request.
type Request struct {
	RequestID    string        `json:"request_id"`
	HospitalRef  string        `json:"hospital_ref"`
	HospitalName string        `json:"hospital_name,omitempty"`
	BloodType    BloodType     `json:"blood_type"`
	Genotype     Genotype      `json:"genotype"`
	UnitsNeeded  int           `json:"units_needed"`
	UnitsPledged int           `json:"units_pledged"`
	Urgency      Urgency       `json:"urgency"`
	Status       RequestStatus `json:"status"`
	Deadline     time.Time     `json:"deadline"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Remaining returns the units still needed, never negative.
func (r *Request) Remaining() int {
	if r.UnitsPledged >= r.UnitsNeeded {
		return 0
	}
	return r.UnitsNeeded - r.UnitsPledged
}

// DeriveRequestStatus computes a request's status from its pledge counters
// and deadline. Cancelled is terminal and never derived away.
func DeriveRequestStatus(current RequestStatus, unitsPledged, unitsNeeded int, deadline, now time.Time) RequestStatus {
	if current == RequestCancelled {
		return RequestCancelled
	}
	if !deadline.IsZero() && now.After(deadline) {
		return RequestExpired
	}
	switch {
	case unitsPledged <= 0:
		return RequestActive
	case unitsPledged < unitsNeeded:
		return RequestPartiallyFulfilled
	default:
		return RequestFulfilled
	}
}

// Acceptance is a donor's pledge against a request.
type Acceptance struct {
	ID           string           `json:"id"`
	RequestID    string           `json:"request_id"`
	DonorID      string           `json:"donor_id"`
	DonorPhone   string           `json:"donor_phone"`
	UnitsPledged int              `json:"units_pledged"`
	Availability string           `json:"availability"`
	Status       AcceptanceStatus `json:"status"`
	PledgedAt    time.Time        `json:"pledged_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}
