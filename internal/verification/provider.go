// Package verification runs identity checks for donors (NIN lookup, selfie,
// ID document, face comparison) and hospitals (company registry lookup)
// as bounded-retry conversation steps.
package verification

import (
	"context"
	"errors"
)

// Defaults for the verification state machine.
const (
	MaxAttempts       = 3
	MinFaceConfidence = 98.0
	MaxMediaBytes     = 5 << 20
)

var (
	// ErrMediaRejected is returned when an attachment is not an image.
	ErrMediaRejected = errors.New("only image files are accepted")
	// ErrMediaTooLarge is returned when an attachment exceeds MaxMediaBytes.
	ErrMediaTooLarge = errors.New("file is larger than 5MB")
	// ErrProviderUnavailable wraps transport-level KYC provider failures.
	ErrProviderUnavailable = errors.New("verification service unavailable")
)

// NINResult is the outcome of a National Identification Number lookup.
type NINResult struct {
	Valid   bool
	Message string
	Payload map[string]interface{}
}

// FaceResult is the outcome of a selfie / ID comparison.
type FaceResult struct {
	Match      bool
	Confidence float64
	Payload    map[string]interface{}
}

// Verified reports whether the comparison clears the confidence threshold.
func (f *FaceResult) Verified(minConfidence float64) bool {
	return f != nil && f.Match && f.Confidence >= minConfidence
}

// Company is one registry entry returned by a company lookup.
type Company struct {
	RCNumber     string
	ApprovedName string
	Status       string
}

// CompanyResult is the outcome of a company registry lookup.
type CompanyResult struct {
	Verified  bool
	Message   string
	Companies []Company
	Payload   map[string]interface{}
}

// Provider is an external KYC service. A returned error means the check
// could not be performed; a negative verdict is reported in the result.
type Provider interface {
	VerifyNIN(ctx context.Context, nin string) (*NINResult, error)
	CompareFaces(ctx context.Context, selfieURL, documentURL string) (*FaceResult, error)
	VerifyCompany(ctx context.Context, rcNumber, companyName string) (*CompanyResult, error)
}
