// Package testutil provides common test utilities and helpers for BloodLink tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/store"
)

// Now is the fixed instant tests run at.
var Now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// NewSQLiteStore opens a throwaway SQLite store that is removed when the test ends.
func NewSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "bloodlink_test_")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(tempDir, "test.db")))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Clock is a manually advanced time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at Now.
func NewClock() *Clock {
	return &Clock{now: Now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FixedSource is a deterministic util.IntSource that always returns the
// same value modulo n.
type FixedSource int

// IntN returns the fixed value reduced modulo n.
func (f FixedSource) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return int(f) % n
}

// VerifiedDonor returns a verified, available, eligible donor record.
func VerifiedDonor(phone, donorID string, bt models.BloodType) *models.Donor {
	return &models.Donor{
		DonorID:   donorID,
		Phone:     phone,
		FullName:  "Ada Obi",
		BloodType: bt,
		Genotype:  models.GenotypeAA,
		Screening: models.MedicalScreening{
			HIV:        models.ScreeningNegative,
			HepatitisB: models.ScreeningNegative,
			HepatitisC: models.ScreeningNegative,
		},
		Location:     models.Location{City: "Ikeja", State: "Lagos", Country: "Nigeria"},
		Bank:         models.BankDetails{BankName: "GTBANK", AccountNumber: "0123456789", AccountName: "ADA OBI"},
		Eligibility:  models.EligibilityEligible,
		Available:    true,
		Verification: models.VerificationVerified,
		CreatedAt:    Now,
		UpdatedAt:    Now,
	}
}

// ApprovedHospital returns an approved hospital record.
func ApprovedHospital(phone, ref string) *models.Hospital {
	return &models.Hospital{
		Reference:     ref,
		Phone:         phone,
		Name:          "Lagos General Hospital",
		LicenseNumber: "LIC-" + strings.TrimPrefix(ref, "HOS-"),
		Contact:       "info@lgh.ng",
		Address:       "1 Marina Road, Lagos",
		AdminName:     "Bola Ade",
		AdminPhone:    "+2348011111111",
		Status:        models.HospitalApproved,
		CreatedAt:     Now,
		UpdatedAt:     Now,
	}
}

// MustCreateDonor inserts a donor or fails the test.
func MustCreateDonor(t *testing.T, s store.Store, d *models.Donor) {
	t.Helper()
	if err := s.CreateDonor(t.Context(), d); err != nil {
		t.Fatalf("CreateDonor(%s) failed: %v", d.Phone, err)
	}
}

// MustCreateHospital inserts a hospital or fails the test.
func MustCreateHospital(t *testing.T, s store.Store, h *models.Hospital) {
	t.Helper()
	if err := s.CreateHospital(t.Context(), h); err != nil {
		t.Fatalf("CreateHospital(%s) failed: %v", h.Phone, err)
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateFormRequest creates a POST request with a url-encoded form body,
// the way Twilio delivers webhooks.
func CreateFormRequest(t *testing.T, target string, form url.Values) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewBufferString(form.Encode()))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}
