package verification

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a scripted Provider for tests.
type MockProvider struct {
	mu         sync.Mutex
	NIN        *NINResult
	NINErr     error
	Face       *FaceResult
	FaceErr    error
	Company    *CompanyResult
	CompanyErr error
	Calls      []string
}

// NewMockProvider returns a provider that approves everything.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		NIN:  &NINResult{Valid: true, Payload: map[string]interface{}{"first_name": "ADA"}},
		Face: &FaceResult{Match: true, Confidence: 99.5},
		Company: &CompanyResult{
			Verified:  true,
			Message:   "Hospital verification successful",
			Companies: []Company{{RCNumber: "RC123456", ApprovedName: "LAGOS GENERAL HOSPITAL LTD", Status: "ACTIVE"}},
		},
	}
}

func (m *MockProvider) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// VerifyNIN returns the scripted NIN result.
func (m *MockProvider) VerifyNIN(ctx context.Context, nin string) (*NINResult, error) {
	m.record("nin:" + nin)
	return m.NIN, m.NINErr
}

// CompareFaces returns the scripted face result.
func (m *MockProvider) CompareFaces(ctx context.Context, selfieURL, documentURL string) (*FaceResult, error) {
	m.record("face")
	return m.Face, m.FaceErr
}

// VerifyCompany returns the scripted company result.
func (m *MockProvider) VerifyCompany(ctx context.Context, rcNumber, companyName string) (*CompanyResult, error) {
	m.record("cac:" + rcNumber)
	return m.Company, m.CompanyErr
}

// MockDocuments is an in-memory DocumentStore.
type MockDocuments struct {
	mu      sync.Mutex
	Uploads map[string][]byte
	Err     error
}

// NewMockDocuments creates an empty document store.
func NewMockDocuments() *MockDocuments {
	return &MockDocuments{Uploads: make(map[string][]byte)}
}

// Upload records the document and returns a fake URL.
func (m *MockDocuments) Upload(ctx context.Context, data []byte, ownerKey, kind, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	url := "https://docs.test/" + DocumentPath(ownerKey, kind, contentType, time.Unix(int64(len(m.Uploads)), 0))
	m.Uploads[url] = data
	return url, nil
}
