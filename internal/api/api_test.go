package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/BloodLink/internal/testutil"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantCode   int
		wantStatus string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"store up", map[string]Pinger{"store": testutil.NewSQLiteStore(t)}, http.StatusOK, "ok"},
		{
			"redis down",
			map[string]Pinger{"sessions": pingFunc(func(context.Context) error { return errors.New("refused") })},
			http.StatusServiceUnavailable,
			"error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(nil, tt.checks)
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)

			testutil.AssertHTTPStatus(t, tt.wantCode, rr.Code, "health")
			testutil.AssertJSONResponse(t, rr, tt.wantStatus)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(nil, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("expected default Go collectors in metrics output")
	}
}

func TestDocumentsServed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verifications", "+2348000000001")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "selfie-1.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewServer(nil, nil, WithDocumentsDir(dir))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/documents/verifications/+2348000000001/selfie-1.jpg", nil))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "document")
	if rr.Body.String() != "jpeg" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestDocumentsDisabledByDefault(t *testing.T) {
	s := NewServer(nil, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/documents/x.jpg", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "documents disabled")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewServer(nil, nil, WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
