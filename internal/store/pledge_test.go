package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
)

func pledge(s Store, requestID string, d *models.Donor, units int) (*models.Request, error) {
	return s.PledgeAcceptance(context.Background(), &models.Acceptance{
		RequestID:    requestID,
		DonorID:      d.DonorID,
		DonorPhone:   d.Phone,
		UnitsPledged: units,
		Availability: "today",
	}, testNow)
}

// runPledgeScenario walks a 3-unit request through a partial pledge, an
// over-pledge rejection and the pledge that fills it.
func runPledgeScenario(t *testing.T, s Store, requestID string) {
	t.Helper()
	ctx := context.Background()
	a, b := testDonor(1, models.BloodTypeOPos), testDonor(2, models.BloodTypeOPos)
	for _, d := range []*models.Donor{a, b} {
		if err := s.CreateDonor(ctx, d); err != nil {
			t.Fatalf("CreateDonor failed: %v", err)
		}
	}

	r, err := pledge(s, requestID, a, 2)
	if err != nil {
		t.Fatalf("donor A pledge failed: %v", err)
	}
	if r.UnitsPledged != 2 || r.Status != models.RequestPartiallyFulfilled {
		t.Fatalf("after A: pledged=%d status=%s", r.UnitsPledged, r.Status)
	}

	r, err = pledge(s, requestID, b, 2)
	if !errors.Is(err, ErrOverPledge) {
		t.Fatalf("donor B over-pledge: expected ErrOverPledge, got %v", err)
	}
	if r == nil || r.Remaining() != 1 {
		t.Fatalf("over-pledge should report 1 remaining unit, got %+v", r)
	}

	r, err = pledge(s, requestID, b, 1)
	if err != nil {
		t.Fatalf("donor B pledge of 1 failed: %v", err)
	}
	if r.UnitsPledged != 3 || r.Status != models.RequestFulfilled {
		t.Fatalf("after B: pledged=%d status=%s", r.UnitsPledged, r.Status)
	}

	if _, err := pledge(s, requestID, testDonor(1, models.BloodTypeOPos), 1); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("pledge on fulfilled request: expected ErrRequestClosed, got %v", err)
	}
}

func TestSQLiteStore_PledgeScenario(t *testing.T) {
	s := newTestSQLiteStore(t)
	req := seed(t, s, 3)
	runPledgeScenario(t, s, req.RequestID)
}

func TestSQLiteStore_PledgeDuplicateRollsBackUnits(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	req := seed(t, s, 5)
	d := testDonor(1, models.BloodTypeOPos)
	s.CreateDonor(ctx, d)

	if _, err := pledge(s, req.RequestID, d, 1); err != nil {
		t.Fatalf("first pledge failed: %v", err)
	}
	if _, err := pledge(s, req.RequestID, d, 1); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second pledge: expected ErrDuplicate, got %v", err)
	}
	r, _ := s.GetRequest(ctx, req.RequestID)
	if r.UnitsPledged != 1 {
		t.Errorf("duplicate pledge leaked units: pledged=%d", r.UnitsPledged)
	}
}

func TestSQLiteStore_PledgeRejectsInvalidUnits(t *testing.T) {
	s := newTestSQLiteStore(t)
	req := seed(t, s, 5)
	d := testDonor(1, models.BloodTypeOPos)
	for _, units := range []int{0, 3} {
		if _, err := pledge(s, req.RequestID, d, units); !errors.Is(err, models.ErrInvalidUnits) {
			t.Errorf("units=%d: expected ErrInvalidUnits, got %v", units, err)
		}
	}
}

func TestSQLiteStore_PledgeMissingAndExpiredRequests(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seed(t, s, 3)
	d := testDonor(1, models.BloodTypeOPos)
	s.CreateDonor(ctx, d)

	if _, err := pledge(s, "REQ-NOPE", d, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing request: expected ErrNotFound, got %v", err)
	}

	past := testRequest("REQ-PAST", 3, models.UrgencyLow, testNow)
	past.Deadline = testNow.Add(-time.Minute)
	s.CreateRequest(ctx, past)
	if _, err := pledge(s, "REQ-PAST", d, 1); !errors.Is(err, ErrRequestClosed) {
		t.Errorf("past deadline: expected ErrRequestClosed, got %v", err)
	}
}

func TestSQLiteStore_ConcurrentPledgesNeverOverfill(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	req := seed(t, s, 5)

	const donors = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < donors; i++ {
		d := testDonor(100+i, models.BloodTypeOPos)
		if err := s.CreateDonor(ctx, d); err != nil {
			t.Fatalf("CreateDonor failed: %v", err)
		}
		wg.Add(1)
		go func(d *models.Donor) {
			defer wg.Done()
			_, err := pledge(s, req.RequestID, d, 1)
			switch {
			case err == nil:
				mu.Lock()
				accepted++
				mu.Unlock()
			case errors.Is(err, ErrOverPledge), errors.Is(err, ErrRequestClosed):
			default:
				t.Errorf("unexpected pledge error: %v", err)
			}
		}(d)
	}
	wg.Wait()

	r, _ := s.GetRequest(ctx, req.RequestID)
	if r.UnitsPledged != 5 || accepted != 5 {
		t.Errorf("pledged=%d accepted=%d, want 5 and 5", r.UnitsPledged, accepted)
	}
	if r.Status != models.RequestFulfilled {
		t.Errorf("status = %s, want fulfilled", r.Status)
	}
}

func TestSQLiteStore_CancelAcceptanceReleasesUnits(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	req := seed(t, s, 2)
	a, b := testDonor(1, models.BloodTypeOPos), testDonor(2, models.BloodTypeOPos)
	s.CreateDonor(ctx, a)
	s.CreateDonor(ctx, b)

	pledge(s, req.RequestID, a, 1)
	if r, _ := pledge(s, req.RequestID, b, 1); r.Status != models.RequestFulfilled {
		t.Fatalf("expected fulfilled, got %s", r.Status)
	}
	accs, err := s.ListAcceptancesByDonor(ctx, b.DonorID, 10)
	if err != nil || len(accs) != 1 {
		t.Fatalf("ListAcceptancesByDonor() = %v, %v", accs, err)
	}

	if _, err := s.CancelAcceptance(ctx, accs[0].ID, a.DonorID, testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel by another donor: expected ErrNotFound, got %v", err)
	}
	r, err := s.CancelAcceptance(ctx, accs[0].ID, b.DonorID, testNow)
	if err != nil {
		t.Fatalf("CancelAcceptance failed: %v", err)
	}
	if r.UnitsPledged != 1 || r.Status != models.RequestPartiallyFulfilled {
		t.Errorf("after cancel: pledged=%d status=%s", r.UnitsPledged, r.Status)
	}
	if _, err := s.CancelAcceptance(ctx, accs[0].ID, b.DonorID, testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("double cancel: expected ErrNotFound, got %v", err)
	}

	// The cancelled pledge no longer blocks a new one from the same donor.
	if _, err := pledge(s, req.RequestID, b, 1); err != nil {
		t.Errorf("re-pledge after cancel failed: %v", err)
	}
}

func countDonation(d *models.Donor) error {
	d.TotalDonations++
	return nil
}

func TestSQLiteStore_CompleteAcceptance(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	req := seed(t, s, 2)
	d := testDonor(1, models.BloodTypeOPos)
	s.CreateDonor(ctx, d)
	pledge(s, req.RequestID, d, 2)

	pending, err := s.ListPendingAcceptancesByHospital(ctx, "HOS-1234-LG", 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPendingAcceptancesByHospital() = %v, %v", pending, err)
	}
	done, donor, err := s.CompleteAcceptance(ctx, pending[0].ID, testNow.Add(time.Hour), countDonation)
	if err != nil {
		t.Fatalf("CompleteAcceptance failed: %v", err)
	}
	if done.Status != models.AcceptanceConfirmed || done.CompletedAt == nil {
		t.Errorf("unexpected acceptance: %+v", done)
	}
	if donor == nil || donor.TotalDonations != 1 {
		t.Errorf("unexpected donor: %+v", donor)
	}
	if got, _ := s.GetDonorByPhone(ctx, d.Phone); got.TotalDonations != 1 {
		t.Errorf("stored total donations = %d, want 1", got.TotalDonations)
	}
	if _, _, err := s.CompleteAcceptance(ctx, pending[0].ID, testNow, countDonation); !errors.Is(err, ErrNotFound) {
		t.Errorf("second completion: expected ErrNotFound, got %v", err)
	}
	if pending, _ := s.ListPendingAcceptancesByHospital(ctx, "HOS-1234-LG", 10); len(pending) != 0 {
		t.Errorf("completed acceptance still pending: %+v", pending)
	}
}

func TestSQLiteStore_CompleteAcceptanceRollsBack(t *testing.T) {
	tests := []struct {
		name   string
		record func(*models.Donor) error
		setup  string
	}{
		{
			name:   "record error",
			record: func(*models.Donor) error { return errors.New("boom") },
		},
		{
			name:   "donor write fails",
			record: countDonation,
			setup:  `CREATE TRIGGER reject_donor_update BEFORE UPDATE ON donors BEGIN SELECT RAISE(ABORT, 'donor update rejected'); END`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSQLiteStore(t)
			ctx := context.Background()
			req := seed(t, s, 2)
			d := testDonor(1, models.BloodTypeOPos)
			s.CreateDonor(ctx, d)
			pledge(s, req.RequestID, d, 1)
			pending, _ := s.ListPendingAcceptancesByHospital(ctx, "HOS-1234-LG", 10)
			if len(pending) != 1 {
				t.Fatalf("expected one pending pledge, got %d", len(pending))
			}
			if tt.setup != "" {
				if _, err := s.db.ExecContext(ctx, tt.setup); err != nil {
					t.Fatalf("setup failed: %v", err)
				}
			}

			if _, _, err := s.CompleteAcceptance(ctx, pending[0].ID, testNow, tt.record); err == nil {
				t.Fatal("expected CompleteAcceptance to fail")
			}
			still, _ := s.ListPendingAcceptancesByHospital(ctx, "HOS-1234-LG", 10)
			if len(still) != 1 || still[0].ID != pending[0].ID {
				t.Fatalf("pledge should still be pending after rollback, got %+v", still)
			}
			if got, _ := s.GetDonorByPhone(ctx, d.Phone); got.TotalDonations != 0 {
				t.Errorf("donor changed despite rollback: total donations = %d", got.TotalDonations)
			}

			if tt.setup != "" {
				if _, err := s.db.ExecContext(ctx, `DROP TRIGGER reject_donor_update`); err != nil {
					t.Fatalf("drop trigger failed: %v", err)
				}
			}
			if _, donor, err := s.CompleteAcceptance(ctx, pending[0].ID, testNow, countDonation); err != nil || donor.TotalDonations != 1 {
				t.Errorf("retry = %+v, %v", donor, err)
			}
		})
	}
}

func TestSQLiteStore_ListRequestsByHospital(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	s.CreateHospital(ctx, testHospital())
	for i := 0; i < 3; i++ {
		s.CreateRequest(ctx, testRequest(fmt.Sprintf("REQ-%d", i), 2, models.UrgencyLow, testNow.Add(time.Duration(i)*time.Minute)))
	}
	got, err := s.ListRequestsByHospital(ctx, "HOS-1234-LG", 2)
	if err != nil {
		t.Fatalf("ListRequestsByHospital failed: %v", err)
	}
	if len(got) != 2 || got[0].RequestID != "REQ-2" {
		t.Errorf("expected newest two, got %+v", got)
	}
}
