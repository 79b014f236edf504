package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newPostgresFromDB(db), mock
}

func TestPostgresRebind(t *testing.T) {
	s, _ := newMockPostgres(t)
	got := s.rebind(`SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)`)
	want := `SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)`
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
}

func TestPostgresStore_CreateDonorUniqueViolation(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec(`INSERT INTO donors`).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := s.CreateDonor(context.Background(), testDonor(1, models.BloodTypeOPos))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_OtherErrorsAreNotDuplicates(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec(`INSERT INTO donors`).WillReturnError(&pq.Error{Code: "23503", Message: "foreign key violation"})

	err := s.CreateDonor(context.Background(), testDonor(1, models.BloodTypeOPos))
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected a plain error, got %v", err)
	}
}

func requestRow(mock sqlmock.Sqlmock, pledged, needed int, status models.RequestStatus, deadline time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"request_id", "hospital_ref", "name", "blood_type", "genotype",
		"units_needed", "units_pledged", "urgency", "status", "deadline", "created_at", "updated_at",
	}).AddRow("REQ-1", "HOS-1234-LG", "Lagos General", "O+", "AA",
		needed, pledged, "high", string(status), deadline, testNow, testNow)
}

func TestPostgresStore_PledgeOverPledgeRollsBack(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE requests SET\s+units_pledged = units_pledged \+ \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM requests r LEFT JOIN hospitals h .* WHERE r.request_id = \$1`).
		WithArgs("REQ-1").
		WillReturnRows(requestRow(mock, 2, 3, models.RequestPartiallyFulfilled, testNow.Add(time.Hour)))
	mock.ExpectRollback()

	r, err := s.PledgeAcceptance(context.Background(), &models.Acceptance{
		RequestID: "REQ-1", DonorID: "DON-LAG-001-111", DonorPhone: "+1", UnitsPledged: 2,
	}, testNow)
	if !errors.Is(err, ErrOverPledge) {
		t.Fatalf("expected ErrOverPledge, got %v", err)
	}
	if r == nil || r.Remaining() != 1 {
		t.Errorf("expected the current request with 1 remaining, got %+v", r)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_PledgeDuplicateAcceptance(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE requests SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO acceptances`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.PledgeAcceptance(context.Background(), &models.Acceptance{
		RequestID: "REQ-1", DonorID: "DON-LAG-001-111", DonorPhone: "+1", UnitsPledged: 1,
	}, testNow)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_PledgeCommits(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE requests SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO acceptances`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM requests r`).
		WithArgs("REQ-1").
		WillReturnRows(requestRow(mock, 3, 3, models.RequestFulfilled, testNow.Add(time.Hour)))
	mock.ExpectCommit()

	a := &models.Acceptance{RequestID: "REQ-1", DonorID: "DON-LAG-001-111", DonorPhone: "+1", UnitsPledged: 1}
	r, err := s.PledgeAcceptance(context.Background(), a, testNow)
	if err != nil {
		t.Fatalf("PledgeAcceptance failed: %v", err)
	}
	if r.Status != models.RequestFulfilled || a.ID == "" || a.Status != models.AcceptancePending {
		t.Errorf("unexpected result: request=%+v acceptance=%+v", r, a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
