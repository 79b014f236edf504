package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/google/uuid"
)

const requestColumns = `r.request_id, r.hospital_ref, COALESCE(h.name, ''), r.blood_type, r.genotype,
	r.units_needed, r.units_pledged, r.urgency, r.status, r.deadline, r.created_at, r.updated_at`

const requestFrom = ` FROM requests r LEFT JOIN hospitals h ON h.reference = r.hospital_ref`

// urgencyOrder sorts emergency first.
const urgencyOrder = `CASE r.urgency WHEN 'emergency' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END`

const acceptanceColumns = `a.id, a.request_id, a.donor_id, a.donor_phone, a.units_pledged,
	a.availability, a.status, a.pledged_at, a.completed_at`

func scanRequest(row rowScanner) (*models.Request, error) {
	var r models.Request
	var bloodType, genotype, urgency, status string
	err := row.Scan(&r.RequestID, &r.HospitalRef, &r.HospitalName, &bloodType, &genotype,
		&r.UnitsNeeded, &r.UnitsPledged, &urgency, &status, &r.Deadline, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.BloodType = models.BloodType(bloodType)
	r.Genotype = models.Genotype(genotype)
	r.Urgency = models.Urgency(urgency)
	r.Status = models.RequestStatus(status)
	r.Deadline = r.Deadline.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func scanAcceptance(row rowScanner) (*models.Acceptance, error) {
	var a models.Acceptance
	var status string
	var completed sql.NullTime
	err := row.Scan(&a.ID, &a.RequestID, &a.DonorID, &a.DonorPhone, &a.UnitsPledged,
		&a.Availability, &status, &a.PledgedAt, &completed)
	if err != nil {
		return nil, err
	}
	a.Status = models.AcceptanceStatus(status)
	a.PledgedAt = a.PledgedAt.UTC()
	a.CompletedAt = timePtr(completed)
	return &a, nil
}

func (s *sqlStore) scanRequests(rows *sql.Rows) ([]models.Request, error) {
	defer rows.Close()
	var out []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate request rows: %w", err)
	}
	return out, nil
}

func (s *sqlStore) scanAcceptances(rows *sql.Rows) ([]models.Acceptance, error) {
	defer rows.Close()
	var out []models.Acceptance
	for rows.Next() {
		a, err := scanAcceptance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan acceptance row: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate acceptance rows: %w", err)
	}
	return out, nil
}

func (s *sqlStore) CreateRequest(ctx context.Context, r *models.Request) error {
	if r.UnitsNeeded < 1 || r.UnitsNeeded > 15 {
		return fmt.Errorf("request %s: %w", r.RequestID, models.ErrInvalidUnits)
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO requests (request_id, hospital_ref, blood_type, genotype,
		units_needed, units_pledged, urgency, status, deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.HospitalRef, string(r.BloodType), string(r.Genotype),
		r.UnitsNeeded, r.UnitsPledged, string(r.Urgency), string(r.Status),
		utc(r.Deadline), utc(r.CreatedAt), utc(r.UpdatedAt))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("request %s: %w", r.RequestID, ErrDuplicate)
		}
		slog.Error("Store.CreateRequest failed", "requestID", r.RequestID, "error", err)
		return fmt.Errorf("failed to insert request %s: %w", r.RequestID, err)
	}
	slog.Debug("Store.CreateRequest succeeded", "requestID", r.RequestID, "hospital", r.HospitalRef)
	return nil
}

func (s *sqlStore) getRequest(ctx context.Context, q execer, requestID string) (*models.Request, error) {
	r, err := scanRequest(s.queryRow(ctx, q, `SELECT `+requestColumns+requestFrom+` WHERE r.request_id = ?`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request %s: %w", requestID, err)
	}
	return r, nil
}

func (s *sqlStore) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	return s.getRequest(ctx, s.db, requestID)
}

func (s *sqlStore) ListOpenRequests(ctx context.Context, bloodType models.BloodType, now time.Time, limit int) ([]models.Request, error) {
	marks, args := inList(models.OpenRequestStatuses)
	args = append([]any{string(bloodType)}, args...)
	args = append(args, utc(now), limit)
	rows, err := s.query(ctx, s.db, `SELECT `+requestColumns+requestFrom+`
		WHERE r.blood_type = ? AND r.status IN (`+marks+`) AND r.deadline > ?
		ORDER BY `+urgencyOrder+` DESC, r.created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query open requests: %w", err)
	}
	return s.scanRequests(rows)
}

func (s *sqlStore) ListRequestsByHospital(ctx context.Context, hospitalRef string, limit int) ([]models.Request, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+requestColumns+requestFrom+`
		WHERE r.hospital_ref = ? ORDER BY r.created_at DESC LIMIT ?`, hospitalRef, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query hospital requests: %w", err)
	}
	return s.scanRequests(rows)
}

// PledgeAcceptance adds the pledge with one conditional UPDATE: the row only
// changes if the request is open, not past its deadline, and has room for the
// units. When it does not change, the current request is returned with the
// reason. The acceptance insert shares the transaction, so a duplicate pledge
// rolls the units back.
func (s *sqlStore) PledgeAcceptance(ctx context.Context, a *models.Acceptance, now time.Time) (*models.Request, error) {
	if a.UnitsPledged < 1 || a.UnitsPledged > 2 {
		return nil, fmt.Errorf("pledge of %d units: %w", a.UnitsPledged, models.ErrInvalidUnits)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.AcceptancePending
	}
	if a.PledgedAt.IsZero() {
		a.PledgedAt = now
	}
	now = utc(now)

	var updated *models.Request
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		marks, statusArgs := inList(models.OpenRequestStatuses)
		args := []any{a.UnitsPledged, a.UnitsPledged, now, a.RequestID}
		args = append(args, statusArgs...)
		args = append(args, a.UnitsPledged, now)
		res, err := s.exec(ctx, tx, `UPDATE requests SET
			units_pledged = units_pledged + ?,
			status = CASE WHEN units_pledged + ? >= units_needed THEN 'fulfilled' ELSE 'partially_fulfilled' END,
			updated_at = ?
			WHERE request_id = ? AND status IN (`+marks+`)
			AND units_pledged + ? <= units_needed AND deadline > ?`, args...)
		if err != nil {
			return fmt.Errorf("failed to apply pledge to %s: %w", a.RequestID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read pledge result: %w", err)
		}
		if n == 0 {
			current, err := s.getRequest(ctx, tx, a.RequestID)
			if err != nil {
				return err
			}
			if current == nil {
				return fmt.Errorf("request %s: %w", a.RequestID, ErrNotFound)
			}
			updated = current
			if !current.Deadline.After(now) || (current.Status != models.RequestActive && current.Status != models.RequestPartiallyFulfilled) {
				return fmt.Errorf("request %s is %s: %w", a.RequestID, current.Status, ErrRequestClosed)
			}
			return fmt.Errorf("request %s has %d units remaining: %w", a.RequestID, current.Remaining(), ErrOverPledge)
		}

		_, err = s.exec(ctx, tx, `INSERT INTO acceptances (id, request_id, donor_id, donor_phone,
			units_pledged, availability, status, pledged_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.RequestID, a.DonorID, a.DonorPhone, a.UnitsPledged, a.Availability, string(a.Status), utc(a.PledgedAt))
		if err != nil {
			if s.dialect.isUniqueViolation(err) {
				return fmt.Errorf("donor %s already pledged to %s: %w", a.DonorID, a.RequestID, ErrDuplicate)
			}
			return fmt.Errorf("failed to insert acceptance: %w", err)
		}
		updated, err = s.getRequest(ctx, tx, a.RequestID)
		return err
	})
	if err != nil {
		slog.Warn("Store.PledgeAcceptance rejected", "requestID", a.RequestID, "donorID", a.DonorID, "units", a.UnitsPledged, "error", err)
		return updated, err
	}
	slog.Info("Store.PledgeAcceptance succeeded", "requestID", a.RequestID, "donorID", a.DonorID,
		"units", a.UnitsPledged, "pledged", updated.UnitsPledged, "needed", updated.UnitsNeeded, "status", updated.Status)
	return updated, nil
}

func (s *sqlStore) getAcceptance(ctx context.Context, q execer, id string) (*models.Acceptance, error) {
	a, err := scanAcceptance(s.queryRow(ctx, q, `SELECT `+acceptanceColumns+` FROM acceptances a WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load acceptance %s: %w", id, err)
	}
	return a, nil
}

// CancelAcceptance releases a pending pledge's units. Cancelled and expired
// requests keep their status; others are re-derived from the new count.
func (s *sqlStore) CancelAcceptance(ctx context.Context, acceptanceID, donorID string, now time.Time) (*models.Request, error) {
	now = utc(now)
	var updated *models.Request
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := s.getAcceptance(ctx, tx, acceptanceID)
		if err != nil {
			return err
		}
		if a == nil || a.DonorID != donorID || a.Status != models.AcceptancePending {
			return fmt.Errorf("pending acceptance %s: %w", acceptanceID, ErrNotFound)
		}
		if _, err := s.exec(ctx, tx, `UPDATE acceptances SET status = ? WHERE id = ? AND status = ?`,
			string(models.AcceptanceCancelled), acceptanceID, string(models.AcceptancePending)); err != nil {
			return fmt.Errorf("failed to cancel acceptance %s: %w", acceptanceID, err)
		}
		if _, err := s.exec(ctx, tx, `UPDATE requests SET
			units_pledged = units_pledged - ?,
			status = CASE
				WHEN status IN ('cancelled', 'expired') THEN status
				WHEN units_pledged - ? <= 0 THEN 'active'
				ELSE 'partially_fulfilled' END,
			updated_at = ?
			WHERE request_id = ? AND units_pledged >= ?`,
			a.UnitsPledged, a.UnitsPledged, now, a.RequestID, a.UnitsPledged); err != nil {
			return fmt.Errorf("failed to release units on %s: %w", a.RequestID, err)
		}
		updated, err = s.getRequest(ctx, tx, a.RequestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Store.CancelAcceptance succeeded", "acceptanceID", acceptanceID, "requestID", updated.RequestID, "pledged", updated.UnitsPledged)
	return updated, nil
}

// CompleteAcceptance confirms a pending pledge and applies record to the
// pledging donor in the same transaction, so a failed donor write leaves the
// pledge pending. The returned donor is nil when the donor no longer exists.
func (s *sqlStore) CompleteAcceptance(ctx context.Context, acceptanceID string, at time.Time, record func(*models.Donor) error) (*models.Acceptance, *models.Donor, error) {
	var done *models.Acceptance
	var donor *models.Donor
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE acceptances SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			string(models.AcceptanceConfirmed), utc(at), acceptanceID, string(models.AcceptancePending))
		if err != nil {
			return fmt.Errorf("failed to complete acceptance %s: %w", acceptanceID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("pending acceptance %s: %w", acceptanceID, ErrNotFound)
		}
		if done, err = s.getAcceptance(ctx, tx, acceptanceID); err != nil {
			return err
		}
		d, err := s.getDonorByPhone(ctx, tx, done.DonorPhone)
		if err != nil || d == nil {
			return err
		}
		if record != nil {
			if err := record(d); err != nil {
				return fmt.Errorf("failed to record donation for %s: %w", d.DonorID, err)
			}
			if err := s.updateDonor(ctx, tx, d); err != nil {
				return err
			}
		}
		donor = d
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Store.CompleteAcceptance succeeded", "acceptanceID", acceptanceID, "donorPhone", done.DonorPhone, "donorFound", donor != nil)
	return done, donor, nil
}

func (s *sqlStore) ListAcceptancesByDonor(ctx context.Context, donorID string, limit int) ([]models.Acceptance, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+acceptanceColumns+` FROM acceptances a
		WHERE a.donor_id = ? ORDER BY a.pledged_at DESC LIMIT ?`, donorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query donor acceptances: %w", err)
	}
	return s.scanAcceptances(rows)
}

func (s *sqlStore) ListPendingAcceptancesByHospital(ctx context.Context, hospitalRef string, limit int) ([]models.Acceptance, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+acceptanceColumns+` FROM acceptances a
		JOIN requests r ON r.request_id = a.request_id
		WHERE r.hospital_ref = ? AND a.status = ?
		ORDER BY a.pledged_at ASC LIMIT ?`, hospitalRef, string(models.AcceptancePending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query hospital acceptances: %w", err)
	}
	return s.scanAcceptances(rows)
}

// ExpireRequests moves every past-deadline request that is not already
// cancelled or expired to expired, whatever its pledge count.
func (s *sqlStore) ExpireRequests(ctx context.Context, now time.Time) (int64, error) {
	now = utc(now)
	res, err := s.exec(ctx, s.db, `UPDATE requests SET status = ?, updated_at = ?
		WHERE deadline < ? AND status NOT IN (?, ?)`,
		string(models.RequestExpired), now, now, string(models.RequestCancelled), string(models.RequestExpired))
	if err != nil {
		return 0, fmt.Errorf("failed to expire requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read expiry result: %w", err)
	}
	if n > 0 {
		slog.Info("Store.ExpireRequests: expired past-deadline requests", "count", n)
	}
	return n, nil
}
