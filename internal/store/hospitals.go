package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/BloodLink/internal/models"
)

const hospitalColumns = `reference, phone, name, license_number, contact, address,
	admin_name, admin_phone, picture_urls, status, credits, evidence, created_at, updated_at`

func scanHospital(row rowScanner) (*models.Hospital, error) {
	var h models.Hospital
	var status string
	var pictures, evidence sql.NullString
	err := row.Scan(&h.Reference, &h.Phone, &h.Name, &h.LicenseNumber, &h.Contact, &h.Address,
		&h.AdminName, &h.AdminPhone, &pictures, &status, &h.Credits, &evidence, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Status = models.HospitalStatus(status)
	if err := fromJSON(pictures, &h.PictureURLs); err != nil {
		return nil, err
	}
	if evidence.Valid {
		h.Evidence = &models.VerificationEvidence{}
		if err := fromJSON(evidence, h.Evidence); err != nil {
			return nil, err
		}
	}
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()
	return &h, nil
}

func hospitalJSON(h *models.Hospital) (pictures, evidence interface{}, err error) {
	if pictures, err = toJSON(h.PictureURLs); err != nil {
		return nil, nil, err
	}
	if pictures == nil {
		pictures = "[]"
	}
	if evidence, err = toJSON(h.Evidence); err != nil {
		return nil, nil, err
	}
	return pictures, evidence, nil
}

func (s *sqlStore) CreateHospital(ctx context.Context, h *models.Hospital) error {
	pictures, evidence, err := hospitalJSON(h)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO hospitals (`+hospitalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Reference, h.Phone, h.Name, h.LicenseNumber, h.Contact, h.Address,
		h.AdminName, h.AdminPhone, pictures, string(h.Status), h.Credits, evidence, utc(h.CreatedAt), utc(h.UpdatedAt))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("hospital %s: %w", h.Phone, ErrDuplicate)
		}
		slog.Error("Store.CreateHospital failed", "phone", h.Phone, "error", err)
		return fmt.Errorf("failed to insert hospital %s: %w", h.Phone, err)
	}
	slog.Debug("Store.CreateHospital succeeded", "reference", h.Reference, "phone", h.Phone)
	return nil
}

func (s *sqlStore) GetHospitalByPhone(ctx context.Context, phone string) (*models.Hospital, error) {
	h, err := scanHospital(s.queryRow(ctx, s.db, `SELECT `+hospitalColumns+` FROM hospitals WHERE phone = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load hospital %s: %w", phone, err)
	}
	return h, nil
}

func (s *sqlStore) UpdateHospital(ctx context.Context, h *models.Hospital) error {
	pictures, evidence, err := hospitalJSON(h)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, `UPDATE hospitals SET name = ?, license_number = ?, contact = ?, address = ?,
		admin_name = ?, admin_phone = ?, picture_urls = ?, status = ?, credits = ?, evidence = ?, updated_at = ?
		WHERE reference = ?`,
		h.Name, h.LicenseNumber, h.Contact, h.Address, h.AdminName, h.AdminPhone,
		pictures, string(h.Status), h.Credits, evidence, utc(h.UpdatedAt), h.Reference)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("hospital %s: %w", h.Reference, ErrDuplicate)
		}
		return fmt.Errorf("failed to update hospital %s: %w", h.Reference, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hospital %s: %w", h.Reference, ErrNotFound)
	}
	return nil
}
