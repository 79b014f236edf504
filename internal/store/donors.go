package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/BloodLink/internal/models"
)

const donorColumns = `donor_id, phone, full_name, blood_type, genotype,
	hiv_status, hepatitis_b_status, hepatitis_c_status, chronic_illness, date_of_birth,
	city, state, country, latitude, longitude,
	bank_name, account_number, account_name, id_document_url,
	eligibility, eligibility_reasons, available, verification, evidence,
	total_donations, last_donation_at, cooldown_until, created_at, updated_at`

func donorArgs(d *models.Donor) ([]any, error) {
	reasons, err := toJSON(d.EligibilityReasons)
	if err != nil {
		return nil, err
	}
	if reasons == nil {
		reasons = "[]"
	}
	evidence, err := toJSON(d.Evidence)
	if err != nil {
		return nil, err
	}
	return []any{
		d.DonorID, d.Phone, d.FullName, string(d.BloodType), string(d.Genotype),
		string(d.Screening.HIV), string(d.Screening.HepatitisB), string(d.Screening.HepatitisC),
		d.Screening.HasChronicIllness, nullTime(d.DateOfBirth),
		d.Location.City, d.Location.State, d.Location.Country, nullFloat(d.Location.Latitude), nullFloat(d.Location.Longitude),
		d.Bank.BankName, d.Bank.AccountNumber, d.Bank.AccountName, d.IDDocumentURL,
		string(d.Eligibility), reasons, d.Available, string(d.Verification), evidence,
		d.TotalDonations, nullTime(d.LastDonationAt), nullTime(d.CooldownUntil), utc(d.CreatedAt), utc(d.UpdatedAt),
	}, nil
}

func scanDonor(row rowScanner) (*models.Donor, error) {
	var d models.Donor
	var bloodType, genotype, hiv, hepB, hepC, eligibility, verification string
	var dob, lastDonation, cooldown sql.NullTime
	var lat, lng sql.NullFloat64
	var reasons, evidence sql.NullString
	err := row.Scan(
		&d.DonorID, &d.Phone, &d.FullName, &bloodType, &genotype,
		&hiv, &hepB, &hepC, &d.Screening.HasChronicIllness, &dob,
		&d.Location.City, &d.Location.State, &d.Location.Country, &lat, &lng,
		&d.Bank.BankName, &d.Bank.AccountNumber, &d.Bank.AccountName, &d.IDDocumentURL,
		&eligibility, &reasons, &d.Available, &verification, &evidence,
		&d.TotalDonations, &lastDonation, &cooldown, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.BloodType = models.BloodType(bloodType)
	d.Genotype = models.Genotype(genotype)
	d.Screening.HIV = models.ScreeningStatus(hiv)
	d.Screening.HepatitisB = models.ScreeningStatus(hepB)
	d.Screening.HepatitisC = models.ScreeningStatus(hepC)
	d.Eligibility = models.EligibilityStatus(eligibility)
	d.Verification = models.VerificationState(verification)
	d.DateOfBirth = timePtr(dob)
	d.LastDonationAt = timePtr(lastDonation)
	d.CooldownUntil = timePtr(cooldown)
	d.Location.Latitude = floatPtr(lat)
	d.Location.Longitude = floatPtr(lng)
	if err := fromJSON(reasons, &d.EligibilityReasons); err != nil {
		return nil, err
	}
	if evidence.Valid {
		d.Evidence = &models.VerificationEvidence{}
		if err := fromJSON(evidence, d.Evidence); err != nil {
			return nil, err
		}
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func (s *sqlStore) CreateDonor(ctx context.Context, d *models.Donor) error {
	args, err := donorArgs(d)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO donors (`+donorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("donor %s: %w", d.Phone, ErrDuplicate)
		}
		slog.Error("Store.CreateDonor failed", "phone", d.Phone, "error", err)
		return fmt.Errorf("failed to insert donor %s: %w", d.Phone, err)
	}
	slog.Debug("Store.CreateDonor succeeded", "donorID", d.DonorID, "phone", d.Phone)
	return nil
}

func (s *sqlStore) GetDonorByPhone(ctx context.Context, phone string) (*models.Donor, error) {
	return s.getDonorByPhone(ctx, s.db, phone)
}

func (s *sqlStore) getDonorByPhone(ctx context.Context, q execer, phone string) (*models.Donor, error) {
	d, err := scanDonor(s.queryRow(ctx, q, `SELECT `+donorColumns+` FROM donors WHERE phone = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load donor %s: %w", phone, err)
	}
	return d, nil
}

func (s *sqlStore) UpdateDonor(ctx context.Context, d *models.Donor) error {
	return s.updateDonor(ctx, s.db, d)
}

func (s *sqlStore) updateDonor(ctx context.Context, q execer, d *models.Donor) error {
	args, err := donorArgs(d)
	if err != nil {
		return err
	}
	// Key (donor_id) goes last; phone and created_at are immutable.
	res, err := s.exec(ctx, q, `UPDATE donors SET
		full_name = ?, blood_type = ?, genotype = ?,
		hiv_status = ?, hepatitis_b_status = ?, hepatitis_c_status = ?, chronic_illness = ?, date_of_birth = ?,
		city = ?, state = ?, country = ?, latitude = ?, longitude = ?,
		bank_name = ?, account_number = ?, account_name = ?, id_document_url = ?,
		eligibility = ?, eligibility_reasons = ?, available = ?, verification = ?, evidence = ?,
		total_donations = ?, last_donation_at = ?, cooldown_until = ?, updated_at = ?
		WHERE donor_id = ?`,
		append(append(args[2:27:27], args[28]), d.DonorID)...)
	if err != nil {
		slog.Error("Store.UpdateDonor failed", "donorID", d.DonorID, "error", err)
		return fmt.Errorf("failed to update donor %s: %w", d.DonorID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("donor %s: %w", d.DonorID, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) CountDonors(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM donors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count donors: %w", err)
	}
	return n, nil
}

func (s *sqlStore) ListAvailableDonors(ctx context.Context, bloodType models.BloodType, limit int) ([]models.Donor, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+donorColumns+` FROM donors
		WHERE blood_type = ? AND available = ? AND verification = ? AND eligibility = ?
		ORDER BY updated_at DESC LIMIT ?`,
		string(bloodType), true, string(models.VerificationVerified), string(models.EligibilityEligible), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query available donors: %w", err)
	}
	defer rows.Close()
	var donors []models.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan donor row: %w", err)
		}
		donors = append(donors, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donor rows: %w", err)
	}
	return donors, nil
}
