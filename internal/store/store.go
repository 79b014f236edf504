// Package store provides durable storage backends for BloodLink.
//
// SQLite and PostgreSQL implement the same Store interface over
// database/sql. Donors and hospitals are keyed by phone number; requests
// and acceptances by generated IDs. Pledging is a single conditional
// UPDATE so concurrent pledges can never push units_pledged past
// units_needed.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
)

var (
	// ErrNotFound is returned when an update or transition targets a missing row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("record already exists")
	// ErrOverPledge is returned when a pledge would exceed the units still needed.
	ErrOverPledge = errors.New("pledge exceeds remaining units")
	// ErrRequestClosed is returned when a pledge targets a request that no longer accepts pledges.
	ErrRequestClosed = errors.New("request is no longer accepting pledges")
	// ErrDSNNotSet is returned by the constructors when no DSN was given.
	ErrDSNNotSet = errors.New("database DSN not set")
)

// DonorRepo persists donors.
type DonorRepo interface {
	CreateDonor(ctx context.Context, d *models.Donor) error
	// GetDonorByPhone returns (nil, nil) when no donor has the phone.
	GetDonorByPhone(ctx context.Context, phone string) (*models.Donor, error)
	UpdateDonor(ctx context.Context, d *models.Donor) error
	CountDonors(ctx context.Context) (int, error)
	// ListAvailableDonors returns verified, available, eligible donors of a blood type.
	ListAvailableDonors(ctx context.Context, bloodType models.BloodType, limit int) ([]models.Donor, error)
}

// HospitalRepo persists hospitals.
type HospitalRepo interface {
	CreateHospital(ctx context.Context, h *models.Hospital) error
	// GetHospitalByPhone returns (nil, nil) when no hospital has the phone.
	GetHospitalByPhone(ctx context.Context, phone string) (*models.Hospital, error)
	UpdateHospital(ctx context.Context, h *models.Hospital) error
}

// RequestRepo persists blood requests and the pledges against them.
type RequestRepo interface {
	CreateRequest(ctx context.Context, r *models.Request) error
	// GetRequest returns (nil, nil) when the request does not exist.
	GetRequest(ctx context.Context, requestID string) (*models.Request, error)
	// ListOpenRequests returns pledgeable requests for a blood type, most
	// urgent first, then newest first.
	ListOpenRequests(ctx context.Context, bloodType models.BloodType, now time.Time, limit int) ([]models.Request, error)
	ListRequestsByHospital(ctx context.Context, hospitalRef string, limit int) ([]models.Request, error)
	// PledgeAcceptance inserts the acceptance and atomically adds its units
	// to the request, returning the updated request.
	PledgeAcceptance(ctx context.Context, a *models.Acceptance, now time.Time) (*models.Request, error)
	// CancelAcceptance cancels a pending pledge owned by donorID and releases its units.
	CancelAcceptance(ctx context.Context, acceptanceID, donorID string, now time.Time) (*models.Request, error)
	// CompleteAcceptance marks a pending pledge as donated and, in the same
	// transaction, lets record update the pledging donor. Any error leaves
	// the pledge pending. The donor is nil when it no longer exists.
	CompleteAcceptance(ctx context.Context, acceptanceID string, at time.Time, record func(*models.Donor) error) (*models.Acceptance, *models.Donor, error)
	ListAcceptancesByDonor(ctx context.Context, donorID string, limit int) ([]models.Acceptance, error)
	ListPendingAcceptancesByHospital(ctx context.Context, hospitalRef string, limit int) ([]models.Acceptance, error)
	// ExpireRequests moves past-deadline requests to expired.
	ExpireRequests(ctx context.Context, now time.Time) (int64, error)
}

// ReceiptRepo records outbound delivery callbacks.
type ReceiptRepo interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
	GetReceipts(ctx context.Context, to string) ([]models.Receipt, error)
}

// Store is the full durable record store.
type Store interface {
	DonorRepo
	HospitalRepo
	RequestRepo
	ReceiptRepo
	DedupRepo
	OutboxRepo
	Ping(ctx context.Context) error
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or key/value DSNs
// and "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open picks the backend from the DSN.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
