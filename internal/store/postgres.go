package store

import (
	"database/sql"
	"errors"
	"time"

	_ "embed"

	"github.com/lib/pq"
)

// Connection pool defaults.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed Store.
type PostgresStore struct {
	*sqlStore
}

var _ Store = (*PostgresStore)(nil)

type postgresDialect struct{ dollarN }

func (postgresDialect) name() string { return "postgres" }

// isUniqueViolation matches SQLSTATE 23505.
func (postgresDialect) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// NewPostgresStore connects to and migrates the database named by the DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, ErrDSNNotSet
	}
	db, err := openMigrated("postgres", cfg.DSN, postgresMigrations, func(db *sql.DB) {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	})
	if err != nil {
		return nil, err
	}
	return newPostgresFromDB(db), nil
}

// newPostgresFromDB wraps an already-open handle without running migrations.
func newPostgresFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore: &sqlStore{db: db, dialect: postgresDialect{}}}
}
