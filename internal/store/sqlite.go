package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions is used when creating the database directory.
	DefaultDirPermissions = 0755
	// sqliteDefaultParams keeps concurrent writers waiting instead of failing with SQLITE_BUSY.
	sqliteDefaultParams = "_busy_timeout=5000&_foreign_keys=on"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the SQLite-backed Store used for single-node deployments
// and tests.
type SQLiteStore struct {
	*sqlStore
}

var _ Store = (*SQLiteStore)(nil)

type sqliteDialect struct{ questionMark }

func (sqliteDialect) name() string { return "sqlite3" }

func (sqliteDialect) isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// NewSQLiteStore opens (creating the parent directory if needed) and
// migrates the SQLite database at the DSN path. ":memory:" is accepted.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, ErrDSNNotSet
	}

	dsn := cfg.DSN
	if path, _, _ := strings.Cut(dsn, "?"); path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?" + sqliteDefaultParams
	}

	// One connection serializes writers so pledge transactions never interleave.
	db, err := openMigrated("sqlite3", dsn, sqliteMigrations, func(db *sql.DB) { db.SetMaxOpenConns(1) })
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStore: &sqlStore{db: db, dialect: sqliteDialect{}}}, nil
}
