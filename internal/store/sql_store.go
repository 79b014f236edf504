package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// dialect captures the few places SQLite and PostgreSQL differ.
type dialect interface {
	name() string
	// placeholder returns the n-th (1-based) bind parameter.
	placeholder(n int) string
	isUniqueViolation(err error) bool
}

// sqlStore implements Store on top of database/sql. Queries are written
// with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

// rebind rewrites '?' placeholders for the dialect. Question marks inside
// quoted literals are left alone.
func (s *sqlStore) rebind(query string) string {
	if s.dialect.placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteString(s.dialect.placeholder(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// openMigrated opens a pool, applies tune, verifies connectivity and runs
// the idempotent schema script.
func openMigrated(driver, dsn, migrations string, tune func(*sql.DB)) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if tune != nil {
		tune(db)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", driver, err)
	}
	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run %s migrations: %w", driver, err)
	}
	slog.Debug("openMigrated: schema applied", "driver", driver)
	return db, nil
}

// withTx runs fn in a transaction, committing on success.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// inList renders "?, ?, ?" and the matching args for an IN filter.
func inList[T ~string](values []T) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = string(v)
	}
	return strings.Join(marks, ", "), args
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type questionMark struct{}

func (questionMark) placeholder(int) string { return "?" }

type dollarN struct{}

func (dollarN) placeholder(n int) string { return "$" + strconv.Itoa(n) }
