// Package session keeps in-progress conversation state per phone number.
//
// Sessions expire after a period of inactivity (24h by default). Expiry is
// passive: an expired session reads as absent and the caller re-derives a
// fresh one. Saves are compare-and-set on Session.Version, and Lock
// serializes dispatches for one phone number.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

// DefaultLockTTL bounds how long a distributed per-phone lock may be held.
const DefaultLockTTL = 30 * time.Second

var (
	// ErrConflict is returned by Save when the stored version moved on.
	ErrConflict = errors.New("session was modified concurrently")
	// ErrLocked is returned by Lock when the phone is busy past the caller's deadline.
	ErrLocked = errors.New("session is locked by another message")
)

// Store is a keyed, time-expiring session store.
type Store interface {
	// Get returns the live session for phone, or (nil, nil) when none exists
	// or it has expired.
	Get(ctx context.Context, phone string) (*models.Session, error)
	// Save writes s if the stored version still equals s.Version, then
	// increments s.Version and refreshes s.UpdatedAt.
	Save(ctx context.Context, s *models.Session) error
	// Delete removes the session for phone.
	Delete(ctx context.Context, phone string) error
	// Sweep purges expired sessions and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
	// Lock blocks until phone is free or ctx is done. The returned func
	// releases the lock.
	Lock(ctx context.Context, phone string) (func(), error)
}

// Opts holds configuration shared by store implementations.
type Opts struct {
	TTL     time.Duration
	LockTTL time.Duration
	Now     func() time.Time
	Prefix  string
}

// Option configures a session store.
type Option func(*Opts)

// WithTTL sets the inactivity expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithLockTTL sets how long a distributed lock survives a crashed holder.
func WithLockTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.LockTTL = ttl }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithKeyPrefix namespaces keys in a shared Redis.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.Prefix = prefix }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{TTL: DefaultTTL, LockTTL: DefaultLockTTL, Now: time.Now, Prefix: "bloodlink:"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return cfg
}
