package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// MemoryStore is a process-local session store. It starts empty and keeps
// deep copies so callers never share pointers with the store.
type MemoryStore struct {
	cfg      Opts
	mu       sync.Mutex
	sessions map[string]*models.Session
	locks    *keyedLock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		cfg:      applyOpts(opts),
		sessions: make(map[string]*models.Session),
		locks:    newKeyedLock(),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(ctx context.Context, phone string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[phone]
	if !ok {
		return nil, nil
	}
	if stored.Expired(m.cfg.TTL, m.cfg.Now()) {
		slog.Debug("MemoryStore.Get: session expired", "phone", phone, "updatedAt", stored.UpdatedAt)
		delete(m.sessions, phone)
		return nil, nil
	}
	out, err := stored.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy session for %s: %w", phone, err)
	}
	return out, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *models.Session) error {
	if s == nil || s.Phone == "" {
		return fmt.Errorf("session phone is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.cfg.Now()
	if stored, ok := m.sessions[s.Phone]; ok && !stored.Expired(m.cfg.TTL, now) && stored.Version != s.Version {
		slog.Warn("MemoryStore.Save: version conflict", "phone", s.Phone, "stored", stored.Version, "expected", s.Version)
		return ErrConflict
	}
	next, err := s.Clone()
	if err != nil {
		return fmt.Errorf("failed to copy session for %s: %w", s.Phone, err)
	}
	next.Version = s.Version + 1
	next.UpdatedAt = now
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	m.sessions[s.Phone] = next
	s.Version = next.Version
	s.UpdatedAt = now
	s.CreatedAt = next.CreatedAt
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, phone)
	return nil
}

func (m *MemoryStore) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.cfg.Now()
	removed := 0
	for phone, stored := range m.sessions {
		if stored.Expired(m.cfg.TTL, now) {
			delete(m.sessions, phone)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("MemoryStore.Sweep: purged expired sessions", "count", removed)
	}
	return removed, nil
}

func (m *MemoryStore) Lock(ctx context.Context, phone string) (func(), error) {
	return m.locks.lock(ctx, phone)
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// keyedLock is a set of per-key mutexes that honour context cancellation.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*lockEntry)}
}

func (k *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				k.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("%w: %v", ErrLocked, ctx.Err())
	}
}

func (k *keyedLock) release(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
