package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
}

// storeFactories lets the same contract tests run against every backend.
func storeFactories(t *testing.T, clock *fakeClock) map[string]Store {
	t.Helper()
	stores := map[string]Store{
		"memory": NewMemoryStore(WithClock(clock.Now)),
	}
	if url := os.Getenv("BLOODLINK_TEST_REDIS_URL"); url != "" {
		rs, err := Connect(context.Background(), url,
			WithClock(clock.Now),
			WithKeyPrefix("bloodlink-test-"+t.Name()+":"))
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		t.Cleanup(func() { rs.Close() })
		stores["redis"] = rs
	}
	return stores
}

func TestStoreGetMissingReturnsNil(t *testing.T) {
	for name, st := range storeFactories(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			s, err := st.Get(context.Background(), "+2348000000001")
			if err != nil || s != nil {
				t.Fatalf("Get() = %v, %v; want nil, nil", s, err)
			}
		})
	}
}

func TestStoreSaveAndGetRoundTrip(t *testing.T) {
	clock := newClock()
	for name, st := range storeFactories(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			phone := "+2348000000002"
			defer st.Delete(ctx, phone)

			s := models.NewSession(phone, models.FlowDonorRegistration, clock.Now())
			s.Step = models.StepBloodType
			s.Context = &models.DonorRegistrationContext{FullName: "Ada Obi"}
			if err := st.Save(ctx, s); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if s.Version != 1 {
				t.Errorf("version after first save = %d, want 1", s.Version)
			}

			got, err := st.Get(ctx, phone)
			if err != nil || got == nil {
				t.Fatalf("Get() = %v, %v", got, err)
			}
			if got.Step != models.StepBloodType || got.Version != 1 {
				t.Errorf("got %s v%d", got.Position(), got.Version)
			}
			if got.DonorRegistration().FullName != "Ada Obi" {
				t.Errorf("context lost: %+v", got.Context)
			}
		})
	}
}

func TestStoreSaveRejectsStaleVersion(t *testing.T) {
	clock := newClock()
	for name, st := range storeFactories(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			phone := "+2348000000003"
			defer st.Delete(ctx, phone)

			if err := st.Save(ctx, models.NewSession(phone, models.FlowWelcome, clock.Now())); err != nil {
				t.Fatalf("initial save: %v", err)
			}
			a, _ := st.Get(ctx, phone)
			b, _ := st.Get(ctx, phone)

			a.Step = models.StepChooseRole
			if err := st.Save(ctx, a); err != nil {
				t.Fatalf("first writer should win: %v", err)
			}
			b.Flow = models.FlowHospitalRegistration
			if err := st.Save(ctx, b); !errors.Is(err, ErrConflict) {
				t.Fatalf("second writer: expected ErrConflict, got %v", err)
			}

			got, _ := st.Get(ctx, phone)
			if got.Flow != models.FlowWelcome || got.Step != models.StepChooseRole {
				t.Errorf("stale write leaked into store: %s", got.Position())
			}
		})
	}
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	clock := newClock()
	st := NewMemoryStore(WithClock(clock.Now), WithTTL(24*time.Hour))
	ctx := context.Background()
	phone := "+2348000000004"

	s := models.NewSession(phone, models.FlowRequest, clock.Now())
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	clock.Advance(23 * time.Hour)
	if got, _ := st.Get(ctx, phone); got == nil {
		t.Fatal("session should still be live after 23h")
	}
	clock.Advance(2 * time.Hour)
	if got, _ := st.Get(ctx, phone); got != nil {
		t.Fatal("session should have expired after 25h idle")
	}
	if st.Len() != 0 {
		t.Error("expired session should be removed on read")
	}

	// A fresh session can be created where the expired one used to be.
	fresh := models.NewSession(phone, models.FlowWelcome, clock.Now())
	if err := st.Save(ctx, fresh); err != nil {
		t.Fatalf("re-derived session save failed: %v", err)
	}
}

func TestMemoryStoreSaveOverExpiredEntryIgnoresVersion(t *testing.T) {
	clock := newClock()
	st := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()
	phone := "+2348000000005"
	s := models.NewSession(phone, models.FlowWelcome, clock.Now())
	st.Save(ctx, s)
	st.Save(ctx, s)
	clock.Advance(DefaultTTL + time.Minute)

	fresh := models.NewSession(phone, models.FlowWelcome, clock.Now())
	if err := st.Save(ctx, fresh); err != nil {
		t.Fatalf("save over expired entry: %v", err)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	clock := newClock()
	st := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()
	st.Save(ctx, models.NewSession("+2348000000010", models.FlowWelcome, clock.Now()))
	clock.Advance(20 * time.Hour)
	st.Save(ctx, models.NewSession("+2348000000011", models.FlowWelcome, clock.Now()))
	clock.Advance(5 * time.Hour)

	removed, err := st.Sweep(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("Sweep() = %d, %v; want 1", removed, err)
	}
	if st.Len() != 1 {
		t.Errorf("expected 1 live session, got %d", st.Len())
	}
}

func TestStoreLockSerializesPerPhone(t *testing.T) {
	for name, st := range storeFactories(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := st.Lock(ctx, "+2348000000020")
					if err != nil {
						t.Errorf("Lock: %v", err)
						return
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					unlock()
				}()
			}
			wg.Wait()
			if maxInside != 1 {
				t.Errorf("expected at most one holder at a time, saw %d", maxInside)
			}
		})
	}
}

func TestStoreLockHonoursContext(t *testing.T) {
	for name, st := range storeFactories(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			unlock, err := st.Lock(context.Background(), "+2348000000021")
			if err != nil {
				t.Fatalf("Lock: %v", err)
			}
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			if _, err := st.Lock(ctx, "+2348000000021"); !errors.Is(err, ErrLocked) {
				t.Fatalf("expected ErrLocked, got %v", err)
			}

			// Other phones are unaffected.
			other, err := st.Lock(context.Background(), "+2348000000022")
			if err != nil {
				t.Fatalf("independent phone should lock: %v", err)
			}
			other()
		})
	}
}

func TestMemoryLockReleaseIsIdempotent(t *testing.T) {
	st := NewMemoryStore()
	unlock, err := st.Lock(context.Background(), "+1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	unlock()
	again, err := st.Lock(context.Background(), "+1")
	if err != nil {
		t.Fatalf("re-lock after double unlock: %v", err)
	}
	again()
	if len(st.locks.locks) != 0 {
		t.Errorf("lock entries leaked: %d", len(st.locks.locks))
	}
}
