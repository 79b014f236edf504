package flow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/session"
	"github.com/BTreeMap/BloodLink/internal/store"
	"github.com/BTreeMap/BloodLink/internal/testutil"
)

const (
	replyVerifyStart     = "verification started"
	replyAcceptanceStart = "acceptance started"
	replyHospitalVerify  = "hospital verification started"
)

type fakeMedia struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (f *fakeMedia) Save(ctx context.Context, phone, kind string, m *models.Media) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	url := "https://files.test/verifications/" + phone + "/" + kind + ".jpg"
	f.saved = append(f.saved, url)
	return url, nil
}

type fakeAnswerer struct {
	answer string
	err    error
	asked  []string
}

func (f *fakeAnswerer) Answer(ctx context.Context, q string) (string, error) {
	f.asked = append(f.asked, q)
	return f.answer, f.err
}

type harness struct {
	t        *testing.T
	store    *store.SQLiteStore
	sessions *session.MemoryStore
	registry *Registry
	router   *Router
	clock    *testutil.Clock
	media    *fakeMedia
}

func newHarness(t *testing.T, answerer Answerer) *harness {
	t.Helper()
	clock := testutil.NewClock()
	h := &harness{
		t:        t,
		store:    testutil.NewSQLiteStore(t),
		sessions: session.NewMemoryStore(session.WithClock(clock.Now)),
		registry: NewRegistry(),
		clock:    clock,
		media:    &fakeMedia{},
	}
	deps := Dependencies{Store: h.store, Media: h.media, IDs: testutil.FixedSource(7), Answerer: answerer}
	RegisterCore(h.registry, deps)

	// Stand-ins for flows owned by other packages.
	h.registry.RegisterFunc(models.FlowDonorVerification, models.StepStart, func(ctx context.Context, s *models.Session, in Input) (Transition, error) {
		return Advance(models.StepAskIdentifier, nil, replyVerifyStart), nil
	})
	h.registry.RegisterFunc(models.FlowHospitalVerification, models.StepStart, func(ctx context.Context, s *models.Session, in Input) (Transition, error) {
		return Advance(models.StepAskIdentifier, nil, replyHospitalVerify), nil
	})
	h.registry.RegisterFunc(models.FlowAcceptance, models.StepStart, func(ctx context.Context, s *models.Session, in Input) (Transition, error) {
		return Advance(models.StepSelectRequest, nil, replyAcceptanceStart), nil
	})

	h.router = NewRouter(h.sessions, h.store, h.registry, WithClock(clock.Now))
	return h
}

func (h *harness) send(phone, text string) string {
	h.t.Helper()
	return h.router.Dispatch(context.Background(), phone, text, nil)
}

func (h *harness) sendMedia(phone string, m *models.Media) string {
	h.t.Helper()
	return h.router.Dispatch(context.Background(), phone, "media_upload", m)
}

func (h *harness) session(phone string) *models.Session {
	h.t.Helper()
	s, err := h.sessions.Get(context.Background(), phone)
	if err != nil {
		h.t.Fatalf("sessions.Get(%s) failed: %v", phone, err)
	}
	if s == nil {
		h.t.Fatalf("no session for %s", phone)
	}
	return s
}

func (h *harness) assertPosition(phone string, flow models.Flow, step models.Step) {
	h.t.Helper()
	s := h.session(phone)
	if s.Flow != flow || s.Step != step {
		h.t.Fatalf("position = %s, want %s/%s", s.Position(), flow, step)
	}
}

var errBoom = errors.New("boom")
