package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/BTreeMap/BloodLink/internal/metrics"
	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/session"
)

// DefaultLockTimeout bounds how long a dispatch waits for another message
// from the same phone to finish.
const DefaultLockTimeout = 10 * time.Second

// maxHops bounds Continue chains within one dispatch.
const maxHops = 4

// Records is the durable lookup used to re-derive a session for a phone
// whose session expired or never existed.
type Records interface {
	GetDonorByPhone(ctx context.Context, phone string) (*models.Donor, error)
	GetHospitalByPhone(ctx context.Context, phone string) (*models.Hospital, error)
}

// Router loads the session for an inbound message, runs the handler of
// its (Flow, Step) and saves the result. Messages from one phone are
// processed one at a time; different phones run concurrently.
type Router struct {
	sessions    session.Store
	records     Records
	registry    *Registry
	now         func() time.Time
	lockTimeout time.Duration
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithClock overrides the router's time source.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// WithLockTimeout sets how long Dispatch waits for the per-phone lock.
func WithLockTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.lockTimeout = d }
}

// NewRouter creates a Router.
func NewRouter(sessions session.Store, records Records, registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		sessions:    sessions,
		records:     records,
		registry:    registry,
		now:         time.Now,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch routes one inbound message and returns exactly one reply.
// Dispatch never fails: faults become an apology and leave the session as
// it was.
func (r *Router) Dispatch(ctx context.Context, phone, text string, media *models.Media) string {
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	reply, flowName, outcome := r.dispatch(ctx, phone, text, media)
	metrics.InboundMessages.WithLabelValues(flowName, outcome).Inc()
	if strings.TrimSpace(reply) == "" {
		reply = MsgGenericError
	}
	return reply
}

func (r *Router) dispatch(ctx context.Context, phone, text string, media *models.Media) (reply, flowName, outcome string) {
	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	unlock, err := r.sessions.Lock(lockCtx, phone)
	cancel()
	if err != nil {
		slog.Warn("Router.Dispatch: phone busy", "phone", phone, "error", err)
		metrics.SessionConflicts.Inc()
		return MsgStillProcessing, "unknown", "conflict"
	}
	defer unlock()

	now := r.now()
	s, err := r.load(ctx, phone, now)
	if err != nil {
		slog.Error("Router.Dispatch: failed to load session", "phone", phone, "error", err)
		return MsgApology, "unknown", "error"
	}
	flowName = string(s.Flow)

	in := Input{Phone: phone, Text: text, Media: media, Now: now}
	work, err := s.Clone()
	if err != nil {
		slog.Error("Router.Dispatch: failed to copy session", "phone", phone, "error", err)
		return MsgApology, flowName, "error"
	}

	var replies []string
	last := OutcomeAdvanced
	for hop := 0; ; hop++ {
		h, ok := r.registry.Lookup(work.Flow, work.Step)
		if !ok {
			slog.Warn("Router.Dispatch: no handler registered", "phone", phone, "position", work.Position())
			if len(replies) == 0 {
				return MsgGenericError, flowName, "unrouted"
			}
			break
		}
		t, err := r.invoke(ctx, h, work, in)
		if err != nil {
			slog.Error("Router.Dispatch: handler failed", "phone", phone, "position", work.Position(), "error", err)
			return MsgApology, flowName, "error"
		}
		if hop == 0 {
			last = t.Outcome
		}
		apply(work, t)
		if t.Complete {
			fin, ferr := r.finalize(ctx, work, in)
			if ferr != nil {
				slog.Error("Router.Dispatch: finalizer failed", "phone", phone, "flow", work.Flow, "error", ferr)
				return MsgApology, flowName, "error"
			}
			if t.Reply != "" {
				replies = append(replies, t.Reply)
			}
			t = fin
			applyFinal(work, fin)
		}
		if t.Reply != "" {
			replies = append(replies, t.Reply)
		}
		if !t.Continue || hop+1 >= maxHops {
			break
		}
	}

	if err := r.sessions.Save(ctx, work); err != nil {
		if errors.Is(err, session.ErrConflict) {
			metrics.SessionConflicts.Inc()
			slog.Warn("Router.Dispatch: session changed concurrently", "phone", phone)
			return MsgStillProcessing, flowName, "conflict"
		}
		slog.Error("Router.Dispatch: failed to save session", "phone", phone, "error", err)
		return MsgApology, flowName, "error"
	}
	slog.Debug("Router.Dispatch: handled", "phone", phone, "from", s.Position(), "to", work.Position(), "outcome", last)
	return strings.Join(replies, "\n\n"), flowName, last.String()
}

// invoke runs a handler, converting a panic into an error.
func (r *Router) invoke(ctx context.Context, h StepHandler, s *models.Session, in Input) (t Transition, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Router.invoke: handler panicked", "position", s.Position(), "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler for %s panicked: %v", s.Position(), p)
		}
	}()
	return h.Handle(ctx, s, in)
}

func (r *Router) finalize(ctx context.Context, s *models.Session, in Input) (t Transition, err error) {
	fin, ok := r.registry.Finalizer(s.Flow)
	if !ok {
		return Transition{}, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("finalizer for %s panicked: %v", s.Flow, p)
		}
	}()
	return fin(ctx, s, in)
}

// apply commits a transition to the working session.
func apply(s *models.Session, t Transition) {
	if t.NextFlow != "" && t.NextFlow != s.Flow {
		s.Flow = t.NextFlow
		s.Step = models.EntryStep(t.NextFlow)
		s.Context = models.NewContextFor(t.NextFlow)
	}
	if t.NextStep != "" {
		s.Step = t.NextStep
	}
	if t.Context != nil {
		s.Context = t.Context
	}
	if t.Role != models.RoleNone {
		s.Role = t.Role
	}
}

// applyFinal commits a finalizer's transition. The collected context is
// dropped unless the finalizer hands one back.
func applyFinal(s *models.Session, t Transition) {
	moved := t.NextFlow != "" && t.NextFlow != s.Flow
	apply(s, t)
	if !moved && t.Context == nil {
		s.Context = models.NewContextFor(s.Flow)
	}
}

// load returns the live session for phone, re-deriving one from durable
// records when it is missing, and repairing a position outside its flow.
func (r *Router) load(ctx context.Context, phone string, now time.Time) (*models.Session, error) {
	s, err := r.sessions.Get(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to get session for %s: %w", phone, err)
	}
	if s == nil {
		return r.derive(ctx, phone, now)
	}
	if !models.IsValidFlow(s.Flow) {
		slog.Warn("Router.load: unknown flow, restarting", "phone", phone, "flow", s.Flow)
		s.Flow = models.FlowWelcome
		s.Step = models.EntryStep(models.FlowWelcome)
		s.Context = nil
	} else if !models.IsValidStep(s.Flow, s.Step) {
		slog.Warn("Router.load: step outside flow, restarting flow", "phone", phone, "position", s.Position())
		s.Step = models.EntryStep(s.Flow)
		s.Context = models.NewContextFor(s.Flow)
	}
	return s, nil
}

// derive builds a fresh session positioned according to what the durable
// store knows about phone.
func (r *Router) derive(ctx context.Context, phone string, now time.Time) (*models.Session, error) {
	place := func(flow models.Flow, step models.Step, role models.Role) *models.Session {
		s := models.NewSession(phone, flow, now)
		s.Step = step
		s.Role = role
		return s
	}
	if r.records == nil {
		return place(models.FlowWelcome, models.StepStart, models.RoleNone), nil
	}
	donor, err := r.records.GetDonorByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to look up donor %s: %w", phone, err)
	}
	if donor != nil {
		switch donor.Verification {
		case models.VerificationVerified:
			return place(models.FlowDonation, models.StepIdle, models.RoleDonor), nil
		case models.VerificationFailed:
			return place(models.FlowDonorVerification, models.StepFailed, models.RoleDonor), nil
		default:
			return place(models.FlowDonorVerification, models.StepStart, models.RoleDonor), nil
		}
	}
	hospital, err := r.records.GetHospitalByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to look up hospital %s: %w", phone, err)
	}
	if hospital != nil {
		switch hospital.Status {
		case models.HospitalApproved:
			return place(models.FlowRequest, models.StepStart, models.RoleHospital), nil
		case models.HospitalRejected:
			return place(models.FlowHospitalVerification, models.StepFailed, models.RoleHospital), nil
		default:
			return place(models.FlowHospitalVerification, models.StepStart, models.RoleHospital), nil
		}
	}
	return place(models.FlowWelcome, models.StepStart, models.RoleNone), nil
}
