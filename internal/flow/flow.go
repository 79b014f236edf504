package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// StepHandler consumes one message at a fixed (Flow, Step) position. It may
// mutate the session it is given (the Router hands it a private copy) and
// returns the transition to apply. A non-nil error is an unexpected fault.
type StepHandler interface {
	Handle(ctx context.Context, s *models.Session, in Input) (Transition, error)
}

// HandlerFunc adapts a function to StepHandler.
type HandlerFunc func(ctx context.Context, s *models.Session, in Input) (Transition, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	return f(ctx, s, in)
}

// Finalizer performs a flow's completion side effect (creating the durable
// entity) and decides where the session goes next.
type Finalizer func(ctx context.Context, s *models.Session, in Input) (Transition, error)

type position struct {
	flow models.Flow
	step models.Step
}

// Registry maps (Flow, Step) pairs to handlers and flows to finalizers.
type Registry struct {
	handlers   map[position]StepHandler
	finalizers map[models.Flow]Finalizer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[position]StepHandler),
		finalizers: make(map[models.Flow]Finalizer),
	}
}

// Register associates a (Flow, Step) pair with a handler.
func (r *Registry) Register(flow models.Flow, step models.Step, h StepHandler) {
	if !models.IsValidStep(flow, step) {
		slog.Warn("Registry.Register: step not in flow enum", "flow", flow, "step", step)
	}
	r.handlers[position{flow, step}] = h
}

// RegisterFunc registers a plain function.
func (r *Registry) RegisterFunc(flow models.Flow, step models.Step, f HandlerFunc) {
	r.Register(flow, step, f)
}

// RegisterFinalizer sets the completion side effect of a flow.
func (r *Registry) RegisterFinalizer(flow models.Flow, f Finalizer) {
	r.finalizers[flow] = f
}

// Lookup retrieves the handler for a position.
func (r *Registry) Lookup(flow models.Flow, step models.Step) (StepHandler, bool) {
	h, ok := r.handlers[position{flow, step}]
	return h, ok
}

// Finalizer retrieves the finalizer of a flow.
func (r *Registry) Finalizer(flow models.Flow) (Finalizer, bool) {
	f, ok := r.finalizers[flow]
	return f, ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	return len(r.handlers)
}
