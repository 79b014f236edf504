// Package flow is the conversation state machine: step handlers registered
// per (Flow, Step), and the Router that loads a phone's session, runs the
// matching handler and commits the resulting transition.
package flow

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/store"
	"github.com/BTreeMap/BloodLink/internal/util"
)

// Outcome classifies what a handler did with the input.
type Outcome int

const (
	// OutcomeAdvanced means the input was accepted.
	OutcomeAdvanced Outcome = iota
	// OutcomeInvalidInput means the input failed validation; the step stays put.
	OutcomeInvalidInput
	// OutcomeRejected means the input was well formed but a business rule refused it.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeInvalidInput:
		return "invalid_input"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Input is one inbound message as seen by a handler.
type Input struct {
	Phone string
	Text  string
	Media *models.Media
	Now   time.Time
}

// Normalized returns the trimmed, lower-cased text.
func (in Input) Normalized() string {
	return strings.ToLower(strings.TrimSpace(in.Text))
}

// HasMedia reports whether an attachment came with the message.
func (in Input) HasMedia() bool {
	return in.Media != nil && (in.Media.URL != "" || len(in.Media.Data) > 0)
}

// Transition is a handler's decision. Zero-valued fields leave the session
// unchanged: an empty NextFlow keeps the flow, an empty NextStep keeps the
// step (or enters the new flow's entry step), a nil Context keeps the
// context (or starts the new flow's empty one).
type Transition struct {
	Reply    string
	Outcome  Outcome
	NextFlow models.Flow
	NextStep models.Step
	Context  models.FlowContext
	Role     models.Role
	// Complete asks the Router to run the flow's finalizer after applying
	// this transition.
	Complete bool
	// Continue runs the handler of the new position with the same input,
	// appending its reply. Used when entering a flow whose first step
	// only prompts.
	Continue bool
}

// Advance moves to the next step of the current flow.
func Advance(step models.Step, ctx models.FlowContext, reply string) Transition {
	return Transition{Reply: reply, NextStep: step, Context: ctx}
}

// Goto enters another flow. An empty step means the flow's entry step.
func Goto(flow models.Flow, step models.Step, reply string) Transition {
	return Transition{Reply: reply, NextFlow: flow, NextStep: step}
}

// Reprompt rejects malformed input: the reason followed by the step's
// original instructions.
func Reprompt(reason, prompt string) Transition {
	reply := prompt
	if reason != "" {
		reply = "❌ " + reason + "\n\n" + prompt
	}
	return Transition{Reply: reply, Outcome: OutcomeInvalidInput}
}

// Reject reports a business-rule refusal without moving.
func Reject(reply string) Transition {
	return Transition{Reply: reply, Outcome: OutcomeRejected}
}

// Stay replies without changing anything.
func Stay(reply string) Transition {
	return Transition{Reply: reply}
}

// MediaStore persists an inbound attachment and returns its durable URL.
type MediaStore interface {
	Save(ctx context.Context, phone, kind string, media *models.Media) (string, error)
}

// Answerer answers free text that no command or intent matched.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Dependencies holds what the built-in handlers need.
type Dependencies struct {
	Store    store.Store
	Media    MediaStore
	IDs      util.IntSource
	Answerer Answerer
}

// IDSource returns the configured IntSource or util.DefaultSource.
func (d Dependencies) IDSource() util.IntSource {
	if d.IDs == nil {
		return util.DefaultSource
	}
	return d.IDs
}
