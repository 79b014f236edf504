// Package matching implements the hospital request-creation flow and the
// donor acceptance (pledge) flow on top of the durable request store.
package matching

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/BloodLink/internal/flow"
	"github.com/BTreeMap/BloodLink/internal/models"
)

const (
	// MaxShownRequests caps the open requests offered to a donor.
	MaxShownRequests = 10
	// MaxUnitsPerPledge is the most a donor can pledge to one request.
	MaxUnitsPerPledge = 2
	// MaxUnitsPerRequest is the most a hospital can ask for in one request.
	MaxUnitsPerRequest = 15
	// DefaultNotifyLimit caps donors alerted about a new request.
	DefaultNotifyLimit = 25
	// ListLimit caps the hospital request and pledge listings.
	ListLimit = 10
)

// AvailabilityOptions are the donor availability windows, in menu order.
var AvailabilityOptions = []string{
	"Within 24 hours",
	"Within 3 days",
	"Within 1 week",
	"Flexible - contact me",
}

// Outbox message kinds enqueued by this package.
const (
	KindRequestAlert   = "request_alert"
	KindDonationThanks = "donation_thanks"
)

// Matcher owns the Request and Acceptance flows.
type Matcher struct {
	deps        flow.Dependencies
	notifyLimit int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithNotifyLimit overrides DefaultNotifyLimit. Zero disables alerts.
func WithNotifyLimit(n int) Option {
	return func(m *Matcher) { m.notifyLimit = n }
}

// New creates a Matcher.
func New(deps flow.Dependencies, opts ...Option) *Matcher {
	m := &Matcher{deps: deps, notifyLimit: DefaultNotifyLimit}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register installs both flows' step handlers and finalizers.
func (m *Matcher) Register(reg *flow.Registry) {
	reg.RegisterFunc(models.FlowRequest, models.StepStart, m.hospitalIdle)
	reg.RegisterFunc(models.FlowRequest, models.StepBloodType, m.requestBloodType)
	reg.RegisterFunc(models.FlowRequest, models.StepGenotype, m.requestGenotype)
	reg.RegisterFunc(models.FlowRequest, models.StepUnitsNeeded, m.requestUnits)
	reg.RegisterFunc(models.FlowRequest, models.StepUrgency, m.requestUrgency)
	reg.RegisterFunc(models.FlowRequest, models.StepDeadline, m.requestDeadline)
	reg.RegisterFunc(models.FlowRequest, models.StepConfirm, m.requestConfirm)
	reg.RegisterFinalizer(models.FlowRequest, m.finalizeRequest)

	reg.RegisterFunc(models.FlowAcceptance, models.StepStart, m.showRequests)
	reg.RegisterFunc(models.FlowAcceptance, models.StepSelectRequest, m.selectRequest)
	reg.RegisterFunc(models.FlowAcceptance, models.StepPledgeUnits, m.pledgeUnits)
	reg.RegisterFunc(models.FlowAcceptance, models.StepConfirmAvailability, m.confirmAvailability)
	reg.RegisterFunc(models.FlowAcceptance, models.StepFinalConfirm, m.finalConfirm)
	reg.RegisterFinalizer(models.FlowAcceptance, m.finalizePledge)
}

// PromptRequestBloodType opens a new blood request.
var PromptRequestBloodType = flow.LetteredMenu("🩸 New Blood Request\n\nWhich blood type do you need?",
	"A+", "A-", "B+", "B-", "O+", "O-", "AB+", "AB-")

var PromptRequestGenotype = flow.LetteredMenu("Which genotype is required?", "AA", "AS", "AC", "SS") +
	"\n\nReply with the letter or type it (e.g. SC)."

var PromptUrgency = flow.NumberedMenu("How urgent is this request?", "Low", "Medium", "High", "Emergency")

var PromptAvailability = flow.NumberedMenu("When are you available to donate?", AvailabilityOptions...) +
	"\n\nEnter 1, 2, 3, or 4:"

const (
	PromptUnitsNeeded = "How many units are needed? (1-15)"
	PromptDeadline    = "By what date do you need the blood? Reply as YYYY-MM-DD."
	PromptConfirm     = "Type CONFIRM to submit or CANCEL to discard."
	PromptPledgeUnits = "Enter 1 or 2:"

	PromptHospitalHelp = "🏥 Hospital menu\n\n" +
		"• REQUESTS - see your blood requests\n" +
		"• PLEDGES - see donors who pledged\n" +
		"• DONATED <ref> - record a completed donation\n" +
		"• Anything else - create a new blood request"

	MsgNoMatchingRequests = "No matching requests found at the moment. 🎉\n\n" +
		"This means all current blood needs for your type are met!\nCheck back later for new requests."

	MsgRequestUnavailable = "❌ This request is no longer available."
)

func formatDate(r *models.Request) string {
	return r.Deadline.Format("Mon Jan 2 2006")
}

// FormatRequestList renders the numbered list shown to donors.
func FormatRequestList(list []models.Request) string {
	var sb strings.Builder
	sb.WriteString("📋 Matching Blood Requests:\n")
	for i := range list {
		r := &list[i]
		name := r.HospitalName
		if name == "" {
			name = r.HospitalRef
		}
		fmt.Fprintf(&sb, "\n%d. %s\n   🩸 %s | 🧬 %s\n   📦 %d/%d units needed\n   ⚡ %s | 📅 %s\n",
			i+1, name, r.BloodType, r.Genotype, r.Remaining(), r.UnitsNeeded, r.Urgency.Label(), formatDate(r))
	}
	sb.WriteString("\nEnter the number of the request you want to accept (1, 2, 3, etc.):")
	return sb.String()
}

// pledgeable reports whether a request still takes pledges at now.
func pledgeable(r *models.Request, now time.Time) bool {
	if r == nil || !r.Deadline.After(now) || r.Remaining() == 0 {
		return false
	}
	return r.Status == models.RequestActive || r.Status == models.RequestPartiallyFulfilled
}
