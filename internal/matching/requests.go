package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/BloodLink/internal/eligibility"
	"github.com/BTreeMap/BloodLink/internal/flow"
	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/store"
	"github.com/BTreeMap/BloodLink/internal/util"
	"github.com/BTreeMap/BloodLink/internal/validation"
)

// createAttempts bounds request ID collisions before giving up.
const createAttempts = 3

// hospitalIdle answers an approved hospital's commands at Request/Start.
// Anything that is not a command opens a new request.
func (m *Matcher) hospitalIdle(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	hospital, err := m.deps.Store.GetHospitalByPhone(ctx, in.Phone)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to load hospital %s: %w", in.Phone, err)
	}
	if hospital == nil {
		slog.Warn("Matcher.hospitalIdle: no hospital record, restarting", "phone", in.Phone)
		return flow.Transition{NextFlow: models.FlowWelcome, Role: models.RoleNone, Continue: true}, nil
	}
	switch hospital.Status {
	case models.HospitalRejected:
		return flow.Transition{NextFlow: models.FlowHospitalVerification, NextStep: models.StepFailed, Continue: true}, nil
	case models.HospitalPending:
		return flow.Transition{NextFlow: models.FlowHospitalVerification, Continue: true}, nil
	}

	command, arg, _ := strings.Cut(in.Normalized(), " ")
	switch command {
	case "help", "menu":
		return flow.Stay(PromptHospitalHelp), nil
	case "requests", "list":
		return m.listRequests(ctx, hospital)
	case "pledges", "donors":
		return m.listPledges(ctx, hospital)
	case "donated", "done":
		return m.recordDonation(ctx, hospital, in, strings.TrimSpace(arg))
	}
	return flow.Advance(models.StepBloodType, &models.RequestContext{}, PromptRequestBloodType), nil
}

func (m *Matcher) listRequests(ctx context.Context, h *models.Hospital) (flow.Transition, error) {
	list, err := m.deps.Store.ListRequestsByHospital(ctx, h.Reference, ListLimit)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to list requests for %s: %w", h.Reference, err)
	}
	if len(list) == 0 {
		return flow.Stay("You have no blood requests yet. Reply with anything to create one."), nil
	}
	var sb strings.Builder
	sb.WriteString("Your blood requests:\n")
	for i, r := range list {
		fmt.Fprintf(&sb, "\n%d. %s\n   🩸 %s %s | 📦 %d/%d pledged\n   %s | due %s\n",
			i+1, r.RequestID, r.BloodType, r.Genotype, r.UnitsPledged, r.UnitsNeeded,
			strings.ReplaceAll(string(r.Status), "_", " "), r.Deadline.Format("2006-01-02"))
	}
	return flow.Stay(strings.TrimRight(sb.String(), "\n")), nil
}

// pledgeRef is the short acceptance reference hospitals quote back.
func pledgeRef(a *models.Acceptance) string {
	id := strings.ToUpper(strings.ReplaceAll(a.ID, "-", ""))
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

func (m *Matcher) listPledges(ctx context.Context, h *models.Hospital) (flow.Transition, error) {
	list, err := m.deps.Store.ListPendingAcceptancesByHospital(ctx, h.Reference, ListLimit)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to list pledges for %s: %w", h.Reference, err)
	}
	if len(list) == 0 {
		return flow.Stay("No pending pledges right now."), nil
	}
	var sb strings.Builder
	sb.WriteString("Pending pledges:\n")
	for i := range list {
		a := &list[i]
		fmt.Fprintf(&sb, "\n%d. Ref %s - %s\n   📞 %s | 📦 %d unit(s) | 📅 %s\n",
			i+1, pledgeRef(a), a.RequestID, a.DonorPhone, a.UnitsPledged, a.Availability)
	}
	sb.WriteString("\nAfter a donor has donated, reply DONATED <ref>.")
	return flow.Stay(sb.String()), nil
}

// recordDonation completes a pending pledge and updates the donor's
// donation history, cooldown and eligibility.
func (m *Matcher) recordDonation(ctx context.Context, h *models.Hospital, in flow.Input, ref string) (flow.Transition, error) {
	ref = strings.ToUpper(strings.ReplaceAll(ref, "-", ""))
	if ref == "" {
		return flow.Reject("Reply PLEDGES to see pending pledges, then DONATED <ref>."), nil
	}
	list, err := m.deps.Store.ListPendingAcceptancesByHospital(ctx, h.Reference, 100)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to list pledges for %s: %w", h.Reference, err)
	}
	var match *models.Acceptance
	for i := range list {
		if strings.HasPrefix(pledgeRef(&list[i]), ref) {
			if match != nil {
				return flow.Reject("That reference matches more than one pledge. Please send the full reference."), nil
			}
			match = &list[i]
		}
	}
	if match == nil {
		return flow.Reject(fmt.Sprintf("No pending pledge with reference %s.", ref)), nil
	}

	at := in.Now
	cooldown := eligibility.CooldownUntil(at)
	done, donor, err := m.deps.Store.CompleteAcceptance(ctx, match.ID, at, func(d *models.Donor) error {
		d.TotalDonations++
		d.LastDonationAt = &at
		d.CooldownUntil = &cooldown
		eligibility.Apply(d, at)
		d.UpdatedAt = at
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return flow.Reject("That pledge is no longer pending."), nil
	}
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to complete pledge %s: %w", match.ID, err)
	}
	if donor == nil {
		slog.Warn("Matcher.recordDonation: pledge donor not found", "acceptanceID", done.ID, "donorID", done.DonorID)
		return flow.Stay(fmt.Sprintf("✅ Donation recorded for pledge %s.", pledgeRef(done))), nil
	}
	slog.Info("Matcher.recordDonation: donation recorded", "hospital", h.Reference, "donorID", donor.DonorID, "acceptanceID", done.ID)

	thanks := fmt.Sprintf("❤️ Thank you for donating at %s! Your donation has been recorded.\n\nYou can donate again from %s.",
		h.Name, cooldown.Format("Mon Jan 2 2006"))
	if _, err := m.deps.Store.EnqueueOutboxMessage(ctx, donor.Phone, KindDonationThanks, thanks, "thanks:"+done.ID); err != nil {
		slog.Warn("Matcher.recordDonation: failed to enqueue thank-you", "phone", donor.Phone, "error", err)
	}
	return flow.Stay(fmt.Sprintf("✅ Donation recorded for %s (%s). Total donations: %d.",
		donor.FullName, donor.DonorID, donor.TotalDonations)), nil
}

func (m *Matcher) requestBloodType(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	bt, err := validation.BloodTypeChoice(in.Text)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), PromptRequestBloodType), nil
	}
	c := s.Request()
	c.BloodType = bt
	return flow.Advance(models.StepGenotype, c, PromptRequestGenotype), nil
}

func (m *Matcher) requestGenotype(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	g, err := validation.GenotypeChoice(in.Text)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), PromptRequestGenotype), nil
	}
	c := s.Request()
	c.Genotype = g
	return flow.Advance(models.StepUnitsNeeded, c, PromptUnitsNeeded), nil
}

func (m *Matcher) requestUnits(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	n, err := validation.IntInRange("units", in.Text, 1, MaxUnitsPerRequest)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), PromptUnitsNeeded), nil
	}
	c := s.Request()
	c.UnitsNeeded = n
	return flow.Advance(models.StepUrgency, c, PromptUrgency), nil
}

func (m *Matcher) requestUrgency(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	u, err := validation.UrgencyChoice(in.Text)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), PromptUrgency), nil
	}
	c := s.Request()
	c.Urgency = u
	return flow.Advance(models.StepDeadline, c, PromptDeadline), nil
}

func (m *Matcher) requestDeadline(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	deadline, err := validation.Deadline(in.Text, in.Now)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), PromptDeadline), nil
	}
	c := s.Request()
	c.Deadline = &deadline
	return flow.Advance(models.StepConfirm, c, requestSummary(c)), nil
}

func requestSummary(c *models.RequestContext) string {
	deadline := ""
	if c.Deadline != nil {
		deadline = c.Deadline.Format("2006-01-02")
	}
	return fmt.Sprintf("📋 Please confirm your request:\n\n🩸 Blood type: %s\n🧬 Genotype: %s\n📦 Units: %d\n⚡ Urgency: %s\n📅 Deadline: %s\n\n%s",
		c.BloodType, c.Genotype, c.UnitsNeeded, c.Urgency.Label(), deadline, PromptConfirm)
}

func (m *Matcher) requestConfirm(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	ok, err := validation.Confirmation(in.Text)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), PromptConfirm), nil
	}
	c := s.Request()
	if !ok {
		return flow.Transition{
			Reply:    "❌ Request discarded. Reply with anything to start a new one, or HELP for the menu.",
			NextStep: models.StepStart,
			Context:  &models.RequestContext{},
		}, nil
	}
	return flow.Transition{Context: c, Complete: true}, nil
}

// finalizeRequest persists the confirmed request as Active and alerts
// matching donors.
func (m *Matcher) finalizeRequest(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	c := s.Request()
	if c.BloodType == "" || c.Genotype == "" || c.UnitsNeeded == 0 || c.Urgency == "" || c.Deadline == nil {
		return flow.Transition{
			Reply:    "⚠️ Some request details were lost. Let's start again.\n\n" + PromptRequestBloodType,
			Outcome:  flow.OutcomeRejected,
			NextStep: models.StepBloodType,
			Context:  &models.RequestContext{},
		}, nil
	}
	hospital, err := m.deps.Store.GetHospitalByPhone(ctx, in.Phone)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to load hospital %s: %w", in.Phone, err)
	}
	if hospital == nil {
		return flow.Transition{}, fmt.Errorf("hospital %s: %w", in.Phone, store.ErrNotFound)
	}

	r := &models.Request{
		HospitalRef:  hospital.Reference,
		HospitalName: hospital.Name,
		BloodType:    c.BloodType,
		Genotype:     c.Genotype,
		UnitsNeeded:  c.UnitsNeeded,
		Urgency:      c.Urgency,
		Status:       models.RequestActive,
		Deadline:     *c.Deadline,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	for attempt := 1; ; attempt++ {
		r.RequestID = util.RequestID(in.Now, m.deps.IDSource())
		err = m.deps.Store.CreateRequest(ctx, r)
		if !errors.Is(err, store.ErrDuplicate) || attempt >= createAttempts {
			break
		}
	}
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to create request for %s: %w", hospital.Reference, err)
	}
	slog.Info("Matcher.finalizeRequest: request created", "requestID", r.RequestID, "hospital", hospital.Reference,
		"bloodType", r.BloodType, "units", r.UnitsNeeded, "urgency", r.Urgency)

	notified := m.notifyDonors(ctx, r)
	reply := fmt.Sprintf("✅ Blood request created!\n\nRequest ID: %s\n🩸 %s %s | 📦 %d unit(s) | ⚡ %s\n📅 Deadline: %s\n\n📣 %d matching donor(s) notified.\n\nReply REQUESTS to track it.",
		r.RequestID, r.BloodType, r.Genotype, r.UnitsNeeded, r.Urgency.Label(), r.Deadline.Format("2006-01-02"), notified)
	return flow.Transition{Reply: reply, NextStep: models.StepStart}, nil
}
