package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/BloodLink/internal/eligibility"
	"github.com/BTreeMap/BloodLink/internal/flow"
	"github.com/BTreeMap/BloodLink/internal/metrics"
	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/store"
	"github.com/BTreeMap/BloodLink/internal/validation"
)

// exitWords leave the acceptance flow before anything is pledged.
var exitWords = map[string]bool{"cancel": true, "back": true, "menu": true, "exit": true}

func backToIdle(reply string) flow.Transition {
	t := flow.Goto(models.FlowDonation, models.StepIdle, reply)
	t.Outcome = flow.OutcomeRejected
	return t
}

func (m *Matcher) donor(ctx context.Context, phone string) (*models.Donor, error) {
	d, err := m.deps.Store.GetDonorByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to load donor %s: %w", phone, err)
	}
	return d, nil
}

// showRequests lists open requests for the donor's blood type, most urgent
// then newest first.
func (m *Matcher) showRequests(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	donor, err := m.donor(ctx, in.Phone)
	if err != nil {
		return flow.Transition{}, err
	}
	if donor == nil || !donor.Verified() {
		slog.Warn("Matcher.showRequests: no verified donor", "phone", in.Phone)
		return flow.Transition{NextFlow: models.FlowWelcome, Role: models.RoleNone, Continue: true}, nil
	}
	list, err := m.deps.Store.ListOpenRequests(ctx, donor.BloodType, in.Now, MaxShownRequests)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to list open requests for %s: %w", donor.BloodType, err)
	}
	if len(list) == 0 {
		return flow.Goto(models.FlowDonation, models.StepIdle, MsgNoMatchingRequests), nil
	}
	c := &models.AcceptanceContext{ShownRequestIDs: make([]string, len(list))}
	for i, r := range list {
		c.ShownRequestIDs[i] = r.RequestID
	}
	return flow.Advance(models.StepSelectRequest, c, FormatRequestList(list)), nil
}

func (m *Matcher) selectRequest(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	if exitWords[in.Normalized()] {
		return backToIdle("OK, nothing was pledged. Reply DONATE whenever you want to see requests again."), nil
	}
	c := s.Acceptance()
	idx, err := validation.MenuIndex(in.Text, len(c.ShownRequestIDs))
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), "Please enter a valid number from the list, or CANCEL."), nil
	}
	r, err := m.deps.Store.GetRequest(ctx, c.ShownRequestIDs[idx])
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to load request %s: %w", c.ShownRequestIDs[idx], err)
	}
	if !pledgeable(r, in.Now) {
		return m.restart(MsgRequestUnavailable), nil
	}
	c.RequestID = r.RequestID
	reply := fmt.Sprintf("✅ Selected: %s\n\nHow many units can you pledge?\n• Maximum: %d units\n• Remaining needed: %d units\n\n%s",
		r.HospitalName, MaxUnitsPerPledge, r.Remaining(), PromptPledgeUnits)
	return flow.Advance(models.StepPledgeUnits, c, reply), nil
}

// restart re-shows the request list after the chosen request went away.
func (m *Matcher) restart(reason string) flow.Transition {
	return flow.Transition{
		Reply:    reason,
		Outcome:  flow.OutcomeRejected,
		NextStep: models.StepStart,
		Context:  &models.AcceptanceContext{},
		Continue: true,
	}
}

func (m *Matcher) pledgeUnits(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	if exitWords[in.Normalized()] {
		return backToIdle("OK, nothing was pledged."), nil
	}
	units, err := validation.IntInRange("units", in.Text, 1, MaxUnitsPerPledge)
	if err != nil {
		return flow.Reprompt("Please enter 1 or 2.", PromptPledgeUnits), nil
	}
	donor, err := m.donor(ctx, in.Phone)
	if err != nil {
		return flow.Transition{}, err
	}
	if donor == nil {
		return flow.Transition{NextFlow: models.FlowWelcome, Role: models.RoleNone, Continue: true}, nil
	}
	if res := eligibility.EvaluateDonor(donor, in.Now); !res.Eligible() {
		return backToIdle("❌ You are not currently eligible to donate:\n• " + strings.Join(res.Reasons, "\n• ")), nil
	}
	c := s.Acceptance()
	r, err := m.deps.Store.GetRequest(ctx, c.RequestID)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to load request %s: %w", c.RequestID, err)
	}
	if !pledgeable(r, in.Now) {
		return m.restart(MsgRequestUnavailable), nil
	}
	if units > r.Remaining() {
		return flow.Reprompt(fmt.Sprintf("Only %d unit(s) remaining needed.", r.Remaining()), PromptPledgeUnits), nil
	}
	c.UnitsPledged = units
	return flow.Advance(models.StepConfirmAvailability, c, PromptAvailability), nil
}

func (m *Matcher) confirmAvailability(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	if exitWords[in.Normalized()] {
		return backToIdle("OK, nothing was pledged."), nil
	}
	idx, err := validation.MenuIndex(in.Text, len(AvailabilityOptions))
	if err != nil {
		return flow.Reprompt("Please enter 1, 2, 3, or 4.", PromptAvailability), nil
	}
	c := s.Acceptance()
	c.Availability = AvailabilityOptions[idx]
	r, err := m.deps.Store.GetRequest(ctx, c.RequestID)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to load request %s: %w", c.RequestID, err)
	}
	if r == nil {
		return m.restart(MsgRequestUnavailable), nil
	}
	reply := fmt.Sprintf("📋 Please Confirm Your Pledge:\n\n🏥 Hospital: %s\n🩸 Blood Type: %s\n🧬 Genotype: %s\n📦 Units Pledged: %d\n📅 Availability: %s\n\nType CONFIRM to proceed or CANCEL to stop.",
		r.HospitalName, r.BloodType, r.Genotype, c.UnitsPledged, c.Availability)
	return flow.Advance(models.StepFinalConfirm, c, reply), nil
}

func (m *Matcher) finalConfirm(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	ok, err := validation.Confirmation(in.Text)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), "Type CONFIRM to proceed or CANCEL to stop."), nil
	}
	if !ok {
		return backToIdle("❌ Pledge cancelled. Reply DONATE to start over."), nil
	}
	return flow.Transition{Context: s.Acceptance(), Complete: true}, nil
}

// finalizePledge records the acceptance. The store applies the units with a
// single conditional update, so a pledge that lost a race to another donor
// is rejected here rather than overfilling the request.
func (m *Matcher) finalizePledge(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	c := s.Acceptance()
	if c.RequestID == "" || c.UnitsPledged == 0 {
		return m.restart("⚠️ Your pledge details were lost. Let's start again."), nil
	}
	donor, err := m.donor(ctx, in.Phone)
	if err != nil {
		return flow.Transition{}, err
	}
	if donor == nil {
		return flow.Transition{}, fmt.Errorf("donor %s: %w", in.Phone, store.ErrNotFound)
	}

	a := &models.Acceptance{
		RequestID:    c.RequestID,
		DonorID:      donor.DonorID,
		DonorPhone:   donor.Phone,
		UnitsPledged: c.UnitsPledged,
		Availability: c.Availability,
	}
	r, err := m.deps.Store.PledgeAcceptance(ctx, a, in.Now)
	switch {
	case errors.Is(err, store.ErrOverPledge):
		metrics.Pledges.WithLabelValues("over_pledge").Inc()
		remaining := 0
		if r != nil {
			remaining = r.Remaining()
		}
		return backToIdle(fmt.Sprintf("❌ Sorry, other donors pledged first. Only %d unit(s) are still needed for this request.\n\nReply DONATE to pledge again.", remaining)), nil
	case errors.Is(err, store.ErrRequestClosed), errors.Is(err, store.ErrNotFound):
		metrics.Pledges.WithLabelValues("closed").Inc()
		return backToIdle(MsgRequestUnavailable + "\n\nReply DONATE to see other requests."), nil
	case errors.Is(err, store.ErrDuplicate):
		metrics.Pledges.WithLabelValues("duplicate").Inc()
		return backToIdle("You've already pledged to this request. Reply HISTORY to see your pledges."), nil
	case err != nil:
		metrics.Pledges.WithLabelValues("error").Inc()
		return flow.Transition{}, fmt.Errorf("failed to pledge to %s: %w", c.RequestID, err)
	}
	metrics.Pledges.WithLabelValues("success").Inc()
	slog.Info("Matcher.finalizePledge: pledge recorded", "donorID", donor.DonorID, "requestID", r.RequestID,
		"units", a.UnitsPledged, "status", r.Status)

	reply := fmt.Sprintf("✅ Pledge Confirmed! Thank You! 🎉\n\nYou've pledged %d unit(s) to %s.\n\n📅 Your Availability: %s\n\n💡 Next Steps:\n• Visit the hospital within your stated availability\n• Bring valid ID for verification\n• Stay hydrated before donation\n\nThank you for saving lives! ❤️",
		a.UnitsPledged, r.HospitalName, a.Availability)
	return flow.Goto(models.FlowDonation, models.StepIdle, reply), nil
}
