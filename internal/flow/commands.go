package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/BloodLink/internal/eligibility"
	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/store"
	"github.com/BTreeMap/BloodLink/internal/validation"
)

// HistoryLimit is how many pledges the history command lists.
const HistoryLimit = 10

// donorCommands answers a verified donor's keyword commands while idle.
type donorCommands struct {
	deps Dependencies
}

func (d *donorCommands) register(reg *Registry) {
	reg.Register(models.FlowDonation, models.StepIdle, HandlerFunc(d.handle))
}

func (d *donorCommands) handle(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	donor, err := d.deps.Store.GetDonorByPhone(ctx, in.Phone)
	if err != nil {
		return Transition{}, fmt.Errorf("failed to load donor %s: %w", in.Phone, err)
	}
	if donor == nil {
		slog.Warn("donorCommands.handle: no donor record, restarting", "phone", in.Phone)
		return Transition{NextFlow: models.FlowWelcome, Role: models.RoleNone, Continue: true}, nil
	}

	text := in.Normalized()
	command, arg, _ := strings.Cut(text, " ")
	switch command {
	case "status", "profile":
		return d.status(ctx, donor, in)
	case "help", "menu":
		return Stay(PromptDonorHelp), nil
	case "donate", "available":
		return d.donate(ctx, donor, in)
	case "busy", "unavailable":
		return d.setAvailable(ctx, donor, in, false)
	case "history", "donations":
		return d.history(ctx, donor)
	case "cancel":
		return d.cancel(ctx, donor, in, strings.TrimSpace(arg))
	case "update", "edit":
		return Stay(MsgComingSoon), nil
	}
	if reply, ok := matchIntent(text, donor); ok {
		return Stay(reply), nil
	}
	if d.deps.Answerer != nil && text != "" {
		answer, err := d.deps.Answerer.Answer(ctx, in.Text)
		if err != nil {
			slog.Warn("donorCommands.handle: answerer failed", "phone", in.Phone, "error", err)
		} else if strings.TrimSpace(answer) != "" {
			return Stay(answer), nil
		}
	}
	return Stay(MsgGenericError), nil
}

func (d *donorCommands) status(ctx context.Context, donor *models.Donor, in Input) (Transition, error) {
	before := donor.Eligibility
	res := eligibility.Apply(donor, in.Now)
	if res.Status != before {
		donor.UpdatedAt = in.Now
		if err := d.deps.Store.UpdateDonor(ctx, donor); err != nil {
			return Transition{}, fmt.Errorf("failed to refresh eligibility for %s: %w", donor.Phone, err)
		}
	}
	return Stay(FormatDonorProfile(donor)), nil
}

func (d *donorCommands) donate(ctx context.Context, donor *models.Donor, in Input) (Transition, error) {
	res := eligibility.Apply(donor, in.Now)
	if !res.Eligible() {
		if err := d.deps.Store.UpdateDonor(ctx, donor); err != nil {
			return Transition{}, fmt.Errorf("failed to refresh eligibility for %s: %w", donor.Phone, err)
		}
		return Reject("You can't donate right now:\n• " + strings.Join(res.Reasons, "\n• ")), nil
	}
	if !donor.Available {
		donor.Available = true
		donor.UpdatedAt = in.Now
		if err := d.deps.Store.UpdateDonor(ctx, donor); err != nil {
			return Transition{}, fmt.Errorf("failed to mark %s available: %w", donor.Phone, err)
		}
	}
	return Transition{NextFlow: models.FlowAcceptance, Continue: true}, nil
}

func (d *donorCommands) setAvailable(ctx context.Context, donor *models.Donor, in Input, available bool) (Transition, error) {
	donor.Available = available
	donor.UpdatedAt = in.Now
	if err := d.deps.Store.UpdateDonor(ctx, donor); err != nil {
		return Transition{}, fmt.Errorf("failed to update availability for %s: %w", donor.Phone, err)
	}
	if available {
		return Stay("✅ You're marked as available. We'll let you know when someone needs your blood type."), nil
	}
	return Stay("⏸️ You're marked as unavailable. Reply DONATE whenever you're ready again."), nil
}

func (d *donorCommands) history(ctx context.Context, donor *models.Donor) (Transition, error) {
	list, err := d.deps.Store.ListAcceptancesByDonor(ctx, donor.DonorID, HistoryLimit)
	if err != nil {
		return Transition{}, fmt.Errorf("failed to list pledges for %s: %w", donor.DonorID, err)
	}
	if len(list) == 0 {
		return Stay("You haven't pledged to any requests yet. Reply DONATE to see open requests."), nil
	}
	var sb strings.Builder
	sb.WriteString("Your pledges:")
	for i, a := range list {
		fmt.Fprintf(&sb, "\n%d. %s - %d unit(s), %s (%s)", i+1, a.RequestID, a.UnitsPledged, a.Status, a.PledgedAt.Format("2006-01-02"))
	}
	sb.WriteString("\n\nReply CANCEL <number> to cancel a pending pledge.")
	return Stay(sb.String()), nil
}

func (d *donorCommands) cancel(ctx context.Context, donor *models.Donor, in Input, arg string) (Transition, error) {
	list, err := d.deps.Store.ListAcceptancesByDonor(ctx, donor.DonorID, HistoryLimit)
	if err != nil {
		return Transition{}, fmt.Errorf("failed to list pledges for %s: %w", donor.DonorID, err)
	}
	idx, err := validation.MenuIndex(arg, len(list))
	if err != nil {
		return Reject("Reply HISTORY to see your pledges, then CANCEL <number>."), nil
	}
	a := list[idx]
	if a.Status != models.AcceptancePending {
		return Reject(fmt.Sprintf("Pledge %d is already %s and can't be cancelled.", idx+1, a.Status)), nil
	}
	req, err := d.deps.Store.CancelAcceptance(ctx, a.ID, donor.DonorID, in.Now)
	if errors.Is(err, store.ErrNotFound) {
		return Reject("That pledge can no longer be cancelled."), nil
	}
	if err != nil {
		return Transition{}, fmt.Errorf("failed to cancel pledge %s: %w", a.ID, err)
	}
	slog.Info("donorCommands.cancel: pledge cancelled", "donor_id", donor.DonorID, "acceptance_id", a.ID, "request_id", a.RequestID)
	reply := fmt.Sprintf("Your pledge of %d unit(s) to %s has been cancelled.", a.UnitsPledged, a.RequestID)
	if req != nil {
		reply += fmt.Sprintf(" The request now needs %d more unit(s).", req.Remaining())
	}
	return Stay(reply), nil
}

// FormatDonorProfile renders the donor status card.
func FormatDonorProfile(d *models.Donor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🩸 %s (%s)\n", d.FullName, d.DonorID)
	fmt.Fprintf(&sb, "Blood type: %s | Genotype: %s\n", d.BloodType, d.Genotype)
	fmt.Fprintf(&sb, "Location: %s, %s\n", d.Location.City, d.Location.State)
	fmt.Fprintf(&sb, "Donations: %d\n", d.TotalDonations)
	if d.Available {
		sb.WriteString("Availability: available\n")
	} else {
		sb.WriteString("Availability: unavailable\n")
	}
	switch d.Eligibility {
	case models.EligibilityEligible:
		sb.WriteString("Eligibility: ✅ eligible")
	case models.EligibilityTemporaryIneligible:
		sb.WriteString("Eligibility: ⏳ temporarily ineligible")
	default:
		sb.WriteString("Eligibility: ❌ ineligible")
	}
	for _, r := range d.EligibilityReasons {
		sb.WriteString("\n• " + r)
	}
	return sb.String()
}

var greetings = []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"}

// matchIntent recognises a few conversational messages that aren't commands.
func matchIntent(text string, donor *models.Donor) (string, bool) {
	first := donor.FullName
	if f := strings.Fields(first); len(f) > 0 {
		first = f[0]
	}
	for _, g := range greetings {
		if text == g || strings.HasPrefix(text, g+" ") {
			return fmt.Sprintf("Hello %s! 👋\n\n%s", first, PromptDonorHelp), true
		}
	}
	switch {
	case strings.Contains(text, "thank"):
		return "You're welcome! Thank you for being a lifesaver. ❤️", true
	case strings.Contains(text, "blood") && (strings.Contains(text, "need") || strings.Contains(text, "urgent")):
		return "If you or someone you know needs blood, please ask the treating hospital to post a request on BloodLink. Donors nearby will be notified right away.", true
	case strings.Contains(text, "where") || strings.Contains(text, "location"):
		return fmt.Sprintf("Your registered location is %s, %s. Reply UPDATE to change your details.", donor.Location.City, donor.Location.State), true
	}
	return "", false
}
