package matching

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// RequestAlert is the notice sent to a matching donor about a new request.
func RequestAlert(r *models.Request) string {
	name := r.HospitalName
	if name == "" {
		name = "A hospital near you"
	}
	return fmt.Sprintf("🩸 Urgent: %s needs %d unit(s) of %s blood (%s urgency) by %s.\n\nReply DONATE to pledge.",
		name, r.UnitsNeeded, r.BloodType, r.Urgency.Label(), r.Deadline.Format("Mon Jan 2"))
}

// notifyDonors queues an alert for up to notifyLimit available donors of
// the request's blood type and returns how many were queued. Alerts are
// keyed on request and phone so a retried finalizer never double-sends.
func (m *Matcher) notifyDonors(ctx context.Context, r *models.Request) int {
	if m.notifyLimit <= 0 {
		return 0
	}
	donors, err := m.deps.Store.ListAvailableDonors(ctx, r.BloodType, m.notifyLimit)
	if err != nil {
		slog.Warn("Matcher.notifyDonors: failed to list donors", "requestID", r.RequestID, "error", err)
		return 0
	}
	body := RequestAlert(r)
	queued := 0
	for _, d := range donors {
		if _, err := m.deps.Store.EnqueueOutboxMessage(ctx, d.Phone, KindRequestAlert, body, r.RequestID+":"+d.Phone); err != nil {
			slog.Warn("Matcher.notifyDonors: failed to enqueue alert", "requestID", r.RequestID, "phone", d.Phone, "error", err)
			continue
		}
		queued++
	}
	slog.Debug("Matcher.notifyDonors: alerts queued", "requestID", r.RequestID, "count", queued)
	return queued
}
