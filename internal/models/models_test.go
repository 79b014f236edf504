package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDeriveRequestStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name    string
		current RequestStatus
		pledged int
		needed  int
		dl      time.Time
		want    RequestStatus
	}{
		{"no pledges", RequestActive, 0, 3, future, RequestActive},
		{"created becomes active", RequestCreated, 0, 3, future, RequestActive},
		{"partial", RequestActive, 2, 3, future, RequestPartiallyFulfilled},
		{"exactly fulfilled", RequestPartiallyFulfilled, 3, 3, future, RequestFulfilled},
		{"over pledged still fulfilled", RequestActive, 4, 3, future, RequestFulfilled},
		{"past deadline expires", RequestPartiallyFulfilled, 1, 3, past, RequestExpired},
		{"fulfilled past deadline expires", RequestFulfilled, 3, 3, past, RequestExpired},
		{"cancelled stays cancelled", RequestCancelled, 0, 3, past, RequestCancelled},
		{"pledge released back to zero", RequestPartiallyFulfilled, 0, 3, future, RequestActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveRequestStatus(tt.current, tt.pledged, tt.needed, tt.dl, now)
			if got != tt.want {
				t.Errorf("DeriveRequestStatus() = %s, want %s", got, tt.want)
			}
			// Recomputing from the derived status yields the same value.
			if again := DeriveRequestStatus(got, tt.pledged, tt.needed, tt.dl, now); again != got {
				t.Errorf("status derivation not idempotent: %s then %s", got, again)
			}
		})
	}
}

func TestRequestRemaining(t *testing.T) {
	r := Request{UnitsNeeded: 3, UnitsPledged: 2}
	if r.Remaining() != 1 {
		t.Errorf("expected 1 remaining, got %d", r.Remaining())
	}
	r.UnitsPledged = 5
	if r.Remaining() != 0 {
		t.Errorf("expected 0 remaining when over pledged, got %d", r.Remaining())
	}
}

func TestFlowStepMembership(t *testing.T) {
	if !IsValidStep(FlowDonorRegistration, StepBloodType) {
		t.Error("blood_type should belong to donor registration")
	}
	if IsValidStep(FlowDonorRegistration, StepPledgeUnits) {
		t.Error("pledge_units must not belong to donor registration")
	}
	if IsValidStep(Flow("bogus"), StepStart) {
		t.Error("unknown flow must have no steps")
	}
	if EntryStep(FlowDonation) != StepIdle {
		t.Errorf("donation entry step = %s, want idle", EntryStep(FlowDonation))
	}
	steps := StepsOf(FlowRequest)
	steps[0] = "mutated"
	if EntryStep(FlowRequest) != StepStart {
		t.Error("StepsOf must return a copy")
	}
}

func TestParseBloodTypeAndGenotype(t *testing.T) {
	if bt, ok := ParseBloodType(" ab- "); !ok || bt != BloodTypeABNeg {
		t.Errorf("ParseBloodType(ab-) = %q, %v", bt, ok)
	}
	if _, ok := ParseBloodType("Z"); ok {
		t.Error("Z is not a blood type")
	}
	if g, ok := ParseGenotype("sc"); !ok || g != GenotypeSC {
		t.Errorf("ParseGenotype(sc) = %q, %v", g, ok)
	}
}

func TestUrgencyRankAndLabel(t *testing.T) {
	if UrgencyEmergency.Rank() <= UrgencyHigh.Rank() || UrgencyLow.Rank() >= UrgencyMedium.Rank() {
		t.Error("urgency ranks out of order")
	}
	if UrgencyEmergency.Label() != "Emergency" {
		t.Errorf("label = %q", UrgencyEmergency.Label())
	}
}

func TestSessionJSONRoundTripKeepsContextVariant(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := NewSession("+2348012345678", FlowDonorRegistration, now)
	s.Step = StepGenotype
	reg := s.DonorRegistration()
	reg.FullName = "Ada Obi"
	reg.BloodType = BloodTypeOPos
	s.Context = reg
	s.Version = 4

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Session
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Flow != FlowDonorRegistration || got.Step != StepGenotype || got.Version != 4 {
		t.Errorf("unexpected position %s version %d", got.Position(), got.Version)
	}
	ctx, ok := got.Context.(*DonorRegistrationContext)
	if !ok {
		t.Fatalf("context variant = %T", got.Context)
	}
	if ctx.FullName != "Ada Obi" || ctx.BloodType != BloodTypeOPos {
		t.Errorf("context fields lost: %+v", ctx)
	}
}

func TestSessionUnmarshalRejectsUnknownKind(t *testing.T) {
	raw := `{"phone":"+1","flow":"welcome","step":"start","version":0,"context":{"kind":"mystery","data":{}}}`
	var s Session
	err := json.Unmarshal([]byte(raw), &s)
	if !errors.Is(err, ErrUnknownContextKind) {
		t.Fatalf("expected ErrUnknownContextKind, got %v", err)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession("+1", FlowAcceptance, time.Now())
	s.Context = &AcceptanceContext{ShownRequestIDs: []string{"REQ-1", "REQ-2"}}
	c, err := s.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	c.Acceptance().ShownRequestIDs[0] = "changed"
	if s.Acceptance().ShownRequestIDs[0] != "REQ-1" {
		t.Error("clone shares slice backing array with original")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := &Session{UpdatedAt: now.Add(-25 * time.Hour)}
	if !s.Expired(24*time.Hour, now) {
		t.Error("expected session idle for 25h to be expired")
	}
	s.UpdatedAt = now.Add(-time.Hour)
	if s.Expired(24*time.Hour, now) {
		t.Error("session idle for 1h should not be expired")
	}
}

func TestSuccessAndErrorResponses(t *testing.T) {
	ok := Success(map[string]string{"a": "b"})
	if ok.Status != APIStatusOK || ok.Result == nil {
		t.Errorf("unexpected success response %+v", ok)
	}
	e := Error("nope")
	if e.Status != APIStatusError || e.Message != "nope" {
		t.Errorf("unexpected error response %+v", e)
	}
	f := Failure("down", map[string]string{"db": "down"})
	if f.Status != APIStatusError || f.Result == nil {
		t.Errorf("unexpected failure response %+v", f)
	}
}
