package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContextKind tags the variant held by a session's context.
type ContextKind string

const (
	ContextDonorRegistration    ContextKind = "donor_registration"
	ContextHospitalRegistration ContextKind = "hospital_registration"
	ContextVerification         ContextKind = "verification"
	ContextRequest              ContextKind = "request"
	ContextAcceptance           ContextKind = "acceptance"
)

// FlowContext is the flow-scoped data collected before a durable entity
// exists. Exactly one variant is held at a time.
type FlowContext interface {
	Kind() ContextKind
}

// DonorRegistrationContext accumulates donor registration answers.
type DonorRegistrationContext struct {
	FullName      string            `json:"full_name,omitempty"`
	BloodType     BloodType         `json:"blood_type,omitempty"`
	Genotype      Genotype          `json:"genotype,omitempty"`
	Screening     *MedicalScreening `json:"screening,omitempty"`
	Location      *Location         `json:"location,omitempty"`
	Bank          *BankDetails      `json:"bank,omitempty"`
	IDDocumentURL string            `json:"id_document_url,omitempty"`
}

func (*DonorRegistrationContext) Kind() ContextKind { return ContextDonorRegistration }

// HospitalRegistrationContext accumulates hospital registration answers.
type HospitalRegistrationContext struct {
	Name          string   `json:"name,omitempty"`
	LicenseNumber string   `json:"license_number,omitempty"`
	Contact       string   `json:"contact,omitempty"`
	Address       string   `json:"address,omitempty"`
	AdminName     string   `json:"admin_name,omitempty"`
	AdminPhone    string   `json:"admin_phone,omitempty"`
	PictureURLs   []string `json:"picture_urls,omitempty"`
}

func (*HospitalRegistrationContext) Kind() ContextKind { return ContextHospitalRegistration }

// VerificationContext carries KYC progress, including the attempt counter.
type VerificationContext struct {
	Attempts        int                    `json:"attempts"`
	Identifier      string                 `json:"identifier,omitempty"`
	CompanyName     string                 `json:"company_name,omitempty"`
	ProviderPayload map[string]interface{} `json:"provider_payload,omitempty"`
	SelfieURL       string                 `json:"selfie_url,omitempty"`
	DocumentURL     string                 `json:"document_url,omitempty"`
	Confidence      float64                `json:"confidence,omitempty"`
	LastFailure     string                 `json:"last_failure,omitempty"`
}

func (*VerificationContext) Kind() ContextKind { return ContextVerification }

// RequestContext accumulates a hospital's in-progress blood request.
type RequestContext struct {
	BloodType   BloodType  `json:"blood_type,omitempty"`
	Genotype    Genotype   `json:"genotype,omitempty"`
	UnitsNeeded int        `json:"units_needed,omitempty"`
	Urgency     Urgency    `json:"urgency,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

func (*RequestContext) Kind() ContextKind { return ContextRequest }

// AcceptanceContext accumulates a donor's in-progress pledge.
type AcceptanceContext struct {
	ShownRequestIDs []string `json:"shown_request_ids,omitempty"`
	RequestID       string   `json:"request_id,omitempty"`
	UnitsPledged    int      `json:"units_pledged,omitempty"`
	Availability    string   `json:"availability,omitempty"`
}

func (*AcceptanceContext) Kind() ContextKind { return ContextAcceptance }

// NewContextFor returns the empty context variant owned by a flow, or nil
// for flows that collect nothing.
func NewContextFor(f Flow) FlowContext {
	switch f {
	case FlowDonorRegistration:
		return &DonorRegistrationContext{}
	case FlowHospitalRegistration:
		return &HospitalRegistrationContext{}
	case FlowDonorVerification, FlowHospitalVerification:
		return &VerificationContext{}
	case FlowRequest:
		return &RequestContext{}
	case FlowAcceptance:
		return &AcceptanceContext{}
	default:
		return nil
	}
}

// Session is the in-progress conversation state of one phone number.
type Session struct {
	Phone     string      `json:"phone"`
	Flow      Flow        `json:"flow"`
	Step      Step        `json:"step"`
	Role      Role        `json:"role,omitempty"`
	Context   FlowContext `json:"-"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewSession creates a session positioned at the entry step of flow.
func NewSession(phone string, flow Flow, now time.Time) *Session {
	return &Session{
		Phone:     phone,
		Flow:      flow,
		Step:      EntryStep(flow),
		Context:   NewContextFor(flow),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(s.UpdatedAt) > ttl
}

// Position returns the session's (flow, step) pair as a display string.
func (s *Session) Position() string {
	return fmt.Sprintf("%s/%s", s.Flow, s.Step)
}

// DonorRegistration returns the donor registration context, creating an
// empty one when the session holds a different variant.
func (s *Session) DonorRegistration() *DonorRegistrationContext {
	if c, ok := s.Context.(*DonorRegistrationContext); ok && c != nil {
		return c
	}
	return &DonorRegistrationContext{}
}

// HospitalRegistration returns the hospital registration context.
func (s *Session) HospitalRegistration() *HospitalRegistrationContext {
	if c, ok := s.Context.(*HospitalRegistrationContext); ok && c != nil {
		return c
	}
	return &HospitalRegistrationContext{}
}

// Verification returns the verification context.
func (s *Session) Verification() *VerificationContext {
	if c, ok := s.Context.(*VerificationContext); ok && c != nil {
		return c
	}
	return &VerificationContext{}
}

// Request returns the request-creation context.
func (s *Session) Request() *RequestContext {
	if c, ok := s.Context.(*RequestContext); ok && c != nil {
		return c
	}
	return &RequestContext{}
}

// Acceptance returns the acceptance context.
func (s *Session) Acceptance() *AcceptanceContext {
	if c, ok := s.Context.(*AcceptanceContext); ok && c != nil {
		return c
	}
	return &AcceptanceContext{}
}

type contextEnvelope struct {
	Kind ContextKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type sessionAlias Session

type sessionJSON struct {
	*sessionAlias
	Context *contextEnvelope `json:"context,omitempty"`
}

// MarshalJSON encodes the context variant inside a kind-tagged envelope.
func (s Session) MarshalJSON() ([]byte, error) {
	out := sessionJSON{sessionAlias: (*sessionAlias)(&s)}
	if s.Context != nil {
		data, err := json.Marshal(s.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session context: %w", err)
		}
		out.Context = &contextEnvelope{Kind: s.Context.Kind(), Data: data}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a session written by MarshalJSON.
func (s *Session) UnmarshalJSON(b []byte) error {
	in := sessionJSON{sessionAlias: (*sessionAlias)(s)}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	s.Context = nil
	if in.Context == nil {
		return nil
	}
	var ctx FlowContext
	switch in.Context.Kind {
	case ContextDonorRegistration:
		ctx = &DonorRegistrationContext{}
	case ContextHospitalRegistration:
		ctx = &HospitalRegistrationContext{}
	case ContextVerification:
		ctx = &VerificationContext{}
	case ContextRequest:
		ctx = &RequestContext{}
	case ContextAcceptance:
		ctx = &AcceptanceContext{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownContextKind, in.Context.Kind)
	}
	if err := json.Unmarshal(in.Context.Data, ctx); err != nil {
		return fmt.Errorf("failed to unmarshal %s context: %w", in.Context.Kind, err)
	}
	s.Context = ctx
	return nil
}

// Clone returns a deep copy so handlers can mutate freely.
func (s *Session) Clone() (*Session, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out Session
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
