package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/BloodLink/internal/flow"
	"github.com/BTreeMap/BloodLink/internal/metrics"
	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/store"
	"github.com/BTreeMap/BloodLink/internal/validation"
)

// Prompts and replies of the verification flows.
const (
	PromptNIN      = "🩸 Donor Verification\n\nLet's verify your identity.\n\nPlease enter your 11-digit NIN:"
	PromptSelfie   = "📸 Please send a clear selfie photo of yourself."
	PromptDocument = "📄 Now send a clear photo of your government ID card."
	PromptCAC      = "🏥 Hospital Verification\n\nPlease provide your RC Number and Hospital Name:\nFormat: RC1234567, Hospital Name Ltd"
	MsgMaxAttempts = "❌ Maximum verification attempts reached.\n\nPlease contact our support team for assistance: " + flow.SupportContact
	MsgServiceDown = "We couldn't reach the verification service."
)

// Records is the durable store the orchestrator writes verdicts to.
type Records interface {
	store.DonorRepo
	store.HospitalRepo
}

// Orchestrator owns the DonorVerification and HospitalVerification flows.
type Orchestrator struct {
	provider      Provider
	media         flow.MediaStore
	records       Records
	maxAttempts   int
	minConfidence float64
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxAttempts overrides MaxAttempts.
func WithMaxAttempts(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

// WithMinConfidence overrides MinFaceConfidence.
func WithMinConfidence(c float64) OrchestratorOption {
	return func(o *Orchestrator) { o.minConfidence = c }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(provider Provider, media flow.MediaStore, records Records, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider:      provider,
		media:         media,
		records:       records,
		maxAttempts:   MaxAttempts,
		minConfidence: MinFaceConfidence,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register installs the verification step handlers.
func (o *Orchestrator) Register(reg *flow.Registry) {
	reg.RegisterFunc(models.FlowDonorVerification, models.StepStart, o.donorStart)
	reg.RegisterFunc(models.FlowDonorVerification, models.StepAskIdentifier, o.donorNIN)
	reg.RegisterFunc(models.FlowDonorVerification, models.StepAskSelfie, o.donorSelfie)
	reg.RegisterFunc(models.FlowDonorVerification, models.StepAskDocument, o.donorDocument)
	reg.RegisterFunc(models.FlowDonorVerification, models.StepComplete, o.donorComplete)
	reg.RegisterFunc(models.FlowDonorVerification, models.StepFailed, o.failed)

	reg.RegisterFunc(models.FlowHospitalVerification, models.StepStart, o.hospitalStart)
	reg.RegisterFunc(models.FlowHospitalVerification, models.StepAskIdentifier, o.hospitalCAC)
	reg.RegisterFunc(models.FlowHospitalVerification, models.StepComplete, o.hospitalComplete)
	reg.RegisterFunc(models.FlowHospitalVerification, models.StepFailed, o.failed)
}

func (o *Orchestrator) donorStart(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	return flow.Advance(models.StepAskIdentifier, s.Verification(), PromptNIN), nil
}

func (o *Orchestrator) donorNIN(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	nin, err := validation.NIN(in.Text)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), "Please enter your 11-digit NIN:"), nil
	}
	c := s.Verification()
	res, err := o.provider.VerifyNIN(ctx, nin)
	if err != nil {
		slog.Warn("Orchestrator.donorNIN: provider error", "phone", in.Phone, "error", err)
		metrics.VerificationAttempts.WithLabelValues("nin", "error").Inc()
		return o.fail(ctx, s, in, c, MsgServiceDown, models.StepAskIdentifier, "Please enter your NIN again:")
	}
	if !res.Valid {
		metrics.VerificationAttempts.WithLabelValues("nin", "failure").Inc()
		return o.fail(ctx, s, in, c, res.Message, models.StepAskIdentifier, "Please enter your NIN again:")
	}
	metrics.VerificationAttempts.WithLabelValues("nin", "success").Inc()
	c.Identifier = nin
	c.ProviderPayload = res.Payload
	c.Attempts = 0
	c.LastFailure = ""
	return flow.Advance(models.StepAskSelfie, c, "✅ NIN verified!\n\n"+PromptSelfie), nil
}

func (o *Orchestrator) donorSelfie(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	if !in.HasMedia() {
		return flow.Reprompt("Please send a selfie photo (not text).", PromptSelfie), nil
	}
	c := s.Verification()
	url, err := o.saveMedia(ctx, in, "selfie")
	if err != nil {
		if reason, ok := mediaFormatReason(err); ok {
			return flow.Reprompt(reason, PromptSelfie), nil
		}
		slog.Warn("Orchestrator.donorSelfie: failed to store selfie", "phone", in.Phone, "error", err)
		return o.fail(ctx, s, in, c, "Failed to process your selfie.", models.StepAskSelfie, PromptSelfie)
	}
	c.SelfieURL = url
	return flow.Advance(models.StepAskDocument, c, "✅ Selfie received!\n\n"+PromptDocument), nil
}

func (o *Orchestrator) donorDocument(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	c := s.Verification()
	if c.SelfieURL == "" {
		return flow.Advance(models.StepAskSelfie, c, "⚠️ Please send your selfie first.\n\n"+PromptSelfie), nil
	}
	if !in.HasMedia() {
		return flow.Reprompt("Please send a photo of your ID card.", PromptDocument), nil
	}
	url, err := o.saveMedia(ctx, in, "id")
	if err != nil {
		if reason, ok := mediaFormatReason(err); ok {
			return flow.Reprompt(reason, PromptDocument), nil
		}
		slog.Warn("Orchestrator.donorDocument: failed to store document", "phone", in.Phone, "error", err)
		return o.fail(ctx, s, in, c, "Failed to process your ID photo.", models.StepAskDocument, PromptDocument)
	}
	c.DocumentURL = url

	res, err := o.provider.CompareFaces(ctx, c.SelfieURL, c.DocumentURL)
	var reason string
	switch {
	case err != nil:
		slog.Warn("Orchestrator.donorDocument: face compare failed", "phone", in.Phone, "error", err)
		metrics.VerificationAttempts.WithLabelValues("face", "error").Inc()
		reason = "Could not process photos."
	case res.Verified(o.minConfidence):
	case res == nil || !res.Match:
		reason = "Selfie and ID don't match."
	default:
		reason = fmt.Sprintf("Low confidence (%.1f%%).", res.Confidence)
	}
	if reason != "" {
		if err == nil {
			metrics.VerificationAttempts.WithLabelValues("face", "failure").Inc()
			if res != nil {
				c.Confidence = res.Confidence
			}
		}
		c.SelfieURL = ""
		c.DocumentURL = ""
		return o.fail(ctx, s, in, c, "Verification failed. "+reason, models.StepAskSelfie, "Please send a new selfie:")
	}
	metrics.VerificationAttempts.WithLabelValues("face", "success").Inc()
	c.Confidence = res.Confidence
	return o.completeDonor(ctx, in, c, res)
}

func (o *Orchestrator) completeDonor(ctx context.Context, in flow.Input, c *models.VerificationContext, face *FaceResult) (flow.Transition, error) {
	donor, err := o.records.GetDonorByPhone(ctx, in.Phone)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to load donor %s: %w", in.Phone, err)
	}
	if donor == nil {
		return flow.Transition{}, fmt.Errorf("donor %s not found: %w", in.Phone, store.ErrNotFound)
	}
	payload := map[string]interface{}{"nin": c.ProviderPayload}
	if face != nil && face.Payload != nil {
		payload["face_compare"] = face.Payload
	}
	donor.Verification = models.VerificationVerified
	donor.Evidence = &models.VerificationEvidence{
		Identifier:      c.Identifier,
		ProviderPayload: payload,
		SelfieURL:       c.SelfieURL,
		DocumentURL:     c.DocumentURL,
		FaceMatch:       true,
		Confidence:      c.Confidence,
		VerifiedAt:      in.Now,
	}
	donor.UpdatedAt = in.Now
	if err := o.records.UpdateDonor(ctx, donor); err != nil {
		return flow.Transition{}, fmt.Errorf("failed to mark donor %s verified: %w", in.Phone, err)
	}
	slog.Info("Orchestrator.completeDonor: donor verified", "phone", in.Phone, "donor_id", donor.DonorID, "confidence", c.Confidence)
	reply := fmt.Sprintf("🎉 Verification complete! You're now an official BloodLink donor. ❤️\n\nConfidence: %.1f%%\n\nWe'll notify you when your blood type is needed. Reply HELP to see what you can do.", c.Confidence)
	return flow.Goto(models.FlowDonation, models.StepIdle, reply), nil
}

func (o *Orchestrator) donorComplete(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	return flow.Transition{NextFlow: models.FlowDonation, Continue: true}, nil
}

func (o *Orchestrator) hospitalStart(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	return flow.Advance(models.StepAskIdentifier, s.Verification(), PromptCAC), nil
}

func (o *Orchestrator) hospitalCAC(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	rc, name, err := validation.CompanyRecord(in.Text)
	if err != nil {
		return flow.Reprompt(validation.ReasonOf(err), PromptCAC), nil
	}
	c := s.Verification()
	res, err := o.provider.VerifyCompany(ctx, rc, name)
	if err != nil {
		slog.Warn("Orchestrator.hospitalCAC: provider error", "phone", in.Phone, "error", err)
		metrics.VerificationAttempts.WithLabelValues("cac", "error").Inc()
		return o.fail(ctx, s, in, c, "CAC verification failed. "+MsgServiceDown, models.StepAskIdentifier, "Please check the details and try again:")
	}
	if res == nil || !res.Verified {
		metrics.VerificationAttempts.WithLabelValues("cac", "failure").Inc()
		msg := "CAC verification failed."
		if res != nil && res.Message != "" {
			msg = "CAC verification failed: " + res.Message
		}
		return o.fail(ctx, s, in, c, msg, models.StepAskIdentifier, "Please check the details and try again:")
	}
	metrics.VerificationAttempts.WithLabelValues("cac", "success").Inc()

	hospital, err := o.records.GetHospitalByPhone(ctx, in.Phone)
	if err != nil {
		return flow.Transition{}, fmt.Errorf("failed to load hospital %s: %w", in.Phone, err)
	}
	if hospital == nil {
		return flow.Transition{}, fmt.Errorf("hospital %s not found: %w", in.Phone, store.ErrNotFound)
	}
	hospital.Status = models.HospitalApproved
	hospital.Evidence = &models.VerificationEvidence{
		Identifier:      rc,
		ProviderPayload: res.Payload,
		VerifiedAt:      in.Now,
	}
	hospital.UpdatedAt = in.Now
	if err := o.records.UpdateHospital(ctx, hospital); err != nil {
		return flow.Transition{}, fmt.Errorf("failed to approve hospital %s: %w", in.Phone, err)
	}
	slog.Info("Orchestrator.hospitalCAC: hospital approved", "phone", in.Phone, "reference", hospital.Reference, "rc", rc)

	// Some registry responses verify without listing the matched entry.
	company := Company{RCNumber: rc, ApprovedName: name, Status: "VERIFIED"}
	if len(res.Companies) > 0 {
		company = res.Companies[0]
	}
	reply := fmt.Sprintf("✅ Hospital Verified Successfully! 🏢\n\nHospital: %s\nRC Number: %s\nStatus: %s\n\nReply with anything to create a blood request, or REQUESTS to see your requests.",
		company.ApprovedName, company.RCNumber, company.Status)
	return flow.Goto(models.FlowRequest, models.StepStart, reply), nil
}

func (o *Orchestrator) hospitalComplete(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	return flow.Goto(models.FlowRequest, models.StepStart, "✅ Hospital verification complete!"), nil
}

// failed is terminal: only support can move the session on.
func (o *Orchestrator) failed(ctx context.Context, s *models.Session, in flow.Input) (flow.Transition, error) {
	return flow.Reject(MsgMaxAttempts), nil
}

// fail counts a failed attempt. At the limit the session moves to Failed
// and the durable record is marked so a new session lands there too.
func (o *Orchestrator) fail(ctx context.Context, s *models.Session, in flow.Input, c *models.VerificationContext, reason string, retry models.Step, retryPrompt string) (flow.Transition, error) {
	c.Attempts++
	c.LastFailure = reason
	if c.Attempts < o.maxAttempts {
		reply := fmt.Sprintf("❌ %s\nAttempt %d of %d.\n\n%s", reason, c.Attempts, o.maxAttempts, retryPrompt)
		return flow.Transition{Reply: reply, Outcome: flow.OutcomeRejected, NextStep: retry, Context: c}, nil
	}

	slog.Warn("Orchestrator.fail: maximum attempts reached", "phone", in.Phone, "flow", s.Flow, "reason", reason)
	if err := o.markFailed(ctx, s.Flow, in); err != nil {
		return flow.Transition{}, err
	}
	return flow.Transition{Reply: MsgMaxAttempts, Outcome: flow.OutcomeRejected, NextStep: models.StepFailed, Context: c}, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, f models.Flow, in flow.Input) error {
	switch f {
	case models.FlowDonorVerification:
		donor, err := o.records.GetDonorByPhone(ctx, in.Phone)
		if err != nil {
			return fmt.Errorf("failed to load donor %s: %w", in.Phone, err)
		}
		if donor == nil {
			return nil
		}
		donor.Verification = models.VerificationFailed
		donor.UpdatedAt = in.Now
		if err := o.records.UpdateDonor(ctx, donor); err != nil {
			return fmt.Errorf("failed to mark donor %s failed: %w", in.Phone, err)
		}
	case models.FlowHospitalVerification:
		hospital, err := o.records.GetHospitalByPhone(ctx, in.Phone)
		if err != nil {
			return fmt.Errorf("failed to load hospital %s: %w", in.Phone, err)
		}
		if hospital == nil {
			return nil
		}
		hospital.Status = models.HospitalRejected
		hospital.UpdatedAt = in.Now
		if err := o.records.UpdateHospital(ctx, hospital); err != nil {
			return fmt.Errorf("failed to reject hospital %s: %w", in.Phone, err)
		}
	}
	return nil
}

func (o *Orchestrator) saveMedia(ctx context.Context, in flow.Input, kind string) (string, error) {
	if o.media == nil {
		return "", fmt.Errorf("media storage is not configured")
	}
	return o.media.Save(ctx, in.Phone, kind, in.Media)
}

// mediaFormatReason maps attachment problems the user can fix to a reply.
// These do not count as attempts.
func mediaFormatReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrMediaTooLarge):
		return "File too large. Please send a photo under 5MB.", true
	case errors.Is(err, ErrMediaRejected):
		return "Please send a valid image file (JPEG, PNG).", true
	}
	return "", false
}
