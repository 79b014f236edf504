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
	"github.com/BTreeMap/BloodLink/internal/util"
	"github.com/BTreeMap/BloodLink/internal/validation"
)

// donorRegistration collects a donor's profile one answer per message.
type donorRegistration struct {
	deps Dependencies
}

func (d *donorRegistration) register(reg *Registry) {
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepStart, d.start)
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepName, d.name)
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepBloodType, d.bloodType)
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepGenotype, d.genotype)
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepMedicalScreening, d.screening)
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepMedicalDetail, d.screeningDetail)
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepLocation, d.location)
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepBankDetails, d.bankDetails)
	reg.RegisterFunc(models.FlowDonorRegistration, models.StepIDVerification, d.idDocument)
	reg.RegisterFinalizer(models.FlowDonorRegistration, d.finalize)
}

func (d *donorRegistration) start(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	return Advance(models.StepName, s.DonorRegistration(), PromptDonorName), nil
}

func (d *donorRegistration) name(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	name, err := validation.Name(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptDonorName), nil
	}
	c := s.DonorRegistration()
	c.FullName = name
	first := strings.Fields(name)[0]
	return Advance(models.StepBloodType, c, fmt.Sprintf("Nice to meet you, %s!\n\n%s", first, PromptBloodType)), nil
}

func (d *donorRegistration) bloodType(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	bt, err := validation.BloodTypeChoice(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptBloodType), nil
	}
	c := s.DonorRegistration()
	c.BloodType = bt
	return Advance(models.StepGenotype, c, PromptGenotype), nil
}

func (d *donorRegistration) genotype(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	g, err := validation.GenotypeChoice(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptGenotype), nil
	}
	c := s.DonorRegistration()
	c.Genotype = g
	return Advance(models.StepMedicalScreening, c, PromptScreening), nil
}

func (d *donorRegistration) screening(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	answer, err := validation.Screening(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptScreening), nil
	}
	c := s.DonorRegistration()
	if answer == validation.ScreeningAnswerYes {
		return Advance(models.StepMedicalDetail, c, PromptScreeningDetail), nil
	}
	screening := validation.ScreeningFor(answer)
	c.Screening = &screening
	return Advance(models.StepLocation, c, PromptLocation), nil
}

func (d *donorRegistration) screeningDetail(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	screening, err := validation.ScreeningDetail(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptScreeningDetail), nil
	}
	c := s.DonorRegistration()
	c.Screening = &screening
	return Advance(models.StepLocation, c, "Thank you for being honest. "+PromptLocation), nil
}

func (d *donorRegistration) location(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	loc, err := validation.Location(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptLocation), nil
	}
	c := s.DonorRegistration()
	c.Location = &loc
	return Advance(models.StepBankDetails, c, PromptBank), nil
}

func (d *donorRegistration) bankDetails(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	bank, err := validation.BankDetails(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptBank), nil
	}
	c := s.DonorRegistration()
	c.Bank = &bank
	return Advance(models.StepIDVerification, c, PromptIDDocument), nil
}

func (d *donorRegistration) idDocument(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	if !in.HasMedia() {
		return Reprompt("Please upload a clear photo of your ID document.", PromptIDDocument), nil
	}
	if in.Media.URL != "" {
		if _, err := validation.DocumentURL(in.Media.URL); err != nil {
			return Reprompt(validation.ReasonOf(err), PromptIDDocument), nil
		}
	}
	if d.deps.Media == nil {
		return Reprompt("Photo uploads are not available right now. Please try again later.", PromptIDDocument), nil
	}
	url, err := d.deps.Media.Save(ctx, in.Phone, "id_document", in.Media)
	if err != nil {
		slog.Warn("donorRegistration.idDocument: media rejected", "phone", in.Phone, "error", err)
		return Reprompt("We couldn't use that file. Please send a clear photo (JPG or PNG, under 5MB).", PromptIDDocument), nil
	}
	c := s.DonorRegistration()
	c.IDDocumentURL = url
	return Transition{Context: c, Complete: true}, nil
}

// finalize creates the donor record and hands over to verification.
func (d *donorRegistration) finalize(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	c := s.DonorRegistration()
	if c.Screening == nil || c.Location == nil || c.Bank == nil || c.FullName == "" {
		slog.Warn("donorRegistration.finalize: incomplete context, restarting", "phone", in.Phone)
		return Goto(models.FlowDonorRegistration, models.StepName, "Some of your answers were lost. Let's start again.\n\n"+PromptDonorName), nil
	}
	existing, err := d.deps.Store.GetDonorByPhone(ctx, in.Phone)
	if err != nil {
		return Transition{}, fmt.Errorf("failed to look up donor %s: %w", in.Phone, err)
	}
	donor := existing
	if donor == nil {
		count, err := d.deps.Store.CountDonors(ctx)
		if err != nil {
			return Transition{}, fmt.Errorf("failed to count donors: %w", err)
		}
		donor = &models.Donor{
			DonorID:       util.DonorID(c.Location.City, count+1, d.deps.IDSource()),
			Phone:         in.Phone,
			FullName:      c.FullName,
			BloodType:     c.BloodType,
			Genotype:      c.Genotype,
			Screening:     *c.Screening,
			Location:      *c.Location,
			Bank:          *c.Bank,
			IDDocumentURL: c.IDDocumentURL,
			Available:     true,
			Verification:  models.VerificationPending,
			CreatedAt:     in.Now,
			UpdatedAt:     in.Now,
		}
		eligibility.Apply(donor, in.Now)
		if err := d.deps.Store.CreateDonor(ctx, donor); err != nil {
			if !errors.Is(err, store.ErrDuplicate) {
				return Transition{}, fmt.Errorf("failed to create donor %s: %w", in.Phone, err)
			}
			// Lost a race with another registration for the same phone.
			donor, err = d.deps.Store.GetDonorByPhone(ctx, in.Phone)
			if err != nil {
				return Transition{}, fmt.Errorf("failed to reload donor %s: %w", in.Phone, err)
			}
			if donor == nil {
				return Transition{}, fmt.Errorf("donor %s missing after duplicate insert", in.Phone)
			}
		}
		slog.Info("donorRegistration.finalize: donor created", "phone", in.Phone, "donor_id", donor.DonorID, "eligibility", donor.Eligibility)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Registration complete! Your donor ID is %s.", donor.DonorID)
	switch donor.Eligibility {
	case models.EligibilityEligible:
		sb.WriteString("\nYou are currently eligible to donate.")
	default:
		sb.WriteString("\nYou are not eligible to donate right now:")
		for _, reason := range donor.EligibilityReasons {
			sb.WriteString("\n• " + reason)
		}
	}
	return Transition{
		Reply:    sb.String(),
		NextFlow: models.FlowDonorVerification,
		Role:     models.RoleDonor,
		Continue: true,
	}, nil
}
