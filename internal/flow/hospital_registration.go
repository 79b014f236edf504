package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/store"
	"github.com/BTreeMap/BloodLink/internal/util"
	"github.com/BTreeMap/BloodLink/internal/validation"
)

// MaxHospitalPictures caps the pictures collected during registration.
const MaxHospitalPictures = 5

type hospitalRegistration struct {
	deps Dependencies
}

func (h *hospitalRegistration) register(reg *Registry) {
	reg.RegisterFunc(models.FlowHospitalRegistration, models.StepStart, h.start)
	reg.RegisterFunc(models.FlowHospitalRegistration, models.StepHospitalName, h.name)
	reg.RegisterFunc(models.FlowHospitalRegistration, models.StepLicenseNumber, h.license)
	reg.RegisterFunc(models.FlowHospitalRegistration, models.StepContact, h.contact)
	reg.RegisterFunc(models.FlowHospitalRegistration, models.StepAddress, h.address)
	reg.RegisterFunc(models.FlowHospitalRegistration, models.StepAdminName, h.adminName)
	reg.RegisterFunc(models.FlowHospitalRegistration, models.StepAdminPhone, h.adminPhone)
	reg.RegisterFunc(models.FlowHospitalRegistration, models.StepPictures, h.pictures)
	reg.RegisterFinalizer(models.FlowHospitalRegistration, h.finalize)
}

func (h *hospitalRegistration) start(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	return Advance(models.StepHospitalName, s.HospitalRegistration(), PromptHospitalName), nil
}

func (h *hospitalRegistration) name(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	name, err := validation.FreeText("hospital name", in.Text, 3, 200)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptHospitalName), nil
	}
	c := s.HospitalRegistration()
	c.Name = name
	return Advance(models.StepLicenseNumber, c, PromptLicenseNumber), nil
}

func (h *hospitalRegistration) license(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	lic, err := validation.LicenseNumber(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptLicenseNumber), nil
	}
	c := s.HospitalRegistration()
	c.LicenseNumber = lic
	return Advance(models.StepContact, c, PromptContact), nil
}

func (h *hospitalRegistration) contact(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	contact, err := validation.Contact(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptContact), nil
	}
	c := s.HospitalRegistration()
	c.Contact = contact
	return Advance(models.StepAddress, c, PromptAddress), nil
}

func (h *hospitalRegistration) address(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	addr, err := validation.FreeText("address", in.Text, 5, 300)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptAddress), nil
	}
	c := s.HospitalRegistration()
	c.Address = addr
	return Advance(models.StepAdminName, c, PromptAdminName), nil
}

func (h *hospitalRegistration) adminName(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	name, err := validation.Name(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptAdminName), nil
	}
	c := s.HospitalRegistration()
	c.AdminName = name
	return Advance(models.StepAdminPhone, c, PromptAdminPhone), nil
}

func (h *hospitalRegistration) adminPhone(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	phone, err := validation.CanonicalPhone(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptAdminPhone), nil
	}
	c := s.HospitalRegistration()
	c.AdminPhone = phone
	return Advance(models.StepPictures, c, PromptPictures), nil
}

// pictures accepts photos one per message, or a comma-separated list of
// links, until DONE or the cap is reached.
func (h *hospitalRegistration) pictures(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	c := s.HospitalRegistration()
	if in.HasMedia() {
		if h.deps.Media == nil {
			return Reprompt("Photo uploads are not available right now. Please send links instead.", PromptPictures), nil
		}
		url, err := h.deps.Media.Save(ctx, in.Phone, "hospital_picture", in.Media)
		if err != nil {
			slog.Warn("hospitalRegistration.pictures: media rejected", "phone", in.Phone, "error", err)
			return Reprompt("We couldn't use that file. Please send a clear photo (JPG or PNG, under 5MB).", PromptPictures), nil
		}
		c.PictureURLs = append(c.PictureURLs, url)
		if len(c.PictureURLs) >= MaxHospitalPictures {
			return Transition{Context: c, Complete: true}, nil
		}
		return Transition{
			Context: c,
			Reply:   fmt.Sprintf("📷 Picture %d received. Send another or reply DONE.", len(c.PictureURLs)),
		}, nil
	}
	if in.Normalized() == "done" {
		if len(c.PictureURLs) == 0 {
			return Reprompt("Please send at least one picture first.", PromptPictures), nil
		}
		return Transition{Context: c, Complete: true}, nil
	}
	urls, err := validation.PictureURLs(in.Text)
	if err != nil {
		return Reprompt(validation.ReasonOf(err), PromptPictures), nil
	}
	if len(c.PictureURLs)+len(urls) > MaxHospitalPictures {
		return Reprompt(fmt.Sprintf("You can send at most %d pictures in total.", MaxHospitalPictures), PromptPictures), nil
	}
	c.PictureURLs = append(c.PictureURLs, urls...)
	return Transition{Context: c, Complete: true}, nil
}

// finalize creates the pending hospital account.
func (h *hospitalRegistration) finalize(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	c := s.HospitalRegistration()
	next := Transition{
		NextFlow: models.FlowHospitalVerification,
		Role:     models.RoleHospital,
		Continue: true,
	}
	existing, err := h.deps.Store.GetHospitalByPhone(ctx, in.Phone)
	if err != nil {
		return Transition{}, fmt.Errorf("failed to look up hospital %s: %w", in.Phone, err)
	}
	if existing != nil {
		next.Reply = fmt.Sprintf("This number is already registered to %s (%s).", existing.Name, existing.Reference)
		return next, nil
	}

	hospital := &models.Hospital{
		Reference:     util.HospitalReference(h.deps.IDSource()),
		Phone:         in.Phone,
		Name:          c.Name,
		LicenseNumber: c.LicenseNumber,
		Contact:       c.Contact,
		Address:       c.Address,
		AdminName:     c.AdminName,
		AdminPhone:    c.AdminPhone,
		PictureURLs:   c.PictureURLs,
		Status:        models.HospitalPending,
		CreatedAt:     in.Now,
		UpdatedAt:     in.Now,
	}
	if err := h.deps.Store.CreateHospital(ctx, hospital); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return Transition{}, fmt.Errorf("failed to create hospital %s: %w", in.Phone, err)
		}
		slog.Warn("hospitalRegistration.finalize: duplicate license", "phone", in.Phone, "license", c.LicenseNumber)
		c.LicenseNumber = ""
		c.PictureURLs = nil
		return Transition{
			Reply:    MsgLicenseRegistered,
			Outcome:  OutcomeRejected,
			NextStep: models.StepLicenseNumber,
			Context:  c,
		}, nil
	}
	slog.Info("hospitalRegistration.finalize: hospital created", "phone", in.Phone, "reference", hospital.Reference)
	next.Reply = fmt.Sprintf("✅ %s is registered. Your hospital reference is %s.", hospital.Name, hospital.Reference)
	return next, nil
}
