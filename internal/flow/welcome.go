package flow

import (
	"context"

	"github.com/BTreeMap/BloodLink/internal/models"
)

func welcomeStart(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	return Advance(models.StepChooseRole, nil, PromptWelcome), nil
}

func welcomeChooseRole(ctx context.Context, s *models.Session, in Input) (Transition, error) {
	switch in.Normalized() {
	case "1", "donor", "donate", "i want to donate blood":
		return Transition{NextFlow: models.FlowDonorRegistration, Role: models.RoleDonor, Continue: true}, nil
	case "2", "hospital", "i represent a hospital":
		return Transition{NextFlow: models.FlowHospitalRegistration, Role: models.RoleHospital, Continue: true}, nil
	}
	return Reprompt("Please reply 1 or 2.", PromptWelcome), nil
}
