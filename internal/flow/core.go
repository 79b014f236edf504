package flow

import "github.com/BTreeMap/BloodLink/internal/models"

// RegisterCore installs the welcome, registration and donor command
// handlers. Verification and matching flows register themselves from
// their own packages.
func RegisterCore(reg *Registry, deps Dependencies) {
	reg.RegisterFunc(models.FlowWelcome, models.StepStart, welcomeStart)
	reg.RegisterFunc(models.FlowWelcome, models.StepChooseRole, welcomeChooseRole)
	(&donorRegistration{deps: deps}).register(reg)
	(&hospitalRegistration{deps: deps}).register(reg)
	(&donorCommands{deps: deps}).register(reg)
}
