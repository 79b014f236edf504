package models

// Flow is a top-level conversation purpose.
type Flow string

// Step is a position within a flow.
type Step string

// Flow constants.
const (
	FlowWelcome              Flow = "welcome"
	FlowDonorRegistration    Flow = "donor_registration"
	FlowDonorVerification    Flow = "donor_verification"
	FlowHospitalRegistration Flow = "hospital_registration"
	FlowHospitalVerification Flow = "hospital_verification"
	FlowRequest              Flow = "request"
	FlowAcceptance           Flow = "acceptance"
	FlowDonation             Flow = "donation"
)

// Step constants. Several flows share a step name (Start, Complete); the
// pair (Flow, Step) is what identifies a position.
const (
	StepStart    Step = "start"
	StepComplete Step = "complete"
	StepFailed   Step = "failed"
	StepIdle     Step = "idle"

	// Welcome
	StepChooseRole Step = "choose_role"

	// DonorRegistration
	StepName             Step = "name"
	StepBloodType        Step = "blood_type"
	StepGenotype         Step = "genotype"
	StepMedicalScreening Step = "medical_screening"
	StepMedicalDetail    Step = "medical_detail"
	StepLocation         Step = "location"
	StepBankDetails      Step = "bank_details"
	StepIDVerification   Step = "id_verification"

	// Verification
	StepAskIdentifier Step = "ask_identifier"
	StepAskSelfie     Step = "ask_selfie"
	StepAskDocument   Step = "ask_document"

	// HospitalRegistration
	StepHospitalName  Step = "hospital_name"
	StepLicenseNumber Step = "license_number"
	StepContact       Step = "contact"
	StepAddress       Step = "address"
	StepAdminName     Step = "admin_name"
	StepAdminPhone    Step = "admin_phone"
	StepPictures      Step = "pictures"

	// Request
	StepUnitsNeeded Step = "units_needed"
	StepUrgency     Step = "urgency"
	StepDeadline    Step = "deadline"
	StepConfirm     Step = "confirm"

	// Acceptance
	StepSelectRequest       Step = "select_request"
	StepPledgeUnits         Step = "pledge_units"
	StepConfirmAvailability Step = "confirm_availability"
	StepFinalConfirm        Step = "final_confirm"
)

// flowSteps is the ordered step enum of each flow.
var flowSteps = map[Flow][]Step{
	FlowWelcome: {StepStart, StepChooseRole},
	FlowDonorRegistration: {
		StepStart, StepName, StepBloodType, StepGenotype, StepMedicalScreening,
		StepMedicalDetail, StepLocation, StepBankDetails, StepIDVerification, StepComplete,
	},
	FlowDonorVerification: {
		StepStart, StepAskIdentifier, StepAskSelfie, StepAskDocument, StepComplete, StepFailed,
	},
	FlowHospitalRegistration: {
		StepStart, StepHospitalName, StepLicenseNumber, StepContact, StepAddress,
		StepAdminName, StepAdminPhone, StepPictures, StepComplete,
	},
	FlowHospitalVerification: {StepStart, StepAskIdentifier, StepComplete, StepFailed},
	FlowRequest: {
		StepStart, StepBloodType, StepGenotype, StepUnitsNeeded, StepUrgency, StepDeadline, StepConfirm,
	},
	FlowAcceptance: {
		StepStart, StepSelectRequest, StepPledgeUnits, StepConfirmAvailability, StepFinalConfirm,
	},
	FlowDonation: {StepIdle},
}

// IsValidFlow reports whether f is a known flow.
func IsValidFlow(f Flow) bool {
	_, ok := flowSteps[f]
	return ok
}

// StepsOf returns the ordered steps of a flow, nil for unknown flows.
func StepsOf(f Flow) []Step {
	steps := flowSteps[f]
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// IsValidStep reports whether step belongs to the step enum of flow.
func IsValidStep(f Flow, step Step) bool {
	for _, s := range flowSteps[f] {
		if s == step {
			return true
		}
	}
	return false
}

// EntryStep is the step a flow (re)starts from.
func EntryStep(f Flow) Step {
	steps := flowSteps[f]
	if len(steps) == 0 {
		return StepStart
	}
	return steps[0]
}
