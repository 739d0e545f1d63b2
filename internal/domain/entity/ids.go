package entity

// Workflow types hosted by the engine
const (
	WorkflowTypeEligibilityCheck = "EligibilityCheckWorkflow"
	WorkflowTypeBonusActivation  = "BonusActivationWorkflow"
)

// Instance id suffixes. Running instances are addressed by these ids, so
// they must not change.
const (
	EligibilityInstanceSuffix = "-BV-ELIGIBILITY-CHECK"
	ActivationInstanceSuffix  = "-BV-ACTIVATION"
)

// EligibilityInstanceID is the engine id of an applicant's eligibility check
func EligibilityInstanceID(applicantID string) string {
	return applicantID + EligibilityInstanceSuffix
}

// ActivationInstanceID is the engine id of an applicant's bonus activation
func ActivationInstanceID(applicantID string) string {
	return applicantID + ActivationInstanceSuffix
}

// InstanceIDFor derives the instance id of workflowType for an applicant.
// It returns "" for an unknown type.
func InstanceIDFor(workflowType, applicantID string) string {
	switch workflowType {
	case WorkflowTypeEligibilityCheck:
		return EligibilityInstanceID(applicantID)
	case WorkflowTypeBonusActivation:
		return ActivationInstanceID(applicantID)
	default:
		return ""
	}
}
