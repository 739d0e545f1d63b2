// Package orchestrator contains the bodies of the eligibility check and
// bonus activation workflows.
package orchestrator

import (
	"time"

	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// Config holds the timing and retry policies of both workflows
type Config struct {
	// NotificationDelay is waited between storing a check and notifying it
	NotificationDelay time.Duration

	InquiryRetry      *workflow.RetryOptions
	PersistRetry      *workflow.RetryOptions
	NotificationRetry *workflow.RetryOptions
	LookupRetry       *workflow.RetryOptions
	GrantRetry        *workflow.RetryOptions
}

// DefaultConfig returns the production policies
func DefaultConfig() Config {
	grant := workflow.DefaultRetryOptions()
	grant.MaxNumberOfAttempts = 10

	return Config{
		NotificationDelay: time.Minute,
		InquiryRetry:      workflow.DefaultRetryOptions(),
		PersistRetry:      workflow.DefaultRetryOptions(),
		NotificationRetry: workflow.DefaultRetryOptions(),
		LookupRetry:       workflow.DefaultRetryOptions(),
		GrantRetry:        grant,
	}
}

// EligibilityInput starts an EligibilityCheckWorkflow
type EligibilityInput struct {
	ApplicantID string `json:"applicant_id"`
}

// ActivationInput starts a BonusActivationWorkflow
type ActivationInput struct {
	ApplicantID string `json:"applicant_id"`
	BonusID     string `json:"bonus_id"`
}

// Orchestrators binds the workflow bodies to their configuration
type Orchestrators struct {
	cfg Config
}

// New creates the workflow bodies
func New(cfg Config) *Orchestrators {
	return &Orchestrators{cfg: cfg}
}

// Register binds both workflow types
func (o *Orchestrators) Register(r workflow.Registry) {
	r.RegisterWorkflow(entity.WorkflowTypeEligibilityCheck, o.EligibilityCheck)
	r.RegisterWorkflow(entity.WorkflowTypeBonusActivation, o.BonusActivation)
}
