// Package activity holds the units of work driven by the bonus workflows.
// Every activity is safe to run again after a crash: creates skip existing
// rows, deletes treat absence as success and status transitions acknowledge
// an already reached target.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/lock"
	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
	domainwf "github.com/garyjia/bonus-orchestrator/internal/domain/workflow"
	"github.com/garyjia/bonus-orchestrator/pkg/utils"
)

// Activity names as recorded in workflow history
const (
	NameRunEligibilityInquiry       = "RunEligibilityInquiry"
	NameValidateFamilyNotLeased     = "ValidateFamilyNotLeased"
	NamePersistEligibilityResult    = "PersistEligibilityResult"
	NameDeleteStaleEligibilityCheck = "DeleteStaleEligibilityCheck"
	NameGetBonusActivation          = "GetBonusActivation"
	NameGrantBonusAtAuthority       = "GrantBonusAtAuthority"
	NameMarkActivationActive        = "MarkActivationActive"
	NameMarkActivationFailed        = "MarkActivationFailed"
	NameReleaseFamilyLock           = "ReleaseFamilyLock"
	NameSendNotification            = "SendNotification"
)

// DefaultEligibilityValidity is how long an eligibility check can be used
const DefaultEligibilityValidity = 24 * time.Hour

// Dependencies are the collaborators of the activities
type Dependencies struct {
	Checks      port.EligibilityCheckRepository
	Activations port.BonusActivationRepository
	UserBonuses port.UserBonusRepository
	Locks       lock.Manager
	TxManager   port.TransactionManager
	Inquiry     port.InquiryClient
	Grant       port.GrantClient
	Notifier    port.NotificationSender

	// EligibilityValidity defaults to DefaultEligibilityValidity
	EligibilityValidity time.Duration
}

// Activities implements every activity of the bonus workflows
type Activities struct {
	deps   Dependencies
	now    func() time.Time
	logger *zap.Logger
}

// New creates the activity set
func New(deps Dependencies, logger *zap.Logger) *Activities {
	if deps.EligibilityValidity <= 0 {
		deps.EligibilityValidity = DefaultEligibilityValidity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		deps:   deps,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Register binds every activity to its history name
func (a *Activities) Register(r workflow.Registry) {
	r.RegisterActivity(NameRunEligibilityInquiry, workflow.NewActivity(a.RunEligibilityInquiry))
	r.RegisterActivity(NameValidateFamilyNotLeased, workflow.NewActivity(a.ValidateFamilyNotLeased))
	r.RegisterActivity(NamePersistEligibilityResult, workflow.NewActivity(a.PersistEligibilityResult))
	r.RegisterActivity(NameDeleteStaleEligibilityCheck, workflow.NewActivity(a.DeleteStaleEligibilityCheck))
	r.RegisterActivity(NameGetBonusActivation, workflow.NewActivity(a.GetBonusActivation))
	r.RegisterActivity(NameGrantBonusAtAuthority, workflow.NewActivity(a.GrantBonusAtAuthority))
	r.RegisterActivity(NameMarkActivationActive, workflow.NewActivity(a.MarkActivationActive))
	r.RegisterActivity(NameMarkActivationFailed, workflow.NewActivity(a.MarkActivationFailed))
	r.RegisterActivity(NameReleaseFamilyLock, workflow.NewActivity(a.ReleaseFamilyLock))
	r.RegisterActivity(NameSendNotification, workflow.NewActivity(a.SendNotification))
}

// RunEligibilityInquiry asks the tax authority for the applicant's ISEE and
// turns the answer into a check. Transport failures are returned as errors
// so the caller retries them; rejections become FAILURE checks.
func (a *Activities) RunEligibilityInquiry(ctx context.Context, applicantID string) (*entity.EligibilityCheck, error) {
	res, err := a.deps.Inquiry.Inquire(ctx, applicantID)
	if err != nil {
		a.logger.Warn("ISEE inquiry failed",
			zap.String("applicant_id", applicantID),
			zap.Error(err))
		return nil, fmt.Errorf("isee inquiry: %w", err)
	}

	now := a.now()
	check := &entity.EligibilityCheck{
		ID:          applicantID,
		ValidBefore: now.Add(a.deps.EligibilityValidity),
		CreatedAt:   now,
	}

	switch res.Outcome {
	case port.InquiryDataNotFound:
		check.Status = entity.EligibilityFailure
		check.Error = entity.EligibilityErrorDataNotFound
		check.ErrorDescription = res.Message
	case port.InquiryInvalidRequest:
		check.Status = entity.EligibilityFailure
		check.Error = entity.EligibilityErrorInvalidRequest
		check.ErrorDescription = res.Message
	case port.InquirySuccess:
		amount, taxBenefit := entity.BonusAmount(len(res.FamilyMembers))
		check.DSU = &entity.DSURequest{
			RequestID:        res.RequestID,
			ISEEType:         res.ISEEType,
			ISEEValue:        res.ISEEValue,
			DSUProtocolID:    res.DSUProtocolID,
			DSUCreatedAt:     res.DSUCreatedAt,
			HasDiscrepancies: res.HasDiscrepancies,
			FamilyMembers:    res.FamilyMembers,
			MaxAmount:        amount,
			MaxTaxBenefit:    taxBenefit,
		}
		check.Status = entity.EligibilityEligible
		if res.ISEEValue >= entity.ISEEThreshold || len(res.FamilyMembers) == 0 {
			check.Status = entity.EligibilityIneligible
		}
	default:
		return nil, workflow.Permanent(fmt.Errorf("unexpected inquiry outcome %q", res.Outcome))
	}

	a.logger.Info("ISEE inquiry completed",
		zap.String("applicant_id", applicantID),
		zap.String("status", string(check.Status)))
	return check, nil
}

// ValidateFamilyNotLeased flips an ELIGIBLE check to CONFLICT when another
// member of the family holds the lease.
func (a *Activities) ValidateFamilyNotLeased(ctx context.Context, check *entity.EligibilityCheck) (*entity.EligibilityCheck, error) {
	if check == nil || check.Status != entity.EligibilityEligible || check.DSU == nil {
		return check, nil
	}

	hash := entity.FamilyHash(check.DSU.FamilyMembers)
	leased, err := a.deps.Locks.IsFamilyLeased(ctx, hash)
	if err != nil {
		return nil, err
	}
	if leased {
		a.logger.Info("Family already leased, eligibility in conflict",
			zap.String("applicant_id", check.ID),
			zap.String("family_hash", hash))
		check.Status = entity.EligibilityConflict
	}
	return check, nil
}

// PersistEligibilityResult overwrites the applicant's check
func (a *Activities) PersistEligibilityResult(ctx context.Context, check *entity.EligibilityCheck) (bool, error) {
	if check == nil || check.ID == "" {
		return false, workflow.Permanent(errors.New("eligibility check without applicant id"))
	}
	if err := a.deps.Checks.Upsert(ctx, check); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteStaleEligibilityCheck removes a previous check. Absence is success.
func (a *Activities) DeleteStaleEligibilityCheck(ctx context.Context, applicantID string) (bool, error) {
	if err := a.deps.Checks.Delete(ctx, applicantID); err != nil && !errors.Is(err, port.ErrNotFound) {
		return false, err
	}
	return true, nil
}

// ActivationLookup is the result of GetBonusActivation. A missing or
// undecodable record is a permanent outcome, not an error.
type ActivationLookup struct {
	Found      bool                    `json:"found"`
	Activation *entity.BonusActivation `json:"activation,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}

// GetBonusActivation loads the activation driven by a workflow
func (a *Activities) GetBonusActivation(ctx context.Context, bonusID string) (*ActivationLookup, error) {
	activation, err := a.deps.Activations.Find(ctx, bonusID)
	switch {
	case err == nil:
		return &ActivationLookup{Found: true, Activation: activation}, nil
	case errors.Is(err, port.ErrNotFound), errors.Is(err, port.ErrCorruptRecord):
		a.logger.Error("Bonus activation unavailable",
			zap.String("bonus_id", bonusID),
			zap.Error(err))
		return &ActivationLookup{Found: false, Reason: err.Error()}, nil
	default:
		return nil, err
	}
}

// GrantOutcome is the typed answer of the grant authority
type GrantOutcome struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// GrantBonusAtAuthority submits the bonus snapshot. Rejections are returned
// as an outcome; transient failures as errors.
func (a *Activities) GrantBonusAtAuthority(ctx context.Context, activation *entity.BonusActivation) (*GrantOutcome, error) {
	if activation == nil {
		return nil, workflow.Permanent(errors.New("grant requires an activation"))
	}
	if len(activation.DSU.FamilyMembers) == 0 {
		return nil, workflow.Permanent(fmt.Errorf("activation %s carries no family members", activation.ID))
	}

	snapshot := &port.GrantSnapshot{
		BonusID:       activation.ID,
		ApplicantID:   activation.ApplicantID,
		FamilyHash:    activation.FamilyHash,
		FamilyMembers: activation.DSU.FamilyMembers,
		Amount:        activation.DSU.MaxAmount,
		TaxBenefit:    activation.DSU.MaxTaxBenefit,
		CreatedAt:     activation.CreatedAt,
	}

	res, err := a.deps.Grant.Grant(ctx, snapshot)
	if err != nil {
		a.logger.Warn("Grant authority call failed",
			zap.String("bonus_id", activation.ID),
			zap.Error(err))
		return nil, fmt.Errorf("grant bonus %s: %w", activation.ID, err)
	}

	reason := utils.SanitizeString(res.Reason)
	a.logger.Info("Grant authority answered",
		zap.String("bonus_id", activation.ID),
		zap.Bool("granted", res.Granted),
		zap.String("reason", reason))
	return &GrantOutcome{Granted: res.Granted, Reason: reason}, nil
}

// MarkActivationActive records a confirmed grant: the activation becomes
// ACTIVE, every family member is indexed and the processing mark is
// dropped, all in one transaction.
func (a *Activities) MarkActivationActive(ctx context.Context, bonusID string) (bool, error) {
	return a.finalize(ctx, bonusID, domainwf.TriggerGrantConfirmed, entity.ActivationActive)
}

// MarkActivationFailed records a rejected grant and drops the processing mark
func (a *Activities) MarkActivationFailed(ctx context.Context, bonusID string) (bool, error) {
	return a.finalize(ctx, bonusID, domainwf.TriggerGrantRejected, entity.ActivationFailed)
}

func (a *Activities) finalize(ctx context.Context, bonusID string, trigger domainwf.Trigger, target entity.ActivationStatus) (bool, error) {
	err := a.deps.TxManager.WithTransaction(ctx, func(ctx context.Context) error {
		activation, err := a.deps.Activations.Find(ctx, bonusID)
		if err != nil {
			return fmt.Errorf("failed to load activation %s: %w", bonusID, err)
		}

		if activation.Status != target {
			if err := domainwf.TransitionActivation(activation, trigger); err != nil {
				// The record reached the other terminal status; retrying cannot help.
				return workflow.Permanent(fmt.Errorf("activation %s: %w", bonusID, err))
			}
			activation.UpdatedAt = a.now()
			if err := a.deps.Activations.Replace(ctx, activation); err != nil {
				return fmt.Errorf("failed to update activation %s: %w", bonusID, err)
			}
		}

		if target == entity.ActivationActive {
			rows := entity.UserBonusesFor(activation, a.now())
			if err := a.deps.UserBonuses.CreateBatch(ctx, rows); err != nil {
				return fmt.Errorf("failed to index bonus %s: %w", bonusID, err)
			}
		}

		return a.deps.Locks.ReleaseApplicantMark(ctx, activation.ApplicantID)
	})
	if err != nil {
		a.logger.Error("Failed to finalize activation",
			zap.String("bonus_id", bonusID),
			zap.String("target_status", string(target)),
			zap.Error(err))
		return false, err
	}

	a.logger.Info("Activation finalized",
		zap.String("bonus_id", bonusID),
		zap.String("status", string(target)))
	return true, nil
}

// ReleaseFamilyLock drops the family lease. Absence is success.
func (a *Activities) ReleaseFamilyLock(ctx context.Context, familyHash string) (bool, error) {
	if err := a.deps.Locks.ReleaseFamilyLock(ctx, familyHash); err != nil {
		return false, err
	}
	return true, nil
}

// NotificationRequest is the input of SendNotification
type NotificationRequest struct {
	ApplicantID string `json:"applicant_id"`
	Content     string `json:"content"`
}

// NotificationResult reports a delivery the provider did not fail with a 5xx
type NotificationResult struct {
	Delivered  bool `json:"delivered"`
	StatusCode int  `json:"status_code"`
}

// SendNotification delivers a message. A 5xx answer or a transport error is
// returned as an error so the caller retries it; any other non-2xx answer
// is a permanent, undelivered result.
func (a *Activities) SendNotification(ctx context.Context, req NotificationRequest) (*NotificationResult, error) {
	code, err := a.deps.Notifier.Send(ctx, req.ApplicantID, req.Content)
	if err != nil {
		return nil, fmt.Errorf("send notification: %w", err)
	}
	if code >= 500 {
		return nil, fmt.Errorf("notification service answered %d", code)
	}

	res := &NotificationResult{StatusCode: code, Delivered: code >= 200 && code < 300}
	if !res.Delivered {
		a.logger.Warn("Notification rejected",
			zap.String("applicant_id", req.ApplicantID),
			zap.Int("status_code", code))
	}
	return res, nil
}
