package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/lock"
	"github.com/garyjia/bonus-orchestrator/internal/application/orchestrator"
	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
	domainwf "github.com/garyjia/bonus-orchestrator/internal/domain/workflow"
	"github.com/garyjia/bonus-orchestrator/pkg/utils"
)

// maxCodeAttempts bounds bonus code generation on collisions
const maxCodeAttempts = 10

// EligibilityView is what a poller sees of an applicant's eligibility
type EligibilityView struct {
	// Processing is true until the running instance has stored its result
	Processing bool
	InstanceID string
	Check      *entity.EligibilityCheck
}

// BonusService is the entry point of the start and poll paths
type BonusService interface {
	// StartEligibilityCheck starts the eligibility workflow and returns its
	// instance id. When a check is already running the id is returned along
	// with ErrCheckInProgress.
	StartEligibilityCheck(ctx context.Context, applicantID string) (string, error)

	// GetEligibilityCheck returns the stored check, or a processing view
	GetEligibilityCheck(ctx context.Context, applicantID string) (*EligibilityView, error)

	// StartBonusActivation reserves the family and starts the activation workflow
	StartBonusActivation(ctx context.Context, applicantID string) (*entity.BonusActivation, error)

	// GetBonusActivation returns one of the applicant's activations
	GetBonusActivation(ctx context.Context, applicantID, bonusID string) (*entity.BonusActivation, error)

	// ListBonuses returns every activation requested by the applicant
	ListBonuses(ctx context.Context, applicantID string) ([]*entity.BonusActivation, error)

	// ListStaleActivations returns PROCESSING activations older than olderThan
	ListStaleActivations(ctx context.Context, olderThan time.Duration) ([]*entity.BonusActivation, error)
}

type bonusServiceImpl struct {
	checks      port.EligibilityCheckRepository
	activations port.BonusActivationRepository
	locks       lock.Manager
	workflows   workflow.Client
	logger      *zap.Logger

	now          func() time.Time
	generateCode func() (string, error)
}

// NewBonusService creates a new BonusService
func NewBonusService(
	checks port.EligibilityCheckRepository,
	activations port.BonusActivationRepository,
	locks lock.Manager,
	workflows workflow.Client,
	logger *zap.Logger,
) BonusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &bonusServiceImpl{
		checks:       checks,
		activations:  activations,
		locks:        locks,
		workflows:    workflows,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		generateCode: entity.GenerateBonusCode,
	}
}

func normalizeApplicant(applicantID string) (string, error) {
	id := utils.NormalizeFiscalCode(applicantID)
	if err := utils.ValidateFiscalCode(id); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidApplicant, err)
	}
	return id, nil
}

func (s *bonusServiceImpl) StartEligibilityCheck(ctx context.Context, applicantID string) (string, error) {
	applicantID, err := normalizeApplicant(applicantID)
	if err != nil {
		return "", err
	}

	activation, err := s.locks.CheckApplicantLock(ctx, applicantID, entity.WorkflowTypeBonusActivation)
	if err != nil {
		return "", err
	}
	if activation.IsRunning() {
		return "", ErrActivationInProgress
	}

	check, err := s.locks.CheckApplicantLock(ctx, applicantID, entity.WorkflowTypeEligibilityCheck)
	if err != nil {
		return "", err
	}
	if check.IsRunning() {
		return check.InstanceID, ErrCheckInProgress
	}

	instanceID, err := s.workflows.StartNew(ctx, entity.WorkflowTypeEligibilityCheck,
		entity.EligibilityInstanceID(applicantID), orchestrator.EligibilityInput{ApplicantID: applicantID})
	if errors.Is(err, workflow.ErrAlreadyRunning) {
		return entity.EligibilityInstanceID(applicantID), ErrCheckInProgress
	}
	if err != nil {
		return "", fmt.Errorf("failed to start eligibility check: %w", err)
	}

	s.logger.Info("Eligibility check started",
		zap.String("applicant_id", applicantID),
		zap.String("instance_id", instanceID))
	return instanceID, nil
}

func (s *bonusServiceImpl) GetEligibilityCheck(ctx context.Context, applicantID string) (*EligibilityView, error) {
	applicantID, err := normalizeApplicant(applicantID)
	if err != nil {
		return nil, err
	}
	instanceID := entity.EligibilityInstanceID(applicantID)
	view := &EligibilityView{InstanceID: instanceID}

	status, err := s.workflows.GetStatus(ctx, instanceID)
	switch {
	case err == nil:
		if status.IsRunning() && status.CustomStatus != entity.CustomStatusCompleted {
			view.Processing = true
			return view, nil
		}
	case errors.Is(err, workflow.ErrInstanceNotFound):
		status = nil
	default:
		return nil, fmt.Errorf("failed to read eligibility workflow: %w", err)
	}

	check, err := s.checks.Find(ctx, applicantID)
	switch {
	case err == nil:
		view.Check = check
		return view, nil
	case errors.Is(err, port.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to read eligibility check: %w", err)
	}

	// A failed instance never stores a check; report it instead of a 404
	if status != nil && status.RuntimeStatus == entity.RuntimeFailed {
		view.Check = &entity.EligibilityCheck{
			ID:               applicantID,
			Status:           entity.EligibilityFailure,
			Error:            entity.EligibilityErrorInternal,
			ErrorDescription: status.Error,
			CreatedAt:        status.UpdatedAt,
		}
		return view, nil
	}
	return nil, ErrEligibilityNotFound
}

func (s *bonusServiceImpl) StartBonusActivation(ctx context.Context, applicantID string) (*entity.BonusActivation, error) {
	applicantID, err := normalizeApplicant(applicantID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(zap.String("applicant_id", applicantID))

	busy, err := s.locks.CheckApplicantLock(ctx, applicantID, entity.WorkflowTypeBonusActivation)
	if err != nil {
		return nil, err
	}
	if busy.IsRunning() {
		return nil, ErrActivationInProgress
	}

	check, err := s.eligibleCheck(ctx, applicantID)
	if err != nil {
		return nil, err
	}

	bonusID, err := s.newBonusCode(ctx)
	if err != nil {
		return nil, err
	}
	familyHash := entity.FamilyHash(check.DSU.FamilyMembers)
	logger = logger.With(zap.String("bonus_id", bonusID), zap.String("family_hash", familyHash))

	acquired, err := s.locks.AcquireFamilyLock(ctx, &entity.FamilyLease{
		ID:          familyHash,
		ApplicantID: applicantID,
		BonusID:     bonusID,
	})
	if err != nil {
		return nil, err
	}
	if acquired == lock.Conflict {
		return nil, ErrFamilyAlreadyLeased
	}

	// Every step past the lease pushes its undo onto the slip
	slip := &compensations{}
	slip.push("release family lock", func(ctx context.Context) error {
		return s.locks.ReleaseFamilyLock(ctx, familyHash)
	})

	now := s.now()
	activation := &entity.BonusActivation{
		ID:          bonusID,
		ApplicantID: applicantID,
		FamilyHash:  familyHash,
		Status:      entity.ActivationProcessing,
		DSU:         *check.DSU,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.activations.Create(ctx, activation); err != nil {
		s.compensate(ctx, logger, slip)
		return nil, fmt.Errorf("failed to create bonus activation: %w", err)
	}
	slip.push("mark activation failed", func(ctx context.Context) error {
		return s.failActivation(ctx, bonusID)
	})

	marked, err := s.locks.AcquireApplicantMark(ctx, &entity.ProcessingMark{ID: applicantID, BonusID: bonusID})
	if err != nil || marked == lock.Conflict {
		s.compensate(ctx, logger, slip)
		if err != nil {
			return nil, err
		}
		return nil, ErrActivationInProgress
	}
	slip.push("release processing mark", func(ctx context.Context) error {
		return s.locks.ReleaseApplicantMark(ctx, applicantID)
	})

	_, err = s.workflows.StartNew(ctx, entity.WorkflowTypeBonusActivation, entity.ActivationInstanceID(applicantID),
		orchestrator.ActivationInput{ApplicantID: applicantID, BonusID: bonusID})
	if err != nil {
		s.compensate(ctx, logger, slip)
		if errors.Is(err, workflow.ErrAlreadyRunning) {
			return nil, ErrActivationInProgress
		}
		return nil, fmt.Errorf("failed to start bonus activation: %w", err)
	}

	// The check is single use; the activation now carries its DSU
	if err := s.checks.Delete(ctx, applicantID); err != nil && !errors.Is(err, port.ErrNotFound) {
		logger.Warn("Failed to delete consumed eligibility check", zap.Error(err))
	}

	logger.Info("Bonus activation started")
	return activation, nil
}

func (s *bonusServiceImpl) eligibleCheck(ctx context.Context, applicantID string) (*entity.EligibilityCheck, error) {
	check, err := s.checks.Find(ctx, applicantID)
	switch {
	case errors.Is(err, port.ErrNotFound):
		return nil, ErrEligibilityNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read eligibility check: %w", err)
	}
	if check.Status != entity.EligibilityEligible || check.DSU == nil || len(check.DSU.FamilyMembers) == 0 {
		return nil, ErrNotEligible
	}
	if check.IsExpired(s.now()) {
		return nil, ErrEligibilityExpired
	}
	return check, nil
}

func (s *bonusServiceImpl) newBonusCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.generateCode()
		if err != nil {
			return "", err
		}
		taken, err := s.activations.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check bonus code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrBonusCodeExhausted
}

func (s *bonusServiceImpl) failActivation(ctx context.Context, bonusID string) error {
	activation, err := s.activations.Find(ctx, bonusID)
	if err != nil {
		return err
	}
	if activation.Status == entity.ActivationFailed {
		return nil
	}
	if err := domainwf.TransitionActivation(activation, domainwf.TriggerGrantRejected); err != nil {
		return err
	}
	activation.UpdatedAt = s.now()
	return s.activations.Replace(ctx, activation)
}

// compensate runs the slip on a context that outlives the request
func (s *bonusServiceImpl) compensate(ctx context.Context, logger *zap.Logger, slip *compensations) {
	if err := slip.run(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Bonus activation compensation incomplete", zap.Error(err))
		return
	}
	logger.Info("Bonus activation rolled back")
}

func (s *bonusServiceImpl) GetBonusActivation(ctx context.Context, applicantID, bonusID string) (*entity.BonusActivation, error) {
	applicantID, err := normalizeApplicant(applicantID)
	if err != nil {
		return nil, err
	}
	if utils.ValidateBonusCode(bonusID) != nil {
		return nil, ErrBonusNotFound
	}

	activation, err := s.activations.Find(ctx, bonusID)
	switch {
	case errors.Is(err, port.ErrNotFound):
		return nil, ErrBonusNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read bonus activation: %w", err)
	}
	// Codes of other applicants are indistinguishable from unknown ones
	if activation.ApplicantID != applicantID {
		return nil, ErrBonusNotFound
	}
	return activation, nil
}

func (s *bonusServiceImpl) ListBonuses(ctx context.Context, applicantID string) ([]*entity.BonusActivation, error) {
	applicantID, err := normalizeApplicant(applicantID)
	if err != nil {
		return nil, err
	}
	activations, err := s.activations.ListByApplicant(ctx, applicantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonus activations: %w", err)
	}
	return activations, nil
}

func (s *bonusServiceImpl) ListStaleActivations(ctx context.Context, olderThan time.Duration) ([]*entity.BonusActivation, error) {
	activations, err := s.activations.ListByStatusBefore(ctx, entity.ActivationProcessing, s.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale activations: %w", err)
	}
	return activations, nil
}

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// compensations is a routing slip undone in reverse order. Every step runs
// even when an earlier one fails.
type compensations struct {
	steps []compensation
}

func (c *compensations) push(name string, undo func(ctx context.Context) error) {
	c.steps = append(c.steps, compensation{name: name, undo: undo})
}

func (c *compensations) run(ctx context.Context) error {
	var result *multierror.Error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return result.ErrorOrNil()
}
