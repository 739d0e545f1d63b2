// Package lock implements the two mutual-exclusion scopes of the bonus
// process on top of the repositories' atomic create-if-absent: one lease
// per family unit and one processing mark per applicant.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// AcquireResult is the outcome of a lock acquisition that did not error
type AcquireResult string

const (
	Acquired AcquireResult = "ACQUIRED"
	Conflict AcquireResult = "CONFLICT"
)

// LockState tells whether an applicant may start a new workflow
type LockState string

const (
	StateFree    LockState = "FREE"
	StateRunning LockState = "RUNNING"
)

// Reasons reported with StateRunning
const (
	ReasonProcessingMark  = "processing mark held"
	ReasonInstanceRunning = "workflow instance running"
)

// ApplicantLock is the answer of CheckApplicantLock
type ApplicantLock struct {
	State      LockState
	Reason     string
	InstanceID string
	// CustomStatus of the running instance, if any
	CustomStatus string
}

// IsRunning reports whether the applicant is busy
func (l *ApplicantLock) IsRunning() bool {
	return l.State == StateRunning
}

// StatusReader is the part of the workflow client the manager needs
type StatusReader interface {
	GetStatus(ctx context.Context, instanceID string) (*workflow.Status, error)
}

// Manager exposes the family and applicant locks
type Manager interface {
	// AcquireFamilyLock returns Conflict when the family is already leased
	AcquireFamilyLock(ctx context.Context, lease *entity.FamilyLease) (AcquireResult, error)

	// ReleaseFamilyLock is idempotent: an absent lease is not an error
	ReleaseFamilyLock(ctx context.Context, familyHash string) error

	IsFamilyLeased(ctx context.Context, familyHash string) (bool, error)

	// AcquireApplicantMark returns Conflict when the applicant already holds a mark
	AcquireApplicantMark(ctx context.Context, mark *entity.ProcessingMark) (AcquireResult, error)

	// ReleaseApplicantMark is idempotent
	ReleaseApplicantMark(ctx context.Context, applicantID string) error

	// CheckApplicantLock looks at the processing mark (activations only) and
	// at the engine status of the applicant's instance of workflowType.
	CheckApplicantLock(ctx context.Context, applicantID, workflowType string) (*ApplicantLock, error)
}

type managerImpl struct {
	leases   port.FamilyLeaseRepository
	marks    port.ProcessingMarkRepository
	statuses StatusReader
	logger   *zap.Logger
}

// NewManager creates a lock manager
func NewManager(
	leases port.FamilyLeaseRepository,
	marks port.ProcessingMarkRepository,
	statuses StatusReader,
	logger *zap.Logger,
) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &managerImpl{
		leases:   leases,
		marks:    marks,
		statuses: statuses,
		logger:   logger,
	}
}

func (m *managerImpl) AcquireFamilyLock(ctx context.Context, lease *entity.FamilyLease) (AcquireResult, error) {
	if lease.ID == "" {
		return "", fmt.Errorf("family lease requires a family hash")
	}
	if lease.CreatedAt.IsZero() {
		lease.CreatedAt = time.Now().UTC()
	}

	err := m.leases.Create(ctx, lease)
	switch {
	case err == nil:
		m.logger.Info("Family lock acquired",
			zap.String("family_hash", lease.ID),
			zap.String("applicant_id", lease.ApplicantID),
			zap.String("bonus_id", lease.BonusID))
		return Acquired, nil
	case errors.Is(err, port.ErrConflict):
		m.logger.Info("Family lock already held", zap.String("family_hash", lease.ID))
		return Conflict, nil
	default:
		m.logger.Error("Failed to acquire family lock",
			zap.String("family_hash", lease.ID),
			zap.Error(err))
		return "", fmt.Errorf("failed to acquire family lock: %w", err)
	}
}

func (m *managerImpl) ReleaseFamilyLock(ctx context.Context, familyHash string) error {
	err := m.leases.Delete(ctx, familyHash)
	if err != nil && !errors.Is(err, port.ErrNotFound) {
		m.logger.Error("Failed to release family lock",
			zap.String("family_hash", familyHash),
			zap.Error(err))
		return fmt.Errorf("failed to release family lock: %w", err)
	}
	m.logger.Info("Family lock released",
		zap.String("family_hash", familyHash),
		zap.Bool("was_held", err == nil))
	return nil
}

func (m *managerImpl) IsFamilyLeased(ctx context.Context, familyHash string) (bool, error) {
	_, err := m.leases.Find(ctx, familyHash)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, port.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up family lease: %w", err)
	}
}

func (m *managerImpl) AcquireApplicantMark(ctx context.Context, mark *entity.ProcessingMark) (AcquireResult, error) {
	if mark.CreatedAt.IsZero() {
		mark.CreatedAt = time.Now().UTC()
	}
	err := m.marks.Create(ctx, mark)
	switch {
	case err == nil:
		return Acquired, nil
	case errors.Is(err, port.ErrConflict):
		return Conflict, nil
	default:
		return "", fmt.Errorf("failed to create processing mark: %w", err)
	}
}

func (m *managerImpl) ReleaseApplicantMark(ctx context.Context, applicantID string) error {
	if err := m.marks.Delete(ctx, applicantID); err != nil && !errors.Is(err, port.ErrNotFound) {
		return fmt.Errorf("failed to delete processing mark: %w", err)
	}
	return nil
}

func (m *managerImpl) CheckApplicantLock(ctx context.Context, applicantID, workflowType string) (*ApplicantLock, error) {
	instanceID := entity.InstanceIDFor(workflowType, applicantID)
	if instanceID == "" {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownWorkflow, workflowType)
	}
	lock := &ApplicantLock{State: StateFree, InstanceID: instanceID}

	if workflowType == entity.WorkflowTypeBonusActivation {
		_, err := m.marks.Find(ctx, applicantID)
		switch {
		case err == nil:
			lock.State, lock.Reason = StateRunning, ReasonProcessingMark
			return lock, nil
		case errors.Is(err, port.ErrNotFound):
		default:
			return nil, fmt.Errorf("failed to look up processing mark: %w", err)
		}
	}

	st, err := m.statuses.GetStatus(ctx, instanceID)
	switch {
	case err == nil:
		if st.IsRunning() {
			lock.State, lock.Reason = StateRunning, ReasonInstanceRunning
			lock.CustomStatus = st.CustomStatus
		}
		return lock, nil
	case errors.Is(err, workflow.ErrInstanceNotFound):
		return lock, nil
	default:
		return nil, fmt.Errorf("failed to read workflow status: %w", err)
	}
}
