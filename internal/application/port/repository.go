package port

import (
	"context"
	"time"

	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// EligibilityCheckRepository persists the per-applicant eligibility record
type EligibilityCheckRepository interface {
	// Upsert creates or overwrites the check keyed by applicant id
	Upsert(ctx context.Context, check *entity.EligibilityCheck) error
	Find(ctx context.Context, applicantID string) (*entity.EligibilityCheck, error)
	Delete(ctx context.Context, applicantID string) error
}

// FamilyLeaseRepository stores family leases. Create must be an atomic
// create-if-absent returning ErrConflict when the hash is already leased.
type FamilyLeaseRepository interface {
	Create(ctx context.Context, lease *entity.FamilyLease) error
	Find(ctx context.Context, familyHash string) (*entity.FamilyLease, error)
	Delete(ctx context.Context, familyHash string) error
}

// ProcessingMarkRepository stores per-applicant processing marks
type ProcessingMarkRepository interface {
	Create(ctx context.Context, mark *entity.ProcessingMark) error
	Find(ctx context.Context, applicantID string) (*entity.ProcessingMark, error)
	Delete(ctx context.Context, applicantID string) error
}

// BonusActivationRepository persists activations. Records are never deleted.
type BonusActivationRepository interface {
	Create(ctx context.Context, activation *entity.BonusActivation) error
	Find(ctx context.Context, bonusID string) (*entity.BonusActivation, error)
	Exists(ctx context.Context, bonusID string) (bool, error)
	Replace(ctx context.Context, activation *entity.BonusActivation) error
	ListByApplicant(ctx context.Context, applicantID string) ([]*entity.BonusActivation, error)
	// ListByStatusBefore returns activations in status created before the cutoff, oldest first
	ListByStatusBefore(ctx context.Context, status entity.ActivationStatus, before time.Time) ([]*entity.BonusActivation, error)
}

// UserBonusRepository is the append-only member index of active bonuses
type UserBonusRepository interface {
	// CreateBatch inserts rows, skipping rows that already exist
	CreateBatch(ctx context.Context, rows []*entity.UserBonus) error
	ListByFiscalCode(ctx context.Context, fiscalCode string) ([]*entity.UserBonus, error)
}

// WorkflowInstanceRepository persists engine instance state
type WorkflowInstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	Find(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	Delete(ctx context.Context, id string) error
	// MarkRunning moves a PENDING instance to RUNNING; a RUNNING instance is left as is
	MarkRunning(ctx context.Context, id string) error
	UpdateCustomStatus(ctx context.Context, id, customStatus string) error
	// Complete moves a non-terminal instance to a terminal status. It returns
	// ErrNotFound when the instance is missing or already terminal.
	Complete(ctx context.Context, id string, status entity.RuntimeStatus, customStatus string, output []byte, errMsg string) error
	ListByStatus(ctx context.Context, statuses ...entity.RuntimeStatus) ([]*entity.WorkflowInstance, error)
}

// WorkflowHistoryRepository persists the replay log
type WorkflowHistoryRepository interface {
	// Append returns ErrConflict when the sequence number is already recorded
	Append(ctx context.Context, evt *entity.HistoryEvent) error
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.HistoryEvent, error)
	DeleteByInstance(ctx context.Context, instanceID string) error
}

// TransactionManager runs fn inside a transaction carried by ctx
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
