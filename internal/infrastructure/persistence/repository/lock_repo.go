package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/persistence/sqlite"
)

// FamilyLeaseRepository implements port.FamilyLeaseRepository. The primary
// key on the family hash makes Create an atomic create-if-absent.
type FamilyLeaseRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewFamilyLeaseRepository creates a new family lease repository
func NewFamilyLeaseRepository(db *sqlite.DB, logger *zap.Logger) port.FamilyLeaseRepository {
	return &FamilyLeaseRepository{db: db, logger: logger}
}

func (r *FamilyLeaseRepository) Create(ctx context.Context, lease *entity.FamilyLease) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx,
		"INSERT INTO family_leases (id, applicant_id, bonus_id, created_at) VALUES (?, ?, ?, ?)",
		lease.ID, lease.ApplicantID, lease.BonusID, formatTime(lease.CreatedAt),
	)
	if err != nil {
		if err = conflict(err); err == port.ErrConflict {
			return err
		}
		r.logger.Error("Failed to create family lease", zap.String("family_hash", lease.ID), zap.Error(err))
		return fmt.Errorf("failed to create family lease: %w", err)
	}
	return nil
}

func (r *FamilyLeaseRepository) Find(ctx context.Context, familyHash string) (*entity.FamilyLease, error) {
	var (
		lease     entity.FamilyLease
		createdAt string
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		"SELECT id, applicant_id, bonus_id, created_at FROM family_leases WHERE id = ?", familyHash,
	).Scan(&lease.ID, &lease.ApplicantID, &lease.BonusID, &createdAt)
	if err != nil {
		if err = notFound(err); err == port.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get family lease: %w", err)
	}
	if lease.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, corrupt("family lease", familyHash, err)
	}
	return &lease, nil
}

func (r *FamilyLeaseRepository) Delete(ctx context.Context, familyHash string) error {
	res, err := r.db.Executor(ctx).ExecContext(ctx, "DELETE FROM family_leases WHERE id = ?", familyHash)
	if err != nil {
		return fmt.Errorf("failed to delete family lease: %w", err)
	}
	return requireAffected(res)
}

// ProcessingMarkRepository implements port.ProcessingMarkRepository
type ProcessingMarkRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewProcessingMarkRepository creates a new processing mark repository
func NewProcessingMarkRepository(db *sqlite.DB, logger *zap.Logger) port.ProcessingMarkRepository {
	return &ProcessingMarkRepository{db: db, logger: logger}
}

func (r *ProcessingMarkRepository) Create(ctx context.Context, mark *entity.ProcessingMark) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx,
		"INSERT INTO processing_marks (id, bonus_id, created_at) VALUES (?, ?, ?)",
		mark.ID, mark.BonusID, formatTime(mark.CreatedAt),
	)
	if err != nil {
		if err = conflict(err); err == port.ErrConflict {
			return err
		}
		r.logger.Error("Failed to create processing mark", zap.String("applicant_id", mark.ID), zap.Error(err))
		return fmt.Errorf("failed to create processing mark: %w", err)
	}
	return nil
}

func (r *ProcessingMarkRepository) Find(ctx context.Context, applicantID string) (*entity.ProcessingMark, error) {
	var (
		mark      entity.ProcessingMark
		createdAt string
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		"SELECT id, bonus_id, created_at FROM processing_marks WHERE id = ?", applicantID,
	).Scan(&mark.ID, &mark.BonusID, &createdAt)
	if err != nil {
		if err = notFound(err); err == port.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get processing mark: %w", err)
	}
	if mark.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, corrupt("processing mark", applicantID, err)
	}
	return &mark, nil
}

func (r *ProcessingMarkRepository) Delete(ctx context.Context, applicantID string) error {
	res, err := r.db.Executor(ctx).ExecContext(ctx, "DELETE FROM processing_marks WHERE id = ?", applicantID)
	if err != nil {
		return fmt.Errorf("failed to delete processing mark: %w", err)
	}
	return requireAffected(res)
}

var (
	_ port.FamilyLeaseRepository    = (*FamilyLeaseRepository)(nil)
	_ port.ProcessingMarkRepository = (*ProcessingMarkRepository)(nil)
)
