package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/persistence/sqlite"
)

// EligibilityCheckRepository implements port.EligibilityCheckRepository
type EligibilityCheckRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewEligibilityCheckRepository creates a new eligibility check repository
func NewEligibilityCheckRepository(db *sqlite.DB, logger *zap.Logger) port.EligibilityCheckRepository {
	return &EligibilityCheckRepository{db: db, logger: logger}
}

// Upsert creates or overwrites the applicant's check
func (r *EligibilityCheckRepository) Upsert(ctx context.Context, check *entity.EligibilityCheck) error {
	var dsu sql.NullString
	if check.DSU != nil {
		encoded, err := encodeJSON(check.DSU)
		if err != nil {
			return fmt.Errorf("failed to encode dsu: %w", err)
		}
		dsu = sql.NullString{String: encoded, Valid: true}
	}

	query := `
		INSERT INTO eligibility_checks (id, status, valid_before, error, error_description, dsu, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			valid_before = excluded.valid_before,
			error = excluded.error,
			error_description = excluded.error_description,
			dsu = excluded.dsu,
			created_at = excluded.created_at
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		check.ID,
		string(check.Status),
		nullTime(&check.ValidBefore),
		string(check.Error),
		check.ErrorDescription,
		dsu,
		formatTime(check.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to upsert eligibility check",
			zap.String("applicant_id", check.ID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert eligibility check: %w", err)
	}
	return nil
}

// Find returns the applicant's check
func (r *EligibilityCheckRepository) Find(ctx context.Context, applicantID string) (*entity.EligibilityCheck, error) {
	query := `
		SELECT id, status, valid_before, error, error_description, dsu, created_at
		FROM eligibility_checks
		WHERE id = ?
	`
	var (
		check       entity.EligibilityCheck
		status      string
		validBefore sql.NullString
		errCode     sql.NullString
		errDesc     sql.NullString
		dsu         sql.NullString
		createdAt   string
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, applicantID).Scan(
		&check.ID, &status, &validBefore, &errCode, &errDesc, &dsu, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, port.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get eligibility check: %w", err)
	}

	check.Status = entity.EligibilityStatus(status)
	check.Error = entity.EligibilityError(errCode.String)
	check.ErrorDescription = errDesc.String

	vb, err := parseNullTime(validBefore)
	if err != nil {
		return nil, corrupt("eligibility check", applicantID, err)
	}
	if vb != nil {
		check.ValidBefore = *vb
	}
	if check.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, corrupt("eligibility check", applicantID, err)
	}
	if dsu.Valid {
		check.DSU = &entity.DSURequest{}
		if err := json.Unmarshal([]byte(dsu.String), check.DSU); err != nil {
			return nil, corrupt("eligibility check", applicantID, err)
		}
	}
	return &check, nil
}

// Delete removes the applicant's check
func (r *EligibilityCheckRepository) Delete(ctx context.Context, applicantID string) error {
	res, err := r.db.Executor(ctx).ExecContext(ctx, "DELETE FROM eligibility_checks WHERE id = ?", applicantID)
	if err != nil {
		return fmt.Errorf("failed to delete eligibility check: %w", err)
	}
	return requireAffected(res)
}

var _ port.EligibilityCheckRepository = (*EligibilityCheckRepository)(nil)
