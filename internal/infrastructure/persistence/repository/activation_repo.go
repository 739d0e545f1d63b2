package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/persistence/sqlite"
)

const activationColumns = "id, applicant_id, family_hash, status, dsu, created_at, updated_at"

// BonusActivationRepository implements port.BonusActivationRepository
type BonusActivationRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewBonusActivationRepository creates a new bonus activation repository
func NewBonusActivationRepository(db *sqlite.DB, logger *zap.Logger) port.BonusActivationRepository {
	return &BonusActivationRepository{db: db, logger: logger}
}

// Create inserts a new activation; a taken bonus code is a conflict
func (r *BonusActivationRepository) Create(ctx context.Context, a *entity.BonusActivation) error {
	dsu, err := encodeJSON(a.DSU)
	if err != nil {
		return fmt.Errorf("failed to encode dsu: %w", err)
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	_, err = r.db.Executor(ctx).ExecContext(ctx,
		"INSERT INTO bonus_activations ("+activationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.ApplicantID, a.FamilyHash, string(a.Status), dsu,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if err = conflict(err); err == port.ErrConflict {
			return err
		}
		r.logger.Error("Failed to create bonus activation",
			zap.String("bonus_id", a.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create bonus activation: %w", err)
	}
	return nil
}

// Find returns the activation with the given bonus code
func (r *BonusActivationRepository) Find(ctx context.Context, bonusID string) (*entity.BonusActivation, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		"SELECT "+activationColumns+" FROM bonus_activations WHERE id = ?", bonusID)
	a, err := scanActivation(row)
	if err != nil {
		if err = notFound(err); err == port.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get bonus activation: %w", err)
	}
	return a, nil
}

// Exists reports whether a bonus code is taken
func (r *BonusActivationRepository) Exists(ctx context.Context, bonusID string) (bool, error) {
	var exists bool
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM bonus_activations WHERE id = ?)", bonusID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check bonus activation: %w", err)
	}
	return exists, nil
}

// Replace overwrites the mutable fields of an existing activation
func (r *BonusActivationRepository) Replace(ctx context.Context, a *entity.BonusActivation) error {
	dsu, err := encodeJSON(a.DSU)
	if err != nil {
		return fmt.Errorf("failed to encode dsu: %w", err)
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	res, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE bonus_activations
		SET applicant_id = ?, family_hash = ?, status = ?, dsu = ?, updated_at = ?
		WHERE id = ?`,
		a.ApplicantID, a.FamilyHash, string(a.Status), dsu, formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		r.logger.Error("Failed to replace bonus activation",
			zap.String("bonus_id", a.ID),
			zap.Error(err))
		return fmt.Errorf("failed to replace bonus activation: %w", err)
	}
	return requireAffected(res)
}

// ListByApplicant returns the applicant's activations, oldest first
func (r *BonusActivationRepository) ListByApplicant(ctx context.Context, applicantID string) ([]*entity.BonusActivation, error) {
	return r.list(ctx,
		"SELECT "+activationColumns+" FROM bonus_activations WHERE applicant_id = ? ORDER BY created_at, id",
		applicantID)
}

// ListByStatusBefore returns activations in status created before the cutoff, oldest first
func (r *BonusActivationRepository) ListByStatusBefore(ctx context.Context, status entity.ActivationStatus, before time.Time) ([]*entity.BonusActivation, error) {
	return r.list(ctx,
		"SELECT "+activationColumns+" FROM bonus_activations WHERE status = ? AND created_at < ? ORDER BY created_at, id",
		string(status), formatTime(before))
}

func (r *BonusActivationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.BonusActivation, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonus activations: %w", err)
	}
	defer rows.Close()

	var out []*entity.BonusActivation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bonus activation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanActivation(row rowScanner) (*entity.BonusActivation, error) {
	var (
		a                    entity.BonusActivation
		status, dsu          string
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.ApplicantID, &a.FamilyHash, &status, &dsu, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Status = entity.ActivationStatus(status)

	var err error
	if err = json.Unmarshal([]byte(dsu), &a.DSU); err != nil {
		return nil, corrupt("bonus activation", a.ID, err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, corrupt("bonus activation", a.ID, err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, corrupt("bonus activation", a.ID, err)
	}
	return &a, nil
}

// UserBonusRepository implements port.UserBonusRepository
type UserBonusRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewUserBonusRepository creates a new user bonus repository
func NewUserBonusRepository(db *sqlite.DB, logger *zap.Logger) port.UserBonusRepository {
	return &UserBonusRepository{db: db, logger: logger}
}

// CreateBatch inserts rows in one transaction, skipping existing ones
func (r *UserBonusRepository) CreateBatch(ctx context.Context, rows []*entity.UserBonus) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)
		for _, row := range rows {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO user_bonuses (bonus_id, fiscal_code, is_applicant, created_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(bonus_id, fiscal_code) DO NOTHING`,
				row.BonusID, row.FiscalCode, row.IsApplicant, formatTime(row.CreatedAt),
			)
			if err != nil {
				r.logger.Error("Failed to create user bonus",
					zap.String("bonus_id", row.BonusID),
					zap.Error(err))
				return fmt.Errorf("failed to create user bonus: %w", err)
			}
		}
		return nil
	})
}

// ListByFiscalCode returns the member's bonuses, oldest first
func (r *UserBonusRepository) ListByFiscalCode(ctx context.Context, fiscalCode string) ([]*entity.UserBonus, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT bonus_id, fiscal_code, is_applicant, created_at
		FROM user_bonuses
		WHERE fiscal_code = ?
		ORDER BY created_at, bonus_id`, fiscalCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list user bonuses: %w", err)
	}
	defer rows.Close()

	var out []*entity.UserBonus
	for rows.Next() {
		var (
			ub        entity.UserBonus
			createdAt string
		)
		if err := rows.Scan(&ub.BonusID, &ub.FiscalCode, &ub.IsApplicant, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user bonus: %w", err)
		}
		if ub.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, corrupt("user bonus", ub.BonusID, err)
		}
		out = append(out, &ub)
	}
	return out, rows.Err()
}

var (
	_ port.BonusActivationRepository = (*BonusActivationRepository)(nil)
	_ port.UserBonusRepository       = (*UserBonusRepository)(nil)
)
