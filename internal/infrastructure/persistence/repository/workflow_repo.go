package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
	"github.com/garyjia/bonus-orchestrator/internal/infrastructure/persistence/sqlite"
)

const instanceColumns = "id, workflow_type, runtime_status, custom_status, input, output, error, created_at, updated_at, completed_at"

// WorkflowInstanceRepository implements port.WorkflowInstanceRepository
type WorkflowInstanceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewWorkflowInstanceRepository creates a new workflow instance repository
func NewWorkflowInstanceRepository(db *sqlite.DB, logger *zap.Logger) port.WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *WorkflowInstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	now := r.now()
	inst.CreatedAt, inst.UpdatedAt = now, now

	_, err := r.db.Executor(ctx).ExecContext(ctx,
		"INSERT INTO workflow_instances ("+instanceColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		inst.ID, inst.WorkflowType, string(inst.Status), inst.CustomStatus,
		inst.Input, inst.Output, inst.Error,
		formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt), nullTime(inst.CompletedAt),
	)
	if err != nil {
		if err = conflict(err); err == port.ErrConflict {
			return err
		}
		r.logger.Error("Failed to create workflow instance",
			zap.String("instance_id", inst.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}
	return nil
}

func (r *WorkflowInstanceRepository) Find(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM workflow_instances WHERE id = ?", id)
	inst, err := scanInstance(row)
	if err != nil {
		if err = notFound(err); err == port.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}
	return inst, nil
}

func (r *WorkflowInstanceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.Executor(ctx).ExecContext(ctx, "DELETE FROM workflow_instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow instance: %w", err)
	}
	return requireAffected(res)
}

func (r *WorkflowInstanceRepository) MarkRunning(ctx context.Context, id string) error {
	res, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE workflow_instances SET runtime_status = ?, updated_at = ?
		WHERE id = ? AND runtime_status IN (?, ?)`,
		string(entity.RuntimeRunning), formatTime(r.now()), id,
		string(entity.RuntimePending), string(entity.RuntimeRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to mark workflow instance running: %w", err)
	}
	return requireAffected(res)
}

func (r *WorkflowInstanceRepository) UpdateCustomStatus(ctx context.Context, id, customStatus string) error {
	res, err := r.db.Executor(ctx).ExecContext(ctx,
		"UPDATE workflow_instances SET custom_status = ?, updated_at = ? WHERE id = ?",
		customStatus, formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update custom status: %w", err)
	}
	return requireAffected(res)
}

func (r *WorkflowInstanceRepository) Complete(ctx context.Context, id string, status entity.RuntimeStatus, customStatus string, output []byte, errMsg string) error {
	now := formatTime(r.now())
	res, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE workflow_instances
		SET runtime_status = ?, custom_status = ?, output = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND runtime_status IN (?, ?)`,
		string(status), customStatus, output, errMsg, now, now, id,
		string(entity.RuntimePending), string(entity.RuntimeRunning),
	)
	if err != nil {
		r.logger.Error("Failed to complete workflow instance",
			zap.String("instance_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to complete workflow instance: %w", err)
	}
	return requireAffected(res)
}

func (r *WorkflowInstanceRepository) ListByStatus(ctx context.Context, statuses ...entity.RuntimeStatus) ([]*entity.WorkflowInstance, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	query := "SELECT " + instanceColumns + " FROM workflow_instances WHERE runtime_status IN (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ") + ") ORDER BY id"

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	defer rows.Close()

	var out []*entity.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var (
		inst                 entity.WorkflowInstance
		status               string
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	if err := row.Scan(&inst.ID, &inst.WorkflowType, &status, &inst.CustomStatus,
		&inst.Input, &inst.Output, &inst.Error, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	inst.Status = entity.RuntimeStatus(status)

	var err error
	if inst.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, corrupt("workflow instance", inst.ID, err)
	}
	if inst.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, corrupt("workflow instance", inst.ID, err)
	}
	if inst.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, corrupt("workflow instance", inst.ID, err)
	}
	return &inst, nil
}

// WorkflowHistoryRepository implements port.WorkflowHistoryRepository
type WorkflowHistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewWorkflowHistoryRepository creates a new workflow history repository
func NewWorkflowHistoryRepository(db *sqlite.DB, logger *zap.Logger) port.WorkflowHistoryRepository {
	return &WorkflowHistoryRepository{db: db, logger: logger}
}

func (r *WorkflowHistoryRepository) Append(ctx context.Context, evt *entity.HistoryEvent) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_history (instance_id, seq, event_type, name, payload, error, fire_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.InstanceID, evt.Seq, string(evt.Type), evt.Name, evt.Payload, evt.Error,
		nullTime(evt.FireAt), formatTime(evt.CreatedAt),
	)
	if err != nil {
		if err = conflict(err); err == port.ErrConflict {
			return err
		}
		r.logger.Error("Failed to append history event",
			zap.String("instance_id", evt.InstanceID),
			zap.Int("seq", evt.Seq),
			zap.Error(err))
		return fmt.Errorf("failed to append history event: %w", err)
	}
	return nil
}

func (r *WorkflowHistoryRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.HistoryEvent, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT instance_id, seq, event_type, name, payload, error, fire_at, created_at
		FROM workflow_history
		WHERE instance_id = ?
		ORDER BY seq`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history events: %w", err)
	}
	defer rows.Close()

	var out []*entity.HistoryEvent
	for rows.Next() {
		var (
			evt       entity.HistoryEvent
			evtType   string
			fireAt    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&evt.InstanceID, &evt.Seq, &evtType, &evt.Name, &evt.Payload,
			&evt.Error, &fireAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history event: %w", err)
		}
		evt.Type = entity.HistoryEventType(evtType)
		if evt.FireAt, err = parseNullTime(fireAt); err != nil {
			return nil, corrupt("history event", instanceID, err)
		}
		if evt.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, corrupt("history event", instanceID, err)
		}
		out = append(out, &evt)
	}
	return out, rows.Err()
}

func (r *WorkflowHistoryRepository) DeleteByInstance(ctx context.Context, instanceID string) error {
	if _, err := r.db.Executor(ctx).ExecContext(ctx,
		"DELETE FROM workflow_history WHERE instance_id = ?", instanceID); err != nil {
		return fmt.Errorf("failed to delete history events: %w", err)
	}
	return nil
}

var (
	_ port.WorkflowInstanceRepository = (*WorkflowInstanceRepository)(nil)
	_ port.WorkflowHistoryRepository  = (*WorkflowHistoryRepository)(nil)
)
