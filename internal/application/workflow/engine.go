// Package workflow is a durable, replay-based workflow engine. A workflow
// body is plain Go code driving activities through a Context; every activity
// result and timer is appended to a history log so that an interrupted
// execution can be replayed to the point where it stopped.
package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// WorkflowFunc is a workflow body. It must be deterministic: all I/O goes
// through activities and all waiting through timers.
type WorkflowFunc func(ctx Context) (any, error)

// ActivityFunc is a unit of work invoked by a workflow. A returned error is
// retried according to the caller's RetryOptions; wrap it with Permanent to
// stop retrying.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Client is the surface consumed by callers that start and observe workflows
type Client interface {
	// StartNew creates the instance and begins executing it asynchronously.
	// A terminal instance with the same id is replaced.
	StartNew(ctx context.Context, workflowType, instanceID string, input any) (string, error)

	// GetStatus returns ErrInstanceNotFound for unknown ids
	GetStatus(ctx context.Context, instanceID string) (*Status, error)

	// Terminate stops a non-terminal instance
	Terminate(ctx context.Context, instanceID, reason string) error
}

// Registry binds workflow types and activity names to code
type Registry interface {
	RegisterWorkflow(workflowType string, fn WorkflowFunc)
	RegisterActivity(name string, fn ActivityFunc)
}

// Engine is the full workflow engine. It also satisfies the worker
// interface so the worker manager drives its lifecycle.
type Engine interface {
	Client
	Registry

	// Recover relaunches every PENDING or RUNNING instance
	Recover(ctx context.Context) error

	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Status is a snapshot of an instance
type Status struct {
	InstanceID    string               `json:"instance_id"`
	WorkflowType  string               `json:"workflow_type"`
	RuntimeStatus entity.RuntimeStatus `json:"runtime_status"`
	CustomStatus  string               `json:"custom_status,omitempty"`
	Input         json.RawMessage      `json:"input,omitempty"`
	Output        json.RawMessage      `json:"output,omitempty"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// IsRunning reports whether the instance has not reached a terminal status
func (s *Status) IsRunning() bool {
	return !s.RuntimeStatus.IsTerminal()
}

func statusFromInstance(inst *entity.WorkflowInstance) *Status {
	st := &Status{
		InstanceID:    inst.ID,
		WorkflowType:  inst.WorkflowType,
		RuntimeStatus: inst.Status,
		CustomStatus:  inst.CustomStatus,
		Error:         inst.Error,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
		CompletedAt:   inst.CompletedAt,
	}
	if len(inst.Input) > 0 {
		st.Input = json.RawMessage(inst.Input)
	}
	if len(inst.Output) > 0 {
		st.Output = json.RawMessage(inst.Output)
	}
	return st
}
