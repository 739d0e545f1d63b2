package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted    Type = "workflow.started"
	TypeWorkflowCompleted  Type = "workflow.completed"
	TypeWorkflowFailed     Type = "workflow.failed"
	TypeWorkflowTerminated Type = "workflow.terminated"
	TypeActivityRetried    Type = "activity.retried"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStarted,
		TypeWorkflowCompleted,
		TypeWorkflowFailed,
		TypeWorkflowTerminated,
		TypeActivityRetried:
		return true
	default:
		return false
	}
}
