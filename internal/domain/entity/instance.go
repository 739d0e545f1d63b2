package entity

import "time"

// WorkflowInstance is the durable record of one workflow execution
type WorkflowInstance struct {
	ID           string        `json:"id"`
	WorkflowType string        `json:"workflow_type"`
	Status       RuntimeStatus `json:"status"`
	CustomStatus string        `json:"custom_status,omitempty"`
	Input        []byte        `json:"input,omitempty"`
	Output       []byte        `json:"output,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}
