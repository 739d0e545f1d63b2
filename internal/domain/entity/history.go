package entity

import "time"

// HistoryEvent is one entry of an instance's replay log. Seq is the
// position of the call site in the workflow body, starting at zero.
type HistoryEvent struct {
	InstanceID string           `json:"instance_id"`
	Seq        int              `json:"seq"`
	Type       HistoryEventType `json:"type"`
	Name       string           `json:"name"`
	Payload    []byte           `json:"payload,omitempty"`
	Error      string           `json:"error,omitempty"`
	FireAt     *time.Time       `json:"fire_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
