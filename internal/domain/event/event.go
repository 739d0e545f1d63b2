package event

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is a workflow lifecycle notification
type Event struct {
	ID           string                 `json:"id"`
	Type         Type                   `json:"type"`
	InstanceID   string                 `json:"instance_id"`
	WorkflowType string                 `json:"workflow_type"`
	Payload      map[string]interface{} `json:"payload"`
	Timestamp    time.Time              `json:"timestamp"`
	// CorrelationID ties together the events of one execution
	CorrelationID string `json:"correlation_id"`
}

// NewEvent creates an event with a fresh ULID and the current time
func NewEvent(eventType Type, instanceID, workflowType string, payload map[string]interface{}) *Event {
	id := ulid.Make().String()
	return &Event{
		ID:            id,
		Type:          eventType,
		InstanceID:    instanceID,
		WorkflowType:  workflowType,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// NewEventWithCorrelation creates an event linked to an existing correlation chain
func NewEventWithCorrelation(eventType Type, instanceID, workflowType string, payload map[string]interface{}, correlationID string) *Event {
	evt := NewEvent(eventType, instanceID, workflowType, payload)
	evt.CorrelationID = correlationID
	return evt
}

// WithPayload returns a copy of the event with key set in the payload
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
