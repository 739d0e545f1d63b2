package event

import (
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	before := time.Now()
	evt := NewEvent(TypeWorkflowStarted, "RSSMRA80A01H501U-BV-ACTIVATION", "BonusActivationWorkflow", map[string]interface{}{"run_id": "r1"})

	if evt.ID == "" {
		t.Fatal("expected generated ID")
	}
	if len(evt.ID) != 26 {
		t.Errorf("ID %q is not a ULID", evt.ID)
	}
	if evt.CorrelationID != evt.ID {
		t.Errorf("CorrelationID = %q, want %q", evt.CorrelationID, evt.ID)
	}
	if evt.Timestamp.Before(before) {
		t.Error("timestamp should be set to now")
	}
	if evt.GetPayloadString("run_id") != "r1" {
		t.Errorf("GetPayloadString(run_id) = %q", evt.GetPayloadString("run_id"))
	}
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		evt := NewEvent(TypeActivityRetried, "id", "wf", nil)
		if seen[evt.ID] {
			t.Fatalf("duplicate event ID %s", evt.ID)
		}
		seen[evt.ID] = true
	}
}

func TestNewEventWithCorrelation(t *testing.T) {
	evt := NewEventWithCorrelation(TypeWorkflowFailed, "id", "wf", nil, "corr-1")
	if evt.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", evt.CorrelationID)
	}
	if evt.ID == "corr-1" {
		t.Error("ID should be freshly generated")
	}
}

func TestWithPayload_DoesNotMutateOriginal(t *testing.T) {
	original := NewEvent(TypeActivityRetried, "id", "wf", map[string]interface{}{"attempt": 1})
	updated := original.WithPayload("attempt", 2)

	if original.GetPayloadInt("attempt") != 1 {
		t.Errorf("original payload changed: %v", original.Payload)
	}
	if updated.GetPayloadInt("attempt") != 2 {
		t.Errorf("updated attempt = %d, want 2", updated.GetPayloadInt("attempt"))
	}
	if updated.ID != original.ID {
		t.Error("WithPayload should keep the event ID")
	}
}

func TestGetPayload_MissingOrWrongType(t *testing.T) {
	evt := NewEvent(TypeWorkflowCompleted, "id", "wf", map[string]interface{}{"n": "x", "f": 3.0})

	if got := evt.GetPayloadString("missing"); got != "" {
		t.Errorf("GetPayloadString(missing) = %q", got)
	}
	if got := evt.GetPayloadInt("n"); got != 0 {
		t.Errorf("GetPayloadInt(n) = %d", got)
	}
	if got := evt.GetPayloadInt("f"); got != 3 {
		t.Errorf("GetPayloadInt(f) = %d", got)
	}
}

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		typ  Type
		want bool
	}{
		{TypeWorkflowStarted, true},
		{TypeWorkflowTerminated, true},
		{TypeActivityRetried, true},
		{Type("instance.created"), false},
		{Type(""), false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsValid(); got != tt.want {
			t.Errorf("%q.IsValid() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}
