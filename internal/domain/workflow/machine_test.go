package workflow

import (
	"errors"
	"testing"

	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateProcessing, false},
		{StateActive, true},
		{StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"processing", StateProcessing, true},
		{"failed", StateFailed, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuilder_ConfigurePanics(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{"invalid state", State("INVALID")},
		{"terminal state", StateActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Configure(%s) should panic", tt.state)
				}
			}()
			NewBuilder().Configure(tt.state)
		})
	}
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()
	NewBuilder().Build(State("INVALID"))
}

func TestStateConfiguration_PermitRejectsSecondTarget(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic when a trigger gets a second target")
		}
	}()
	NewBuilder().Configure(StateProcessing).
		Permit(TriggerGrantConfirmed, StateActive).
		Permit(TriggerGrantConfirmed, StateFailed)
}

func TestFire_UnconfiguredTrigger(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateProcessing).Permit(TriggerGrantConfirmed, StateActive)
	machine := builder.Build(StateProcessing)

	if err := machine.Fire(TriggerGrantRejected); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fire() error = %v, want ErrInvalidTransition", err)
	}
	if machine.State() != StateProcessing {
		t.Errorf("State() = %v, want PROCESSING", machine.State())
	}
}

func TestBuild_IsolatedFromLaterConfiguration(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateProcessing).Permit(TriggerGrantConfirmed, StateActive)
	machine := builder.Build(StateProcessing)

	builder.Configure(StateProcessing).Permit(TriggerGrantRejected, StateFailed)

	if machine.CanFire(TriggerGrantRejected) {
		t.Error("machine should not see transitions added after Build()")
	}
}

func TestBuildActivationStateMachine(t *testing.T) {
	tests := []struct {
		name         string
		initialState State
		trigger      Trigger
		wantState    State
		wantErr      error
	}{
		{"PROCESSING -> ACTIVE", StateProcessing, TriggerGrantConfirmed, StateActive, nil},
		{"PROCESSING -> FAILED", StateProcessing, TriggerGrantRejected, StateFailed, nil},
		{"ACTIVE is final", StateActive, TriggerGrantRejected, StateActive, ErrTerminalState},
		{"FAILED is final", StateFailed, TriggerGrantConfirmed, StateFailed, ErrTerminalState},
		{"FAILED cannot fail twice", StateFailed, TriggerGrantRejected, StateFailed, ErrTerminalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := BuildActivationStateMachine(tt.initialState)
			err := machine.Fire(tt.trigger)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Fire() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Fire() error = %v, want %v", err, tt.wantErr)
			}
			if machine.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", machine.State(), tt.wantState)
			}
		})
	}
}

func TestPermittedTriggers(t *testing.T) {
	triggers := BuildActivationStateMachine(StateProcessing).PermittedTriggers()
	if len(triggers) != 2 || triggers[0] != TriggerGrantConfirmed || triggers[1] != TriggerGrantRejected {
		t.Errorf("PermittedTriggers() = %v", triggers)
	}

	if got := BuildActivationStateMachine(StateActive).PermittedTriggers(); len(got) != 0 {
		t.Errorf("terminal state should permit nothing, got %v", got)
	}
}

func TestTransitionActivation(t *testing.T) {
	a := &entity.BonusActivation{ID: "CODE", Status: entity.ActivationProcessing}

	if err := TransitionActivation(a, TriggerGrantConfirmed); err != nil {
		t.Fatalf("TransitionActivation() error = %v", err)
	}
	if a.Status != entity.ActivationActive {
		t.Fatalf("status = %s, want ACTIVE", a.Status)
	}

	err := TransitionActivation(a, TriggerGrantRejected)
	if !errors.Is(err, ErrTerminalState) {
		t.Fatalf("second transition error = %v, want ErrTerminalState", err)
	}
	if a.Status != entity.ActivationActive {
		t.Errorf("status changed after rejected transition: %s", a.Status)
	}

	bad := &entity.BonusActivation{Status: "UNKNOWN"}
	if err := TransitionActivation(bad, TriggerGrantConfirmed); !errors.Is(err, ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
}
