package workflow

import (
	"fmt"

	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// BuildActivationStateMachine returns the BonusActivation lifecycle:
// PROCESSING moves exactly once to ACTIVE or FAILED, both terminal.
func BuildActivationStateMachine(initialState State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StateProcessing).
		Permit(TriggerGrantConfirmed, StateActive).
		Permit(TriggerGrantRejected, StateFailed)

	return builder.Build(initialState)
}

// TransitionActivation applies trigger to the activation's status in memory.
// Callers persist the record afterwards.
func TransitionActivation(a *entity.BonusActivation, trigger Trigger) error {
	current := State(a.Status)
	if !current.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidState, a.Status)
	}

	machine := BuildActivationStateMachine(current)
	if err := machine.Fire(trigger); err != nil {
		return err
	}

	a.Status = entity.ActivationStatus(machine.State())
	return nil
}
