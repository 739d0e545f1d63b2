package workflow

// StateMachine tracks a current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State
	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool
	// Fire moves to the trigger's target state if allowed
	Fire(trigger Trigger) error
	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger
}
