package workflow

import "github.com/garyjia/bonus-orchestrator/internal/domain/entity"

// State represents a BonusActivation status
type State string

const (
	StateProcessing = State(entity.ActivationProcessing)
	StateActive     = State(entity.ActivationActive)
	StateFailed     = State(entity.ActivationFailed)
)

var validStates = map[State]bool{
	StateProcessing: true,
	StateActive:     true,
	StateFailed:     true,
}

var terminalStates = map[State]bool{
	StateActive: true,
	StateFailed: true,
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known activation status
func (s State) IsValid() bool {
	return validStates[s]
}
