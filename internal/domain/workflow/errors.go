package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")
	// ErrTerminalState is returned when firing from a state that has already settled
	ErrTerminalState = errors.New("state is terminal")
)
