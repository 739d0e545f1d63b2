package workflow

import (
	"fmt"
	"sort"
)

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration
	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	Permit(trigger Trigger, toState State) StateConfiguration
}

// transitions maps a trigger to its single target state
type transitions map[Trigger]State

type stateMachineBuilder struct {
	configurations map[State]transitions
}

type stateMachine struct {
	currentState   State
	configurations map[State]transitions
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]transitions),
	}
}

// Configure returns the configuration for state, creating it on first use.
// Terminal states cannot be configured with outgoing transitions.
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if state.IsTerminal() {
		panic(fmt.Sprintf("terminal state cannot have transitions: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = make(transitions)
		b.configurations[state] = config
	}
	return config
}

// Build creates a machine positioned at initialState. Configurations are
// copied so later builder changes do not leak into built machines.
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	configs := make(map[State]transitions, len(b.configurations))
	for state, config := range b.configurations {
		cp := make(transitions, len(config))
		for trigger, to := range config {
			cp[trigger] = to
		}
		configs[state] = cp
	}

	return &stateMachine{
		currentState:   initialState,
		configurations: configs,
	}
}

// Permit panics when trigger already leads somewhere else from this state
func (t transitions) Permit(trigger Trigger, toState State) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	if existing, ok := t[trigger]; ok && existing != toState {
		panic(fmt.Sprintf("trigger %s already targets %s", trigger, existing))
	}
	t[trigger] = toState
	return t
}

func (m *stateMachine) State() State {
	return m.currentState
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	_, ok := m.configurations[m.currentState][trigger]
	return ok
}

func (m *stateMachine) Fire(trigger Trigger) error {
	if m.currentState.IsTerminal() {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrTerminalState, trigger, m.currentState)
	}

	to, ok := m.configurations[m.currentState][trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.currentState)
	}
	m.currentState = to
	return nil
}

// PermittedTriggers returns the triggers configured for the current state, sorted
func (m *stateMachine) PermittedTriggers() []Trigger {
	config := m.configurations[m.currentState]
	triggers := make([]Trigger, 0, len(config))
	for trigger := range config {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
