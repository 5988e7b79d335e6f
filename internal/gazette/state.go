package gazette

import "fmt"

// State is a pipeline run state.
type State string

// Run states.
const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateIndexing    State = "indexing"
	StateMatching    State = "matching"
	StateDispatching State = "dispatching"
	StateDone        State = "done"
	StateAborted     State = "aborted"
	StateSkipped     State = "skipped"
	StateCanceled    State = "canceled"
)

var transitions = map[State][]State{
	StateIdle:        {StateFetching, StateMatching},
	StateFetching:    {StateExtracting, StateAborted, StateSkipped},
	StateExtracting:  {StateIndexing, StateAborted},
	StateIndexing:    {StateMatching, StateAborted},
	StateMatching:    {StateDispatching, StateCanceled},
	StateDispatching: {StateDone, StateCanceled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Machine tracks the state of a single run.
type Machine struct {
	current State
	history []State
}

// NewMachine starts a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{current: StateIdle, history: []State{StateIdle}}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}

// History returns every state visited, in order.
func (m *Machine) History() []State {
	out := make([]State, len(m.history))
	copy(out, m.history)
	return out
}

// Advance moves to the next state. Illegal edges are programming errors.
func (m *Machine) Advance(to State) {
	if !CanTransition(m.current, to) {
		panic(fmt.Sprintf("gazette: illegal state transition %s -> %s", m.current, to))
	}
	m.current = to
	m.history = append(m.history, to)
}
