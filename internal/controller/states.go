package controller

import (
	"errors"
	"time"
)

// State is a refinement loop state.
type State string

const (
	StatePlanning       State = "planning"
	StateGenerating     State = "generating"
	StateModernizing    State = "modernizing"
	StateVerifying      State = "verifying"
	StateRepairing      State = "repairing"
	StateVerified       State = "verified"
	StateExecutionCheck State = "execution_check"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// ErrInvalidTransition is returned when the loop attempts a move the table does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the allowed state machine edges.
// Failed is reachable from every non-terminal state (invalid spec, cancellation).
var validTransitions = map[State]map[State]bool{
	StatePlanning: {
		StateGenerating: true,
		StateFailed:     true,
	},
	StateGenerating: {
		StateModernizing: true,
		StateFailed:      true,
	},
	StateModernizing: {
		StateVerifying: true,
		StateFailed:    true,
	},
	StateVerifying: {
		StateRepairing: true,
		StateVerified:  true,
		StateFailed:    true,
	},
	StateRepairing: {
		StateVerifying: true,
		StateFailed:    true,
	},
	StateVerified: {
		StateExecutionCheck: true,
		StateSucceeded:      true, // execution disabled
		StateFailed:         true,
	},
	StateExecutionCheck: {
		StateSucceeded: true,
		StateRepairing: true,
		StateFailed:    true,
	},
}

// IsValidTransition checks whether moving from one state to another is allowed.
func IsValidTransition(from, to State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether s ends the loop.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Transition is one recorded state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Iteration int       `json:"iteration"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
