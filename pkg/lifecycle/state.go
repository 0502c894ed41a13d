// Package lifecycle tracks the installation and activation state of the
// edge cache. Until the tracker reports StateActivated the engine passes
// every request straight through to the network.
package lifecycle

import (
	"errors"
)

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is a lifecycle state.
type State string

// Lifecycle states in the order a healthy engine passes through them.
// StateInstalled means install ran and the engine is waiting for activation.
const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// States lists every state, used for the state gauge.
var States = []State{StateNew, StateInstalling, StateInstalled, StateActivating, StateActivated}

// transitions maps a state to the states reachable from it.
// Activation may be forced from new (skip waiting before install) and can
// fail back to whatever state it started from.
var transitions = map[State][]State{
	StateNew:        {StateInstalling, StateActivating},
	StateInstalling: {StateInstalled},
	StateInstalled:  {StateInstalling, StateActivating},
	StateActivating: {StateActivated, StateNew, StateInstalled},
	StateActivated:  {StateActivating},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Waiting reports whether the state is the post-install waiting state.
func (s State) Waiting() bool {
	return s == StateInstalled
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}
