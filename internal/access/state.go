package access

import "fmt"

// State is the per-client position in the gating state machine. A client
// with no ledger row is Unseen; every later state is recorded durably.
type State string

const (
	StateUnseen         State = "unseen"
	StateActive         State = "active"
	StatePendingVerdict State = "pending_verdict"
	StateGranted        State = "granted"
	StateDenied         State = "denied"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateUnseen, StateActive, StatePendingVerdict, StateGranted, StateDenied:
		return true
	}
	return false
}

// Terminal reports whether no further transition is legal from s.
func (s State) Terminal() bool {
	return s == StateGranted || s == StateDenied
}

func (s State) String() string { return string(s) }

// ParseState maps a stored state column back to a State. Unknown values
// are rejected rather than coerced.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown access state %q", v)
	}
	return s, nil
}

// CanTransition reports whether from -> to is a legal advance. Transitions
// are monotonic and one-directional; terminal states have no successors.
func CanTransition(from, to State) bool {
	switch from {
	case StateUnseen:
		return to == StateActive
	case StateActive:
		return to == StatePendingVerdict
	case StatePendingVerdict:
		return to == StateGranted || to == StateDenied
	default:
		return false
	}
}
