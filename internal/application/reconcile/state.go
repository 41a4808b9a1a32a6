package reconcile

import (
	"fmt"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
)

// State is a state of the per-user reconciliation machine.
type State string

const (
	StateInit                State = "INIT"
	StateCheckingRemote      State = "CHECKING_REMOTE"
	StateEntitled            State = "ENTITLED"
	StateNotEntitled         State = "NOT_ENTITLED"
	StatePendingVerification State = "PENDING_VERIFICATION"
	StateCommitting          State = "COMMITTING"
	StateRestoring           State = "RESTORING"
	StateMatching            State = "MATCHING"
)

func (s State) String() string {
	return string(s)
}

// Settled reports whether the state is one the display may rest in.
func (s State) Settled() bool {
	return s == StateEntitled || s == StateNotEntitled
}

// transitions lists every permitted edge. Reset to INIT on logout is allowed
// from anywhere and is not listed.
var transitions = map[State][]State{
	StateInit:                {StateCheckingRemote},
	StateCheckingRemote:      {StateEntitled, StateNotEntitled},
	StateEntitled:            {StateCheckingRemote, StatePendingVerification, StateRestoring},
	StateNotEntitled:         {StateCheckingRemote, StatePendingVerification, StateRestoring},
	StatePendingVerification: {StateCommitting, StateEntitled, StateNotEntitled},
	StateCommitting:          {StateEntitled, StateNotEntitled},
	StateRestoring:           {StateMatching, StateEntitled, StateNotEntitled},
	StateMatching:            {StateCommitting, StateNotEntitled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	if to == StateInit {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", entitlement.ErrInvalidTransition, from, to)
	}
	return nil
}

// settledFor is the settled state matching a view.
func settledFor(v entitlement.View) State {
	if v.IsEntitled() {
		return StateEntitled
	}
	return StateNotEntitled
}
