package coordinator

import (
	"fmt"

	"crew/internal/identity"
	"crew/internal/profile/models"
	"crew/pkg/sentinel"
)

// State is the coordinator's initialization phase.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateInitializing  State = "INITIALIZING"
	StateReady         State = "READY"
)

// allowed enumerates the legal state machine edges. Initialization moves
// forward only; READY is terminal.
var allowed = map[State]State{
	StateUninitialized: StateInitializing,
	StateInitializing:  StateReady,
}

// transition validates a state machine edge, returning ErrInvalidState for
// anything not in the allowed set. Both branches of initialization race to
// call this, so an illegal edge here means a sequencing bug, not bad input.
func transition(from, to State) (State, error) {
	if allowed[from] != to {
		return from, fmt.Errorf("auth state transition %s -> %s: %w", from, to, sentinel.ErrInvalidState)
	}
	return to, nil
}

// Snapshot is a point-in-time copy of the coordinator's auth state. It is
// safe to retain: Identity and Profile are clones.
type Snapshot struct {
	State         State
	Identity      *identity.Identity
	Profile       *models.Profile
	Loading       bool
	Authenticated bool
}
