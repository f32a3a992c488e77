// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by registry and service lookups for an id
// that is not (or no longer) tracked in this process.
var ErrSessionNotFound = errors.New("session not found")

// State is one step of the session lifecycle. Transitions are strictly
// forward, except that CLOSED is reachable from everywhere.
type State string

const (
	StateCreated     State = "CREATED"     // allocated, no offer yet
	StateOffered     State = "OFFERED"     // local offer issued, waiting for answer
	StateNegotiating State = "NEGOTIATING" // answer received, ICE in progress
	StateActive      State = "ACTIVE"      // media bridge running
	StateClosing     State = "CLOSING"     // teardown started
	StateClosed      State = "CLOSED"      // terminal
)

// InvalidTransitionError reports a rejected state change. The session's state
// is unchanged when this is returned.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

// validTransitions is the forward edge set. CLOSED is handled separately as
// the universal escape.
var validTransitions = map[State]State{
	StateCreated:     StateOffered,
	StateOffered:     StateNegotiating,
	StateNegotiating: StateActive,
	StateActive:      StateClosing,
	StateClosing:     StateClosed,
}

// canTransition reports whether from -> to is allowed. Any state may move to
// CLOSED (abnormal teardown), CLOSING is entered only from ACTIVE, and CLOSED
// absorbs every request to leave it.
func canTransition(from, to State) bool {
	if from == StateClosed {
		return to == StateClosed
	}
	if to == StateClosed {
		return true
	}
	return validTransitions[from] == to
}
