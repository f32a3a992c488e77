// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []State{
	StateCreated, StateOffered, StateNegotiating,
	StateActive, StateClosing, StateClosed,
}

func TestCanTransition_ForwardPath(t *testing.T) {
	path := []State{StateCreated, StateOffered, StateNegotiating, StateActive, StateClosing, StateClosed}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, canTransition(path[i], path[i+1]),
			"forward edge %s -> %s must be allowed", path[i], path[i+1])
	}
}

func TestCanTransition_ClosedReachableFromEverywhere(t *testing.T) {
	for _, from := range allStates {
		assert.True(t, canTransition(from, StateClosed),
			"%s -> CLOSED must always be allowed", from)
	}
}

func TestCanTransition_ClosedIsAbsorbing(t *testing.T) {
	for _, to := range allStates {
		if to == StateClosed {
			continue
		}
		assert.False(t, canTransition(StateClosed, to),
			"CLOSED must not transition to %s", to)
	}
}

func TestCanTransition_ClosingOnlyFromActive(t *testing.T) {
	for _, from := range allStates {
		want := from == StateActive
		assert.Equal(t, want, canTransition(from, StateClosing),
			"%s -> CLOSING allowed only from ACTIVE", from)
	}
}

func TestCanTransition_NoSkippingForward(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateCreated, StateNegotiating},
		{StateCreated, StateActive},
		{StateCreated, StateClosing},
		{StateOffered, StateActive},
		{StateOffered, StateClosing},
		{StateNegotiating, StateClosing},
		{StateActive, StateOffered},    // no going back
		{StateNegotiating, StateOffered},
		{StateClosing, StateActive},
	}
	for _, tc := range cases {
		assert.False(t, canTransition(tc.from, tc.to), "%s -> %s must be rejected", tc.from, tc.to)
	}
}

func TestTransition_RejectionLeavesStateUnchanged(t *testing.T) {
	s := &Session{ID: "s1", state: StateCreated}

	err := s.transition(StateActive)
	require.Error(t, err)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateCreated, invalid.From)
	assert.Equal(t, StateActive, invalid.To)
	assert.Equal(t, StateCreated, s.State(), "rejected transition must not move the state")
}

func TestTransition_AppliesValidChange(t *testing.T) {
	s := &Session{ID: "s1", state: StateCreated}
	require.NoError(t, s.transition(StateOffered))
	assert.Equal(t, StateOffered, s.State())
}
