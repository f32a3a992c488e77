// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"sync"
	"time"

	internal_bridge "github.com/rapidaai/live-bridge/api/bridge-api/internal/bridge"
	internal_live "github.com/rapidaai/live-bridge/api/bridge-api/internal/live"
	internal_responder "github.com/rapidaai/live-bridge/api/bridge-api/internal/responder"
	internal_transport "github.com/rapidaai/live-bridge/api/bridge-api/internal/transport"
)

// Transport is the slice of the WebRTC peer the session layer drives.
// *internal_transport.Peer satisfies it; tests substitute fakes.
type Transport interface {
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	PlayAudio(pcm []byte) error
	FlushPlayback()
	Close() error
}

// TransportFactory builds the WebRTC leg for one session.
type TransportFactory func(sessionID string, handlers internal_transport.Handlers) (Transport, error)

// Session is one browser <-> remote-service conversation. Its mutable parts
// are guarded by mu; the bridge, channel and router exist only while the
// session is ACTIVE or tearing down.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu                sync.Mutex
	state             State
	systemInstruction string
	speakerProfile    string

	transport Transport
	channel   internal_live.Channel
	bridge    *internal_bridge.Bridge
	router    *internal_responder.Router
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition applies a state change, rejecting anything outside the
// lifecycle's edge set. The state is untouched on rejection.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return &InvalidTransitionError{From: s.state, To: to}
	}
	s.state = to
	return nil
}

// currentBridge returns the bridge if one is attached. Pre-ACTIVE sessions
// have none; media arriving before negotiation completes is dropped.
func (s *Session) currentBridge() *internal_bridge.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

// Stats is the per-session counter snapshot exposed over the API.
type Stats struct {
	internal_bridge.Stats
	AudioReceived uint64 `json:"audio_received"`
}

// Stats snapshots the session counters; zero-valued before ACTIVE.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	bridge := s.bridge
	router := s.router
	s.mu.Unlock()

	var out Stats
	if bridge != nil {
		out.Stats = bridge.Stats()
	}
	if router != nil {
		out.AudioReceived = router.AudioReceived()
	}
	return out
}
