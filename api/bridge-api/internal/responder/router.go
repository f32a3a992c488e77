// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_responder

import (
	"sync"
	"sync/atomic"

	internal_live "github.com/rapidaai/live-bridge/api/bridge-api/internal/live"
	internal_socket "github.com/rapidaai/live-bridge/api/bridge-api/internal/socket"
	"github.com/rapidaai/live-bridge/pkg/commons"
)

// Socket envelope types emitted on the notification channel.
const (
	EnvelopeTypeTranscript   = "transcript"
	EnvelopeTypeInterrupted  = "interrupted"
	EnvelopeTypeTurnComplete = "turn_complete"
	EnvelopeTypeClosed       = "closed"
)

// Playback is the slice of the WebRTC peer the router drives: queued audio
// output and the flush used on interruption.
type Playback interface {
	PlayAudio(pcm []byte) error
	FlushPlayback()
}

// Notifier is the slice of the socket hub the router publishes to.
type Notifier interface {
	SendAudio(sessionID string, pcm []byte)
	SendEnvelope(sessionID string, env internal_socket.Envelope)
}

// Router consumes the remote channel's event stream in order and fans each
// event out to the notification socket and the WebRTC playback track.
// Delivery is best-effort: a missing socket or a full playback queue drops
// the item rather than stalling the stream.
type Router struct {
	logger    commons.Logger
	sessionID string
	playback  Playback
	notifier  Notifier

	// onTerminal fires exactly once, after the channel's final event. The
	// session layer uses it to drive teardown.
	onTerminal func(err error)

	audioReceived atomic.Uint64

	wg sync.WaitGroup
}

// AudioReceived counts every audio chunk the remote service produced,
// including chunks suppressed after an interruption.
func (r *Router) AudioReceived() uint64 {
	return r.audioReceived.Load()
}

// NewRouter builds a router; Run starts it.
func NewRouter(logger commons.Logger, sessionID string, playback Playback, notifier Notifier, onTerminal func(err error)) *Router {
	return &Router{
		logger:     logger,
		sessionID:  sessionID,
		playback:   playback,
		notifier:   notifier,
		onTerminal: onTerminal,
	}
}

// Run consumes events until the stream ends. It returns immediately; the
// consuming goroutine exits when the channel closes its event stream.
func (r *Router) Run(events <-chan internal_live.Event) {
	r.wg.Add(1)
	go r.consume(events)
}

// Wait blocks until the event stream has been fully drained.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) consume(events <-chan internal_live.Event) {
	defer r.wg.Done()

	// Set while a turn is being discarded after an interruption. The
	// remote service stops generating, but chunks already in flight still
	// arrive and must not reach the speaker.
	interrupted := false
	sawTerminal := false
	var terminalErr error

	for event := range events {
		switch ev := event.(type) {
		case internal_live.AudioEvent:
			r.audioReceived.Add(1)
			if interrupted {
				continue
			}
			r.notifier.SendAudio(r.sessionID, ev.Data)
			if err := r.playback.PlayAudio(ev.Data); err != nil {
				r.logger.Warnw("Failed to queue playback audio",
					"session", r.sessionID, "error", err)
			}

		case internal_live.TranscriptEvent:
			r.notifier.SendEnvelope(r.sessionID, internal_socket.Envelope{
				Type:   EnvelopeTypeTranscript,
				Source: string(ev.Source),
				Text:   ev.Text,
				Final:  ev.Final,
			})

		case internal_live.InterruptionEvent:
			interrupted = true
			r.playback.FlushPlayback()
			r.notifier.SendEnvelope(r.sessionID, internal_socket.Envelope{
				Type: EnvelopeTypeInterrupted,
			})

		case internal_live.TurnCompleteEvent:
			interrupted = false
			r.notifier.SendEnvelope(r.sessionID, internal_socket.Envelope{
				Type: EnvelopeTypeTurnComplete,
			})

		case internal_live.ClosedEvent:
			sawTerminal = true
			terminalErr = ev.Err
		}
	}

	env := internal_socket.Envelope{Type: EnvelopeTypeClosed}
	if terminalErr != nil {
		env.Message = terminalErr.Error()
		r.logger.Errorw("Remote channel terminated with error",
			"session", r.sessionID, "error", terminalErr)
	} else if sawTerminal {
		r.logger.Infow("Remote channel terminated cleanly", "session", r.sessionID)
	}
	r.notifier.SendEnvelope(r.sessionID, env)

	if r.onTerminal != nil {
		r.onTerminal(terminalErr)
	}
}
