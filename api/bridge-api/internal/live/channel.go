// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_live

import (
	"context"
	"fmt"
)

// SessionConfig is the immutable per-session configuration forwarded once to
// the remote service at session start.
type SessionConfig struct {
	SessionID         string
	SystemInstruction string
	SpeakerProfile    string
}

// Opener dials the remote inference service and yields a live duplex channel.
type Opener interface {
	Open(ctx context.Context, cfg SessionConfig) (Channel, error)
}

// Channel is the bidirectional stream to the remote inference service. Sends
// may suspend on network backpressure; Events yields the produced stream in
// arrival order. Close is idempotent.
type Channel interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendVideo(ctx context.Context, data []byte, mimeType string) error
	SendText(ctx context.Context, text string) error
	Events() <-chan Event
	Close() error
}

// RemoteChannelError marks a mid-session failure of the outbound channel.
// It is fatal to the owning session only: the lifecycle drives the session
// to CLOSED and surfaces the error on the notification socket.
type RemoteChannelError struct {
	Err error
}

func (e *RemoteChannelError) Error() string {
	return fmt.Sprintf("remote channel failed: %v", e.Err)
}

func (e *RemoteChannelError) Unwrap() error { return e.Err }

// TranscriptSource tells whose speech a transcript belongs to.
type TranscriptSource string

const (
	TranscriptSourceUser  TranscriptSource = "user"
	TranscriptSourceModel TranscriptSource = "model"
)

// Event is one item of the remote service's output stream.
type Event interface {
	liveEvent()
}

// AudioEvent carries a generated audio chunk (24 kHz PCM).
type AudioEvent struct {
	Data []byte
}

// TranscriptEvent carries incremental transcription of either side of the
// conversation.
type TranscriptEvent struct {
	Text   string
	Source TranscriptSource
	Final  bool
}

// InterruptionEvent signals that generation was interrupted (e.g. the user
// started speaking over the model). Buffered playback should be flushed.
type InterruptionEvent struct{}

// TurnCompleteEvent signals the end of a model turn.
type TurnCompleteEvent struct{}

// ClosedEvent is terminal: the channel produced its last event. Err is nil
// on a clean shutdown and non-nil when the stream failed mid-session.
type ClosedEvent struct {
	Err error
}

func (AudioEvent) liveEvent()        {}
func (TranscriptEvent) liveEvent()   {}
func (InterruptionEvent) liveEvent() {}
func (TurnCompleteEvent) liveEvent() {}
func (ClosedEvent) liveEvent()       {}
