// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	internal_bridge "github.com/rapidaai/live-bridge/api/bridge-api/internal/bridge"
	internal_live "github.com/rapidaai/live-bridge/api/bridge-api/internal/live"
	internal_responder "github.com/rapidaai/live-bridge/api/bridge-api/internal/responder"
	internal_socket "github.com/rapidaai/live-bridge/api/bridge-api/internal/socket"
	internal_store "github.com/rapidaai/live-bridge/api/bridge-api/internal/store"
	internal_transport "github.com/rapidaai/live-bridge/api/bridge-api/internal/transport"
	transport_internal "github.com/rapidaai/live-bridge/api/bridge-api/internal/transport/transport_internal"
	internal_type "github.com/rapidaai/live-bridge/api/bridge-api/internal/type"
	"github.com/rapidaai/live-bridge/pkg/commons"
)

// SocketHub is the slice of the notification hub the service and the
// responder need. *internal_socket.Hub satisfies it.
type SocketHub interface {
	SendAudio(sessionID string, pcm []byte)
	SendEnvelope(sessionID string, env internal_socket.Envelope)
	Detach(sessionID string)
}

// Service owns session lifecycles: creation and offer, answer and
// activation, termination. It is the only writer of session state.
type Service struct {
	logger       commons.Logger
	registry     *Registry
	store        internal_store.MetadataStore
	hub          SocketHub
	opener       internal_live.Opener
	newTransport TransportFactory
}

// NewService wires the session service. The default transport factory dials
// real WebRTC peers; tests inject fakes via WithTransportFactory.
func NewService(
	logger commons.Logger,
	registry *Registry,
	store internal_store.MetadataStore,
	hub SocketHub,
	opener internal_live.Opener,
	opts ...ServiceOption,
) *Service {
	svc := &Service{
		logger:   logger,
		registry: registry,
		store:    store,
		hub:      hub,
		opener:   opener,
	}
	svc.newTransport = func(sessionID string, handlers internal_transport.Handlers) (Transport, error) {
		return internal_transport.NewPeer(logger, sessionID, handlers)
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTransportFactory overrides the WebRTC peer constructor.
func WithTransportFactory(factory TransportFactory) ServiceOption {
	return func(s *Service) { s.newTransport = factory }
}

// ============================================================================
// Create
// ============================================================================

// Create allocates a session, dials its WebRTC leg and returns the id with a
// complete (non-trickle) SDP offer. The session is registered before the
// offer is issued so answer and termination requests can always resolve it.
// systemInstruction and speakerProfile are fixed for the session's lifetime.
func (s *Service) Create(ctx context.Context, systemInstruction, speakerProfile string) (*Session, string, error) {
	sess := &Session{
		ID:                uuid.NewString(),
		CreatedAt:         time.Now(),
		state:             StateCreated,
		systemInstruction: systemInstruction,
		speakerProfile:    speakerProfile,
	}
	s.registry.Put(sess)

	transport, err := s.newTransport(sess.ID, s.mediaHandlers(sess))
	if err != nil {
		s.registry.Remove(sess.ID)
		return nil, "", fmt.Errorf("failed to create transport: %w", err)
	}
	sess.mu.Lock()
	sess.transport = transport
	sess.mu.Unlock()

	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		s.teardown(context.WithoutCancel(ctx), sess)
		return nil, "", fmt.Errorf("failed to create offer: %w", err)
	}

	if err := sess.transition(StateOffered); err != nil {
		s.teardown(context.WithoutCancel(ctx), sess)
		return nil, "", err
	}

	if err := s.store.Put(ctx, sess.ID, internal_store.SessionMetadata{
		Status:            internal_store.SessionStatusPending,
		SystemInstruction: systemInstruction,
		SpeakerProfile:    speakerProfile,
	}); err != nil {
		s.teardown(context.WithoutCancel(ctx), sess)
		return nil, "", err
	}

	s.logger.Infow("Session created", "session", sess.ID)
	return sess, offer, nil
}

// mediaHandlers adapts inbound transport media to the session's bridge.
// Media arriving before the bridge exists (pre-ACTIVE) is dropped.
func (s *Service) mediaHandlers(sess *Session) internal_transport.Handlers {
	return internal_transport.Handlers{
		OnAudio: func(pcm []byte) {
			b := sess.currentBridge()
			if b == nil {
				return
			}
			frame := internal_type.AudioFrame(pcm, internal_live.InputMIMEType)
			if err := b.EnqueueAudio(context.Background(), frame); err != nil && !errors.Is(err, internal_bridge.ErrBridgeClosed) {
				s.logger.Warnw("Failed to enqueue audio", "session", sess.ID, "error", err)
			}
		},
		OnVideo: func(frame []byte) {
			b := sess.currentBridge()
			if b == nil {
				return
			}
			if err := b.EnqueueVideo(frame); err != nil && !errors.Is(err, internal_bridge.ErrBridgeClosed) {
				s.logger.Debugw("Video frame dropped", "session", sess.ID, "error", err)
			}
		},
		OnText: func(text string) {
			b := sess.currentBridge()
			if b == nil {
				return
			}
			if err := b.EnqueueText(context.Background(), text); err != nil && !errors.Is(err, internal_bridge.ErrBridgeClosed) {
				s.logger.Warnw("Failed to enqueue text", "session", sess.ID, "error", err)
			}
		},
		OnDisconnected: func(reason transport_internal.DisconnectReason) {
			s.logger.Infow("Transport disconnected", "session", sess.ID, "reason", reason)
			go s.terminateQuietly(sess.ID)
		},
	}
}

// ============================================================================
// Answer
// ============================================================================

// Answer accepts the browser's SDP answer, opens the remote channel and
// activates the media bridge. Any failure past NEGOTIATING tears the session
// down; half-activated sessions are not left behind.
func (s *Service) Answer(ctx context.Context, sessionID string, answerSDP string) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}

	meta, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, internal_store.ErrMetadataNotFound) {
		// TTL expired between offer and answer.
		s.teardown(context.WithoutCancel(ctx), sess)
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	if err := sess.transition(StateNegotiating); err != nil {
		return err
	}

	sess.mu.Lock()
	transport := sess.transport
	sess.mu.Unlock()

	if err := transport.SetAnswer(answerSDP); err != nil {
		s.teardown(context.WithoutCancel(ctx), sess)
		return err
	}

	channel, err := s.opener.Open(ctx, internal_live.SessionConfig{
		SessionID:         sessionID,
		SystemInstruction: meta.SystemInstruction,
		SpeakerProfile:    meta.SpeakerProfile,
	})
	if err != nil {
		s.teardown(context.WithoutCancel(ctx), sess)
		return fmt.Errorf("failed to open remote channel: %w", err)
	}

	bridge := internal_bridge.NewBridge(s.logger, sessionID, channelSend(channel),
		internal_bridge.WithErrorHandler(func(error) {
			go s.terminateQuietly(sessionID)
		}))

	router := internal_responder.NewRouter(s.logger, sessionID, transport, s.hub, func(error) {
		go s.terminateQuietly(sessionID)
	})

	sess.mu.Lock()
	sess.channel = channel
	sess.bridge = bridge
	sess.router = router
	sess.mu.Unlock()

	router.Run(channel.Events())

	if err := sess.transition(StateActive); err != nil {
		s.teardown(context.WithoutCancel(ctx), sess)
		return err
	}

	if err := s.store.Put(ctx, sessionID, internal_store.SessionMetadata{
		Status:            internal_store.SessionStatusActive,
		SystemInstruction: meta.SystemInstruction,
		SpeakerProfile:    meta.SpeakerProfile,
	}); err != nil {
		s.logger.Warnw("Failed to persist active status", "session", sessionID, "error", err)
	}

	s.logger.Infow("Session active", "session", sessionID)
	return nil
}

// channelSend dispatches bridge frames to the matching channel modality.
func channelSend(channel internal_live.Channel) internal_bridge.SendFunc {
	return func(ctx context.Context, frame *internal_type.Frame) error {
		switch frame.Modality {
		case internal_type.ModalityAudio:
			return channel.SendAudio(ctx, frame.Payload)
		case internal_type.ModalityVideo:
			return channel.SendVideo(ctx, frame.Payload, frame.MIMEType)
		case internal_type.ModalityText:
			return channel.SendText(ctx, frame.Text)
		default:
			return fmt.Errorf("unknown modality %q", frame.Modality)
		}
	}
}

// ============================================================================
// Lookup / termination
// ============================================================================

// Get resolves a live session by id.
func (s *Service) Get(sessionID string) (*Session, error) {
	return s.registry.Get(sessionID)
}

// Terminate drives a session to CLOSED. Every teardown step runs regardless
// of earlier failures, and repeated calls are no-ops.
func (s *Service) Terminate(ctx context.Context, sessionID string) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	s.teardown(ctx, sess)
	return nil
}

func (s *Service) terminateQuietly(sessionID string) {
	if err := s.Terminate(context.Background(), sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		s.logger.Warnw("Background termination failed", "session", sessionID, "error", err)
	}
}

// teardown is the single path to CLOSED. It stops ingestion, closes the
// remote channel, tears the peer down, detaches the socket and drops every
// trace of the session. Each step is attempted even if a previous one fails.
func (s *Service) teardown(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	if sess.state == StateClosing || sess.state == StateClosed {
		sess.mu.Unlock()
		return
	}
	// Only an ACTIVE session passes through CLOSING; a session torn down
	// earlier in its lifecycle jumps straight to CLOSED.
	if sess.state == StateActive {
		sess.state = StateClosing
	} else {
		sess.state = StateClosed
	}
	bridge := sess.bridge
	channel := sess.channel
	transport := sess.transport
	sess.mu.Unlock()

	if bridge != nil {
		bridge.Close()
	}
	if channel != nil {
		if err := channel.Close(); err != nil {
			s.logger.Warnw("Failed to close remote channel", "session", sess.ID, "error", err)
		}
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.Warnw("Failed to close transport", "session", sess.ID, "error", err)
		}
	}

	s.hub.Detach(sess.ID)
	s.registry.Remove(sess.ID)
	if err := s.store.Delete(ctx, sess.ID); err != nil {
		s.logger.Warnw("Failed to delete session metadata", "session", sess.ID, "error", err)
	}

	sess.mu.Lock()
	sess.state = StateClosed
	sess.mu.Unlock()

	s.logger.Infow("Session closed", "session", sess.ID)
}

// CloseAll terminates every registered session. Called on shutdown.
func (s *Service) CloseAll(ctx context.Context) {
	for _, sess := range s.registry.All() {
		s.teardown(ctx, sess)
	}
}
