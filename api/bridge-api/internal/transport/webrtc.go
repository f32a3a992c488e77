// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	internal_audio "github.com/rapidaai/live-bridge/api/bridge-api/internal/audio"
	transport_internal "github.com/rapidaai/live-bridge/api/bridge-api/internal/transport/transport_internal"
	"github.com/rapidaai/live-bridge/pkg/commons"
)

// ErrNegotiation marks a WebRTC offer/answer failure. The session never
// reaches ACTIVE and is driven straight to CLOSED.
var ErrNegotiation = errors.New("transport negotiation failed")

// Handlers are the callbacks a Peer pushes decoded media into. OnAudio may
// block: the track reader suspends with it, which is exactly how audio
// backpressure propagates to the ingestion path.
type Handlers struct {
	OnAudio        func(pcm []byte) // 16kHz mono PCM16, ~100ms chunks
	OnVideo        func(frame []byte)
	OnText         func(text string)
	OnDisconnected func(reason transport_internal.DisconnectReason)
}

// Peer owns one pion peer connection: inbound audio via the remote media
// track (Opus 48k -> PCM 16k), inbound video frames and text over ordered
// data channels, outbound audio via a local track written at 20ms pace.
type Peer struct {
	mu sync.Mutex

	logger    commons.Logger
	config    *transport_internal.Config
	sessionID string
	handlers  Handlers

	ctx    context.Context
	cancel context.CancelFunc

	pc         *pionwebrtc.PeerConnection
	localTrack *pionwebrtc.TrackLocalStaticSample
	codec      *internal_audio.OpusCodec
	resampler  internal_audio.Resampler

	// playbackCh carries 20ms 48kHz PCM frames to the paced writer.
	playbackCh chan []byte

	playbackBuffer     bytes.Buffer
	playbackBufferLock sync.Mutex

	inputBuffer     bytes.Buffer
	inputBufferLock sync.Mutex

	audioWg sync.WaitGroup
	closed  bool
}

// NewPeer builds the peer connection with the Opus media engine, default
// interceptors, a local playback track and the video/text data channels,
// ready for CreateOffer.
func NewPeer(logger commons.Logger, sessionID string, handlers Handlers) (*Peer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	codec, err := internal_audio.NewOpusCodec()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create opus codec: %w", err)
	}

	p := &Peer{
		logger:     logger,
		config:     transport_internal.DefaultConfig(),
		sessionID:  sessionID,
		handlers:   handlers,
		ctx:        ctx,
		cancel:     cancel,
		codec:      codec,
		resampler:  internal_audio.NewResampler(logger),
		playbackCh: make(chan []byte, transport_internal.PlaybackChannelSize),
	}

	if err := p.createPeerConnection(); err != nil {
		cancel()
		return nil, err
	}

	go p.runPlaybackWriter()
	return p, nil
}

// ============================================================================
// Peer connection setup
// ============================================================================

func (p *Peer) createPeerConnection() error {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:    pionwebrtc.MimeTypeOpus,
			ClockRate:   transport_internal.OpusSampleRate,
			Channels:    transport_internal.OpusChannels,
			SDPFmtpLine: transport_internal.OpusSDPFmtpLine,
		},
		PayloadType: transport_internal.OpusPayloadType,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("failed to register Opus codec: %w", err)
	}

	// Default interceptors include NACK for audio packet recovery.
	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(
		pionwebrtc.WithMediaEngine(mediaEngine),
		pionwebrtc.WithInterceptorRegistry(registry),
	)

	iceServers := make([]pionwebrtc.ICEServer, len(p.config.ICEServers))
	for i, srv := range p.config.ICEServers {
		iceServers[i] = pionwebrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		}
	}
	pcConfig := pionwebrtc.Configuration{ICEServers: iceServers}
	if p.config.ICETransportPolicy == "relay" {
		pcConfig.ICETransportPolicy = pionwebrtc.ICETransportPolicyRelay
	}

	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	p.pc = pc

	p.setupPeerEventHandlers()

	if err := p.createLocalTrack(); err != nil {
		return err
	}
	return p.createDataChannels()
}

func (p *Peer) setupPeerEventHandlers() {
	p.pc.OnConnectionStateChange(p.handleConnectionStateChange)

	p.pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		p.logger.Infow("Remote audio track received",
			"session", p.sessionID, "codec", track.Codec().MimeType)
		p.audioWg.Add(1)
		go p.readRemoteAudio(track)
	})
}

func (p *Peer) handleConnectionStateChange(state pionwebrtc.PeerConnectionState) {
	p.logger.Infow("WebRTC connection state changed", "state", state, "session", p.sessionID)

	switch state {
	case pionwebrtc.PeerConnectionStateFailed:
		p.notifyDisconnected(transport_internal.DisconnectReasonConnectionFailed)
	case pionwebrtc.PeerConnectionStateClosed:
		p.notifyDisconnected(transport_internal.DisconnectReasonClient)
	case pionwebrtc.PeerConnectionStateDisconnected:
		// Transient network hiccup; ICE may recover. The remote
		// channel stays up, so nothing to do here.
		p.logger.Warnw("WebRTC peer disconnected, waiting for ICE recovery", "session", p.sessionID)
	}
}

func (p *Peer) createLocalTrack() error {
	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: transport_internal.OpusSampleRate,
			Channels:  transport_internal.OpusChannels,
		},
		"audio",
		"live-bridge-audio",
	)
	if err != nil {
		return fmt.Errorf("failed to create local audio track: %w", err)
	}
	if _, err := p.pc.AddTrack(track); err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}
	p.localTrack = track
	return nil
}

// createDataChannels opens the ordered video/text channels server-side so
// the browser receives them via ondatachannel after the answer.
func (p *Peer) createDataChannels() error {
	ordered := true

	videoCh, err := p.pc.CreateDataChannel(transport_internal.VideoChannelLabel,
		&pionwebrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("failed to create video data channel: %w", err)
	}
	videoCh.OnMessage(func(msg pionwebrtc.DataChannelMessage) {
		if msg.IsString || len(msg.Data) == 0 {
			return
		}
		if p.handlers.OnVideo != nil {
			p.handlers.OnVideo(msg.Data)
		}
	})

	textCh, err := p.pc.CreateDataChannel(transport_internal.TextChannelLabel,
		&pionwebrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("failed to create text data channel: %w", err)
	}
	textCh.OnMessage(func(msg pionwebrtc.DataChannelMessage) {
		if !msg.IsString || len(msg.Data) == 0 {
			return
		}
		if p.handlers.OnText != nil {
			p.handlers.OnText(string(msg.Data))
		}
	})

	return nil
}

// ============================================================================
// Signaling
// ============================================================================

// CreateOffer generates the local SDP offer and waits for ICE gathering to
// complete so the offer is usable over plain request/response signaling
// (no trickle ICE).
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		return "", fmt.Errorf("%w: peer connection closed", ErrNegotiation)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create offer: %v", ErrNegotiation, err)
	}

	gatherComplete := pionwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("%w: set local description: %v", ErrNegotiation, err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: ICE gathering interrupted: %v", ErrNegotiation, ctx.Err())
	}

	local := pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("%w: no local description after gathering", ErrNegotiation)
	}
	return local.SDP, nil
}

// SetAnswer installs the remote SDP answer; the transport completes
// negotiation asynchronously from here.
func (p *Peer) SetAnswer(sdp string) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("%w: peer connection closed", ErrNegotiation)
	}

	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("%w: set remote description: %v", ErrNegotiation, err)
	}
	return nil
}

// ============================================================================
// Inbound audio: track -> decode -> resample -> handlers.OnAudio
// ============================================================================

// readRemoteAudio reads RTP from the remote track, decodes Opus to 48kHz
// PCM, resamples to 16kHz, and hands batched chunks to the audio handler.
// The handler is allowed to block; blocking here is the backpressure path.
func (p *Peer) readRemoteAudio(track *pionwebrtc.TrackRemote) {
	defer p.audioWg.Done()

	buf := make([]byte, transport_internal.RTPBufferSize)
	consecutiveErrors := 0

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= transport_internal.MaxConsecutiveErrors {
				p.logger.Errorw("Too many consecutive track read errors, stopping audio reader",
					"session", p.sessionID, "lastError", err)
				return
			}
			continue
		}
		consecutiveErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.logger.Debugw("Failed to unmarshal RTP packet", "error", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		pcm48k, err := p.codec.Decode(pkt.Payload)
		if err != nil {
			p.logger.Debugw("Opus decode failed", "error", err, "payloadSize", len(pkt.Payload))
			continue
		}

		pcm16k, err := p.resampler.Resample(pcm48k,
			internal_audio.WebRTCAudioConfig, internal_audio.RemoteInputAudioConfig)
		if err != nil {
			p.logger.Debugw("Audio resample failed", "error", err)
			continue
		}

		p.bufferInput(pcm16k)
	}
}

// bufferInput accumulates 16kHz PCM and flushes 100ms chunks to the handler.
func (p *Peer) bufferInput(pcm []byte) {
	p.inputBufferLock.Lock()
	p.inputBuffer.Write(pcm)
	if p.inputBuffer.Len() < transport_internal.InputBufferThreshold {
		p.inputBufferLock.Unlock()
		return
	}
	chunk := make([]byte, p.inputBuffer.Len())
	p.inputBuffer.Read(chunk)
	p.inputBufferLock.Unlock()

	if p.handlers.OnAudio != nil {
		p.handlers.OnAudio(chunk)
	}
}

// ============================================================================
// Outbound audio: PlayAudio -> resample -> 20ms frames -> paced track writes
// ============================================================================

// PlayAudio accepts 24kHz PCM from the remote service, resamples to 48kHz,
// and queues complete 20ms frames for the paced writer.
func (p *Peer) PlayAudio(pcm24k []byte) error {
	pcm48k, err := p.resampler.Resample(pcm24k,
		internal_audio.RemoteOutputAudioConfig, internal_audio.WebRTCAudioConfig)
	if err != nil {
		return err
	}

	p.playbackBufferLock.Lock()
	p.playbackBuffer.Write(pcm48k)
	for p.playbackBuffer.Len() >= internal_audio.OpusFrameBytes {
		frame := make([]byte, internal_audio.OpusFrameBytes)
		p.playbackBuffer.Read(frame)
		select {
		case p.playbackCh <- frame:
		default:
			// queue holds ~30s; anything past that is dropped
		}
	}
	p.playbackBufferLock.Unlock()
	return nil
}

// FlushPlayback discards all queued playback audio. Used on interruption so
// stale frames are silenced immediately.
func (p *Peer) FlushPlayback() {
	p.playbackBufferLock.Lock()
	p.playbackBuffer.Reset()
	p.playbackBufferLock.Unlock()

	for {
		select {
		case <-p.playbackCh:
		default:
			return
		}
	}
}

// runPlaybackWriter encodes and writes at most one 20ms frame per tick so
// response bursts play at real-time rate instead of flooding the client.
// Frames stay queued in playbackCh until their tick, which keeps the queue
// bound effective under sustained bursts.
func (p *Peer) runPlaybackWriter() {
	ticker := time.NewTicker(transport_internal.PlaybackPaceInterval * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-ticker.C:
			select {
			case frame := <-p.playbackCh:
				encoded, err := p.codec.Encode(frame)
				if err != nil {
					p.logger.Debugw("Opus encode failed", "error", err)
					continue
				}
				p.writeAudioFrame(encoded)
			default:
			}
		}
	}
}

func (p *Peer) writeAudioFrame(data []byte) {
	p.mu.Lock()
	track := p.localTrack
	p.mu.Unlock()
	if track == nil {
		return
	}
	if err := track.WriteSample(media.Sample{
		Data:     data,
		Duration: internal_audio.OpusFrameDuration * time.Millisecond,
	}); err != nil {
		p.logger.Debugw("Failed to write sample to track", "error", err)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func (p *Peer) notifyDisconnected(reason transport_internal.DisconnectReason) {
	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	p.mu.Unlock()
	if alreadyClosed {
		return
	}
	if p.handlers.OnDisconnected != nil {
		p.handlers.OnDisconnected(reason)
	}
}

// Close tears down the peer connection and stops the track reader and
// playback writer. Idempotent and safe from any goroutine.
func (p *Peer) Close() error {
	p.mu.Lock()
	p.closed = true
	pc := p.pc
	p.pc = nil
	p.localTrack = nil
	p.mu.Unlock()

	p.cancel()
	if pc != nil {
		if err := pc.Close(); err != nil {
			p.logger.Warnw("Error closing peer connection", "session", p.sessionID, "error", err)
		}
	}
	p.audioWg.Wait()
	return nil
}
