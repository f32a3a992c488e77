// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport_internal

// DisconnectReason describes why a WebRTC peer was torn down.
type DisconnectReason string

const (
	DisconnectReasonClient           DisconnectReason = "client_disconnect" // peer connection closed by the client
	DisconnectReasonConnectionFailed DisconnectReason = "connection_failed" // ICE/DTLS failure
)

// Opus RTP constants (WebRTC standard: 48kHz).
const (
	OpusSampleRate  = 48000
	OpusChannels    = 2 // Opus RTP always signals 2 encoding channels (opus/48000/2) per RFC 7587, even for mono voice
	OpusPayloadType = 111
	OpusSDPFmtpLine = "minptime=10;useinbandfec=1;stereo=0;sprop-stereo=0"
)

// Buffer sizes and thresholds.
const (
	RTPBufferSize        = 1500 // max RTP packet size (MTU)
	MaxConsecutiveErrors = 50   // max read errors before stopping the track reader

	// InputBufferThreshold batches decoded+resampled 16kHz PCM into 100ms
	// chunks before handing them to the bridge.
	InputBufferThreshold = 3200 // 32 bytes/ms * 100ms

	// PlaybackPaceInterval is the real-time interval between consecutive
	// audio frames written to the WebRTC track. Matches the 20ms opus frame
	// so that response bursts are smoothed to playback rate.
	PlaybackPaceInterval = 20 // milliseconds

	// PlaybackChannelSize buffers roughly 30s of 20ms frames.
	PlaybackChannelSize = 1500

	// Data channel labels created before the offer so the browser receives
	// them via ondatachannel.
	VideoChannelLabel = "video"
	TextChannelLabel  = "text"
)

// Config holds WebRTC configuration.
type Config struct {
	ICEServers         []ICEServer
	ICETransportPolicy string // "all" or "relay"
}

// ICEServer represents a STUN/TURN server.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// DefaultConfig returns default WebRTC configuration.
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
		ICETransportPolicy: "all",
	}
}
