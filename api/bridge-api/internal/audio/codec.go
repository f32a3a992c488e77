// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Opus constants for the WebRTC leg (48kHz mono, 20ms frames).
const (
	OpusSampleRate    = 48000
	OpusChannels      = 1
	OpusFrameDuration = 20                        // milliseconds
	OpusFrameSamples  = OpusSampleRate / 1000 * OpusFrameDuration // 960
	OpusFrameBytes    = OpusFrameSamples * 2      // PCM16 bytes per 20ms frame

	maxOpusPacketSize = 1500 // MTU-safe upper bound
	maxOpusFrameSize  = 5760 // 120ms at 48kHz, the largest legal opus frame
)

// OpusCodec pairs an encoder and a decoder for one WebRTC audio leg. Not
// safe for concurrent use; the transport owns one per direction.
type OpusCodec struct {
	enc *opus.Encoder
	dec *opus.Decoder
}

// NewOpusCodec builds a 48kHz mono VoIP-tuned codec.
func NewOpusCodec() (*OpusCodec, error) {
	enc, err := opus.NewEncoder(OpusSampleRate, OpusChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusCodec{enc: enc, dec: dec}, nil
}

// Decode decodes one opus packet into 48kHz PCM16 bytes.
func (c *OpusCodec) Decode(packet []byte) ([]byte, error) {
	samples := make([]int16, maxOpusFrameSize*OpusChannels)
	n, err := c.dec.Decode(packet, samples)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return Int16ToPCM16(samples[:n*OpusChannels]), nil
}

// Encode encodes exactly one 20ms 48kHz PCM16 frame into an opus packet.
func (c *OpusCodec) Encode(pcm []byte) ([]byte, error) {
	samples := PCM16ToInt16(pcm)
	if len(samples) != OpusFrameSamples*OpusChannels {
		return nil, fmt.Errorf("opus encode expects %d samples, got %d", OpusFrameSamples*OpusChannels, len(samples))
	}
	out := make([]byte, maxOpusPacketSize)
	n, err := c.enc.Encode(samples, out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return out[:n], nil
}
