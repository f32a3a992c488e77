// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import "encoding/binary"

// Config describes a mono/stereo PCM16 stream.
type Config struct {
	SampleRate int
	Channels   int
}

// The three fixed rates of the pipeline: WebRTC runs Opus at 48kHz, the
// remote service consumes 16kHz input and produces 24kHz output.
var (
	WebRTCAudioConfig       = Config{SampleRate: 48000, Channels: 1}
	RemoteInputAudioConfig  = Config{SampleRate: 16000, Channels: 1}
	RemoteOutputAudioConfig = Config{SampleRate: 24000, Channels: 1}
)

// BytesPerMillisecond for little-endian PCM16.
func (c Config) BytesPerMillisecond() int {
	return c.SampleRate * c.Channels * 2 / 1000
}

// PCM16ToInt16 converts little-endian PCM16 bytes to samples. A trailing odd
// byte is dropped.
func PCM16ToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Int16ToPCM16 converts samples to little-endian PCM16 bytes.
func Int16ToPCM16(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// Int16ToFloat32 converts samples into the [-1, 1) range.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalized samples back to int16 with clipping.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
