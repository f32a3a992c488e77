// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"fmt"

	"github.com/dh1tw/gosamplerate"

	"github.com/rapidaai/live-bridge/pkg/commons"
)

// Resampler converts PCM16 between the pipeline's fixed rates.
type Resampler interface {
	Resample(pcm []byte, from, to Config) ([]byte, error)
}

type libsamplerateResampler struct {
	logger commons.Logger
}

// NewResampler returns the libsamplerate-backed resampler used on both the
// ingestion (48k -> 16k) and playback (24k -> 48k) paths.
func NewResampler(logger commons.Logger) Resampler {
	return &libsamplerateResampler{logger: logger}
}

func (r *libsamplerateResampler) Resample(pcm []byte, from, to Config) ([]byte, error) {
	if from.SampleRate == to.SampleRate && from.Channels == to.Channels {
		return pcm, nil
	}
	if from.Channels != to.Channels {
		return nil, fmt.Errorf("channel conversion %d -> %d is not supported", from.Channels, to.Channels)
	}

	ratio := float64(to.SampleRate) / float64(from.SampleRate)
	input := Int16ToFloat32(PCM16ToInt16(pcm))

	output, err := gosamplerate.Simple(input, ratio, from.Channels, gosamplerate.SRC_SINC_FASTEST)
	if err != nil {
		return nil, fmt.Errorf("resample %dHz -> %dHz: %w", from.SampleRate, to.SampleRate, err)
	}

	return Int16ToPCM16(Float32ToInt16(output)), nil
}
