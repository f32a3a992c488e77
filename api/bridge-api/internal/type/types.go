// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import "time"

// Modality identifies which of the two per-session queues a frame belongs to.
// Text rides the audio/text queue; it never competes with video.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
	ModalityText  Modality = "text"
)

// Frame is a unit of work entering the bridge. Audio payloads are raw PCM
// sample chunks; video payloads are encoded images. Fingerprint is only set
// for conditioned video frames.
type Frame struct {
	Modality    Modality
	Payload     []byte
	MIMEType    string
	Text        string
	CapturedAt  time.Time
	Fingerprint uint64
}

// AudioFrame builds a PCM audio frame captured now.
func AudioFrame(payload []byte, mimeType string) *Frame {
	return &Frame{
		Modality:   ModalityAudio,
		Payload:    payload,
		MIMEType:   mimeType,
		CapturedAt: time.Now(),
	}
}

// VideoFrame builds a raw (not yet conditioned) video frame captured now.
func VideoFrame(payload []byte) *Frame {
	return &Frame{
		Modality:   ModalityVideo,
		Payload:    payload,
		CapturedAt: time.Now(),
	}
}

// TextFrame builds a text turn. Text travels through the audio/text queue so
// it is never delayed behind a video burst.
func TextFrame(text string) *Frame {
	return &Frame{
		Modality:   ModalityText,
		Text:       text,
		CapturedAt: time.Now(),
	}
}
