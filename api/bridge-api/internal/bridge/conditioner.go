// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_bridge

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/cespare/xxhash/v2"
	xdraw "golang.org/x/image/draw"

	_ "image/gif"  // register GIF decoder
	_ "image/png"  // register PNG decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Conditioning defaults. Video here is a live visual context cue, not an
// archival stream, so payload size is bounded aggressively.
const (
	DefaultMaxDimension = 512 // longest side after resize
	DefaultJPEGQuality  = 60
)

// ConditioningError wraps a per-frame failure (corrupt or undecodable input).
// It is never fatal to the bridge; the frame is dropped and the session
// continues.
type ConditioningError struct {
	Reason string
	Err    error
}

func (e *ConditioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame conditioning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("frame conditioning failed: %s", e.Reason)
}

func (e *ConditioningError) Unwrap() error { return e.Err }

// ConditionedFrame is the output of the conditioning pipeline: a bounded
// JPEG payload plus the content fingerprint used for duplicate suppression.
type ConditionedFrame struct {
	Data        []byte
	MIMEType    string
	Width       int
	Height      int
	Fingerprint uint64
}

// Conditioner normalizes raw video frames for transmission: resize so the
// longest side does not exceed MaxDimension, flatten any alpha channel onto a
// white background, and re-encode as lossy JPEG. It is stateless and
// deterministic for a fixed configuration; the "last fingerprint" memory used
// for dedup is owned by the bridge, not the conditioner.
type Conditioner struct {
	MaxDimension int
	JPEGQuality  int
}

// NewConditioner returns a conditioner with the default bounds.
func NewConditioner() *Conditioner {
	return &Conditioner{
		MaxDimension: DefaultMaxDimension,
		JPEGQuality:  DefaultJPEGQuality,
	}
}

// Condition decodes raw, resizes and flattens it, re-encodes as JPEG, and
// computes the content fingerprint of the conditioned bytes.
func (c *Conditioner) Condition(raw []byte) (*ConditionedFrame, error) {
	if len(raw) == 0 {
		return nil, &ConditioningError{Reason: "empty frame"}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &ConditioningError{Reason: "undecodable image", Err: err}
	}

	bounds := img.Bounds()
	width, height := targetDimensions(bounds.Dx(), bounds.Dy(), c.MaxDimension)

	// Scale onto a white canvas with the Over operator so RGBA/paletted
	// sources lose their alpha channel in the same pass as the resize.
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(dst, dst.Bounds(), image.White, image.Point{}, xdraw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: c.JPEGQuality}); err != nil {
		return nil, &ConditioningError{Reason: "jpeg encode", Err: err}
	}

	data := buf.Bytes()
	return &ConditionedFrame{
		Data:        data,
		MIMEType:    "image/jpeg",
		Width:       width,
		Height:      height,
		Fingerprint: c.Fingerprint(data),
	}, nil
}

// Fingerprint computes the content fingerprint over conditioned bytes. It is
// exposed independently so the bridge can compare frames without re-running
// the full pipeline.
func (c *Conditioner) Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// targetDimensions shrinks (never grows) so that neither side exceeds max,
// preserving aspect ratio.
func targetDimensions(width, height, max int) (int, int) {
	if max <= 0 || (width <= max && height <= max) {
		return width, height
	}
	if width >= height {
		scaled := height * max / width
		if scaled < 1 {
			scaled = 1
		}
		return max, scaled
	}
	scaled := width * max / height
	if scaled < 1 {
		scaled = 1
	}
	return scaled, max
}
