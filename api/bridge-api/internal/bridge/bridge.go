// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	internal_type "github.com/rapidaai/live-bridge/api/bridge-api/internal/type"
	"github.com/rapidaai/live-bridge/pkg/commons"
)

// ErrBridgeClosed is returned by every enqueue path once teardown has begun.
// Callers must stop producing.
var ErrBridgeClosed = errors.New("media bridge closed")

// Queue sizing. The sum is the hard per-session memory ceiling for
// buffered-but-unsent media, regardless of producer burst rate.
const (
	// AudioQueueCapacity bounds the audio/text queue. The full-queue policy
	// is backpressure: the producing path suspends until a slot frees.
	// Audio loss is a correctness issue for a conversation.
	AudioQueueCapacity = 50

	// The video queue holds exactly one frame with drop-oldest semantics:
	// installing a new frame evicts the unsent one. Recency beats
	// completeness for a live visual context cue.

	// DefaultCloseGrace bounds how long Close waits for in-flight sends
	// before abandoning them.
	DefaultCloseGrace = 2 * time.Second
)

// SendFunc forwards one frame to the outbound channel. It may suspend on
// network backpressure; that suspension is per-modality and never blocks the
// other modality's loop.
type SendFunc func(ctx context.Context, frame *internal_type.Frame) error

// Stats are the per-session counters kept by the bridge.
type Stats struct {
	AudioSent     uint64 `json:"audio_sent"`
	TextSent      uint64 `json:"text_sent"`
	ImagesSent    uint64 `json:"images_sent"`
	ImagesSkipped uint64 `json:"images_skipped"`
	ImagesEvicted uint64 `json:"images_evicted"`
	SendErrors    uint64 `json:"send_errors"`
}

// Bridge buffers and forwards two concurrently-arriving modalities to one
// outbound channel. The two queues are deliberately independent ordering
// domains: a single shared queue would let a burst of video frames delay
// audio delivery. FIFO holds within audio; last-write-wins within video;
// interleaving across modalities is nondeterministic.
type Bridge struct {
	logger      commons.Logger
	sessionID   string
	send        SendFunc
	conditioner *Conditioner
	onSendError func(error)
	closeGrace  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup

	audioCh chan *internal_type.Frame

	mediaMu      sync.Mutex
	mediaPending *internal_type.Frame
	mediaNotify  chan struct{}

	// lastForwarded is the fingerprint of the last video frame actually
	// sent (not merely enqueued). Identical consecutive frames carry no new
	// information and are discarded against it.
	lastForwarded atomic.Uint64

	audioSent     atomic.Uint64
	textSent      atomic.Uint64
	imagesSent    atomic.Uint64
	imagesSkipped atomic.Uint64
	imagesEvicted atomic.Uint64
	sendErrors    atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithErrorHandler installs a callback invoked on outbound send failures.
// The session layer uses it to drive teardown on remote channel errors.
func WithErrorHandler(fn func(error)) Option {
	return func(b *Bridge) { b.onSendError = fn }
}

// WithCloseGrace overrides the in-flight send grace period applied at close.
func WithCloseGrace(d time.Duration) Option {
	return func(b *Bridge) { b.closeGrace = d }
}

// WithConditioner overrides the default frame conditioner.
func WithConditioner(c *Conditioner) Option {
	return func(b *Bridge) { b.conditioner = c }
}

// WithAudioQueueCapacity overrides the audio/text queue capacity. Tests use
// small capacities to exercise backpressure quickly.
func WithAudioQueueCapacity(n int) Option {
	return func(b *Bridge) { b.audioCh = make(chan *internal_type.Frame, n) }
}

// NewBridge creates the per-session bridge and starts its two consumer
// loops. The bridge owns its own context so that cleanup is never
// short-circuited by a caller's context being cancelled first.
func NewBridge(logger commons.Logger, sessionID string, send SendFunc, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		logger:      logger,
		sessionID:   sessionID,
		send:        send,
		conditioner: NewConditioner(),
		closeGrace:  DefaultCloseGrace,
		ctx:         ctx,
		cancel:      cancel,
		quit:        make(chan struct{}),
		audioCh:     make(chan *internal_type.Frame, AudioQueueCapacity),
		mediaNotify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(2)
	go b.runAudioLoop()
	go b.runMediaLoop()
	return b
}

// ============================================================================
// Enqueue paths
// ============================================================================

// EnqueueAudio places a PCM chunk on the audio/text queue. When the queue is
// full the calling path suspends (backpressure on the ingestion side) until a
// slot frees, the caller's context is cancelled, or the bridge closes.
func (b *Bridge) EnqueueAudio(ctx context.Context, frame *internal_type.Frame) error {
	return b.enqueueOrdered(ctx, frame)
}

// EnqueueText places a text turn on the audio/text queue, behind any audio
// already buffered. Same backpressure contract as EnqueueAudio.
func (b *Bridge) EnqueueText(ctx context.Context, text string) error {
	return b.enqueueOrdered(ctx, internal_type.TextFrame(text))
}

func (b *Bridge) enqueueOrdered(ctx context.Context, frame *internal_type.Frame) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	select {
	case b.audioCh <- frame:
		// The send can race Close: once quit is closed the consumer loops
		// are exiting and the frame may never be forwarded.
		select {
		case <-b.quit:
			return ErrBridgeClosed
		default:
		}
		return nil
	case <-b.quit:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueVideo conditions a raw frame and installs it into the single-slot
// video queue, evicting whatever was there. Near-duplicates of the last
// forwarded frame are discarded without entering the queue. Conditioning
// failures drop the frame and are reported to the caller; they never
// terminate the bridge.
func (b *Bridge) EnqueueVideo(raw []byte) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}

	conditioned, err := b.conditioner.Condition(raw)
	if err != nil {
		b.logger.Warnw("Dropping undecodable video frame",
			"session", b.sessionID, "error", err)
		return err
	}

	if conditioned.Fingerprint == b.lastForwarded.Load() {
		b.imagesSkipped.Add(1)
		return nil
	}

	frame := internal_type.VideoFrame(conditioned.Data)
	frame.MIMEType = conditioned.MIMEType
	frame.Fingerprint = conditioned.Fingerprint

	b.mediaMu.Lock()
	if b.mediaPending != nil {
		b.imagesEvicted.Add(1)
	}
	b.mediaPending = frame
	b.mediaMu.Unlock()

	select {
	case b.mediaNotify <- struct{}{}:
	default:
	}
	return nil
}

// ============================================================================
// Consumer loops
// ============================================================================

// runAudioLoop drains the audio/text queue into the outbound channel. It is
// intentionally unaware of the media loop: no shared sequencing token, no
// round-robin.
func (b *Bridge) runAudioLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.quit:
			return
		case frame := <-b.audioCh:
			if err := b.send(b.ctx, frame); err != nil {
				b.handleSendError(frame.Modality, err)
				continue
			}
			if frame.Modality == internal_type.ModalityText {
				b.textSent.Add(1)
			} else {
				b.audioSent.Add(1)
			}
		}
	}
}

// runMediaLoop forwards the most recent accepted video frame. The duplicate
// check against the last forwarded fingerprint runs again here: a frame
// enqueued before its identical predecessor was sent must still be
// suppressed.
func (b *Bridge) runMediaLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.quit:
			return
		case <-b.mediaNotify:
		}

		frame := b.takeMedia()
		if frame == nil {
			continue
		}
		if frame.Fingerprint == b.lastForwarded.Load() {
			b.imagesSkipped.Add(1)
			continue
		}
		if err := b.send(b.ctx, frame); err != nil {
			b.handleSendError(frame.Modality, err)
			continue
		}
		b.lastForwarded.Store(frame.Fingerprint)
		b.imagesSent.Add(1)
	}
}

func (b *Bridge) takeMedia() *internal_type.Frame {
	b.mediaMu.Lock()
	defer b.mediaMu.Unlock()
	frame := b.mediaPending
	b.mediaPending = nil
	return frame
}

func (b *Bridge) handleSendError(modality internal_type.Modality, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	b.sendErrors.Add(1)
	b.logger.Errorw("Failed to forward frame to remote channel",
		"session", b.sessionID, "modality", modality, "error", err)
	if b.onSendError != nil {
		b.onSendError(err)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Close stops both enqueue paths, lets at most one in-flight send per
// modality finish within the grace period, then abandons anything still
// blocked. Safe to call from any goroutine, any number of times.
func (b *Bridge) Close() {
	b.once.Do(func() {
		b.closed.Store(true)
		close(b.quit)

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(b.closeGrace):
			b.logger.Warnw("Bridge close grace expired, abandoning in-flight sends",
				"session", b.sessionID)
		}
		b.cancel()

		b.mediaMu.Lock()
		b.mediaPending = nil
		b.mediaMu.Unlock()

		stats := b.Stats()
		b.logger.Infow("Media bridge closed",
			"session", b.sessionID,
			"audioSent", stats.AudioSent,
			"textSent", stats.TextSent,
			"imagesSent", stats.ImagesSent,
			"imagesSkipped", stats.ImagesSkipped,
			"imagesEvicted", stats.ImagesEvicted,
			"sendErrors", stats.SendErrors)
	})
}

// Closed reports whether teardown has begun.
func (b *Bridge) Closed() bool {
	return b.closed.Load()
}

// Stats returns a snapshot of the per-session counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		AudioSent:     b.audioSent.Load(),
		TextSent:      b.textSent.Load(),
		ImagesSent:    b.imagesSent.Load(),
		ImagesSkipped: b.imagesSkipped.Load(),
		ImagesEvicted: b.imagesEvicted.Load(),
		SendErrors:    b.sendErrors.Load(),
	}
}
