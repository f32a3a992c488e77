// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_bridge

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	internal_type "github.com/rapidaai/live-bridge/api/bridge-api/internal/type"
	"github.com/rapidaai/live-bridge/pkg/commons"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================================
// Test helpers
// ============================================================================

// frameRecorder collects every frame the bridge forwards.
type frameRecorder struct {
	mu     sync.Mutex
	frames []*internal_type.Frame

	// gate, when non-nil, blocks each send until released.
	gate chan struct{}
}

func (r *frameRecorder) send(ctx context.Context, frame *internal_type.Frame) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *frameRecorder) sent() []*internal_type.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*internal_type.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func newTestBridge(t *testing.T, rec *frameRecorder, opts ...Option) *Bridge {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	b := NewBridge(logger, "test-session", rec.send, opts...)
	t.Cleanup(b.Close)
	return b
}

// testPNG renders a small solid-color PNG.
func testPNG(t *testing.T, c color.Color, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// ============================================================================
// Ordered queue (audio + text)
// ============================================================================

func TestEnqueueAudio_ForwardsInOrder(t *testing.T) {
	rec := &frameRecorder{}
	b := newTestBridge(t, rec)

	for i := 0; i < 10; i++ {
		err := b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{byte(i)}, "audio/pcm;rate=16000"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return rec.count() == 10 }, time.Second, 5*time.Millisecond)

	frames := rec.sent()
	for i, frame := range frames {
		assert.Equal(t, internal_type.ModalityAudio, frame.Modality)
		assert.Equal(t, []byte{byte(i)}, frame.Payload, "FIFO order must hold within the audio queue")
	}
	assert.Equal(t, uint64(10), b.Stats().AudioSent)
}

func TestEnqueueText_SharesQueueWithAudio(t *testing.T) {
	rec := &frameRecorder{gate: make(chan struct{})}
	b := newTestBridge(t, rec)

	require.NoError(t, b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{1}, "audio/pcm;rate=16000")))
	require.NoError(t, b.EnqueueText(context.Background(), "hello"))
	close(rec.gate)

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	frames := rec.sent()
	assert.Equal(t, internal_type.ModalityAudio, frames[0].Modality, "text must queue behind earlier audio")
	assert.Equal(t, internal_type.ModalityText, frames[1].Modality)
	assert.Equal(t, "hello", frames[1].Text)
	assert.Equal(t, uint64(1), b.Stats().TextSent)
}

func TestEnqueueAudio_BlocksWhenQueueFull(t *testing.T) {
	rec := &frameRecorder{gate: make(chan struct{})}
	b := newTestBridge(t, rec, WithAudioQueueCapacity(2))

	// One frame is pulled into the blocked send; two more fill the queue.
	for i := 0; i < 3; i++ {
		require.NoError(t, b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{byte(i)}, "audio/pcm;rate=16000")))
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{9}, "audio/pcm;rate=16000"))
	}()

	select {
	case err := <-blocked:
		t.Fatalf("enqueue should have blocked on a full queue, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(rec.gate)
	select {
	case err := <-blocked:
		require.NoError(t, err, "enqueue must complete once a slot frees")
	case <-time.After(time.Second):
		t.Fatal("enqueue never unblocked after the queue drained")
	}
}

func TestEnqueueAudio_ContextCancelUnblocks(t *testing.T) {
	rec := &frameRecorder{gate: make(chan struct{})}
	defer close(rec.gate)
	b := newTestBridge(t, rec, WithAudioQueueCapacity(1))

	require.NoError(t, b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{0}, "audio/pcm;rate=16000")))
	require.NoError(t, b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{1}, "audio/pcm;rate=16000")))

	ctx, cancel := context.WithCancel(context.Background())
	blocked := make(chan error, 1)
	go func() {
		blocked <- b.EnqueueAudio(ctx, internal_type.AudioFrame([]byte{2}, "audio/pcm;rate=16000"))
	}()

	cancel()
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled enqueue never returned")
	}
}

func TestEnqueue_AfterCloseReturnsErrBridgeClosed(t *testing.T) {
	rec := &frameRecorder{}
	b := newTestBridge(t, rec)
	b.Close()

	err := b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{0}, "audio/pcm;rate=16000"))
	assert.ErrorIs(t, err, ErrBridgeClosed)

	assert.ErrorIs(t, b.EnqueueText(context.Background(), "late"), ErrBridgeClosed)
	assert.ErrorIs(t, b.EnqueueVideo(testPNG(t, color.White, 4, 4)), ErrBridgeClosed)
}

func TestEnqueue_RacingCloseNeverReportsSuccess(t *testing.T) {
	// Shutdown begun (quit closed) but the closed flag not yet observed by
	// the enqueue path. The channel send can still win the select; the frame
	// would sit in a queue no consumer will drain, so the enqueue must
	// report the bridge as closed either way.
	for i := 0; i < 100; i++ {
		b := &Bridge{
			quit:    make(chan struct{}),
			audioCh: make(chan *internal_type.Frame, 1),
		}
		close(b.quit)

		err := b.enqueueOrdered(context.Background(), internal_type.TextFrame("late"))
		require.ErrorIs(t, err, ErrBridgeClosed)
	}
}

// ============================================================================
// Video queue
// ============================================================================

func TestEnqueueVideo_DropOldestUnderBlockedSend(t *testing.T) {
	rec := &frameRecorder{gate: make(chan struct{})}
	b := newTestBridge(t, rec)

	red := testPNG(t, color.RGBA{R: 255, A: 255}, 8, 8)
	green := testPNG(t, color.RGBA{G: 255, A: 255}, 8, 8)
	blue := testPNG(t, color.RGBA{B: 255, A: 255}, 8, 8)

	// First frame is picked up and parks in the gated send.
	require.NoError(t, b.EnqueueVideo(red))
	require.Eventually(t, func() bool {
		b.mediaMu.Lock()
		defer b.mediaMu.Unlock()
		return b.mediaPending == nil
	}, time.Second, time.Millisecond, "media loop should take the first frame")

	// Two more arrive while the send is blocked: the older pending one loses.
	require.NoError(t, b.EnqueueVideo(green))
	require.NoError(t, b.EnqueueVideo(blue))

	rec.gate <- struct{}{} // release red
	rec.gate <- struct{}{} // release blue

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.ImagesSent)
	assert.Equal(t, uint64(1), stats.ImagesEvicted, "the unsent middle frame must be evicted")
}

func TestEnqueueVideo_IdenticalFramesForwardedOnce(t *testing.T) {
	rec := &frameRecorder{}
	b := newTestBridge(t, rec)

	frame := testPNG(t, color.RGBA{R: 40, G: 80, B: 120, A: 255}, 16, 16)

	require.NoError(t, b.EnqueueVideo(frame))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 59; i++ {
		require.NoError(t, b.EnqueueVideo(frame))
	}

	// No further sends: duplicates never reach the wire.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count(), "identical consecutive frames must be forwarded at most once")

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.ImagesSent)
	assert.Equal(t, uint64(59), stats.ImagesSkipped)
}

func TestEnqueueVideo_ChangedFrameForwardedAgain(t *testing.T) {
	rec := &frameRecorder{}
	b := newTestBridge(t, rec)

	first := testPNG(t, color.RGBA{R: 255, A: 255}, 8, 8)
	second := testPNG(t, color.RGBA{G: 255, A: 255}, 8, 8)

	require.NoError(t, b.EnqueueVideo(first))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.EnqueueVideo(second))
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	frames := rec.sent()
	assert.Equal(t, internal_type.ModalityVideo, frames[0].Modality)
	assert.Equal(t, "image/jpeg", frames[0].MIMEType)
	assert.NotEqual(t, frames[0].Fingerprint, frames[1].Fingerprint)
}

func TestEnqueueVideo_CorruptFrameDropped(t *testing.T) {
	rec := &frameRecorder{}
	b := newTestBridge(t, rec)

	err := b.EnqueueVideo([]byte("definitely not an image"))
	require.Error(t, err)

	var condErr *ConditioningError
	assert.ErrorAs(t, err, &condErr, "corrupt frames surface a conditioning error")
	assert.False(t, b.Closed(), "a bad frame must not terminate the bridge")

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count())
}

// ============================================================================
// Modality independence
// ============================================================================

func TestVideoSendDoesNotBlockAudio(t *testing.T) {
	videoGate := make(chan struct{})

	var audioCount int
	var mu sync.Mutex
	send := func(ctx context.Context, frame *internal_type.Frame) error {
		if frame.Modality == internal_type.ModalityVideo {
			<-videoGate
			return nil
		}
		mu.Lock()
		audioCount++
		mu.Unlock()
		return nil
	}

	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	b := NewBridge(logger, "test-session", send)
	defer b.Close()

	require.NoError(t, b.EnqueueVideo(testPNG(t, color.White, 8, 8)))

	// Audio keeps flowing while the video send is parked.
	for i := 0; i < 5; i++ {
		require.NoError(t, b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{byte(i)}, "audio/pcm;rate=16000")))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return audioCount == 5
	}, time.Second, 5*time.Millisecond, "a stalled video send must not delay audio")

	close(videoGate)
}

// ============================================================================
// Error handling and close
// ============================================================================

func TestSendError_ReportedAndCounted(t *testing.T) {
	sendErr := errors.New("stream torn down")
	send := func(ctx context.Context, frame *internal_type.Frame) error {
		return sendErr
	}

	reported := make(chan error, 1)
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	b := NewBridge(logger, "test-session", send, WithErrorHandler(func(e error) {
		select {
		case reported <- e:
		default:
		}
	}))
	defer b.Close()

	require.NoError(t, b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{1}, "audio/pcm;rate=16000")))

	select {
	case e := <-reported:
		assert.ErrorIs(t, e, sendErr)
	case <-time.After(time.Second):
		t.Fatal("error handler never invoked")
	}
	require.Eventually(t, func() bool { return b.Stats().SendErrors == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, b.Stats().AudioSent)
}

func TestClose_Idempotent(t *testing.T) {
	rec := &frameRecorder{}
	b := newTestBridge(t, rec)

	b.Close()
	b.Close()
	assert.True(t, b.Closed())
}

func TestClose_ConcurrentCallers(t *testing.T) {
	rec := &frameRecorder{}
	b := newTestBridge(t, rec)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Close()
		}()
	}
	wg.Wait()
	assert.True(t, b.Closed())
}

func TestClose_UnblocksPendingEnqueue(t *testing.T) {
	rec := &frameRecorder{gate: make(chan struct{})}
	b := newTestBridge(t, rec, WithAudioQueueCapacity(1), WithCloseGrace(50*time.Millisecond))

	require.NoError(t, b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{0}, "audio/pcm;rate=16000")))
	require.NoError(t, b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{1}, "audio/pcm;rate=16000")))

	blocked := make(chan error, 1)
	go func() {
		blocked <- b.EnqueueAudio(context.Background(), internal_type.AudioFrame([]byte{2}, "audio/pcm;rate=16000"))
	}()
	time.Sleep(20 * time.Millisecond)

	b.Close()
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrBridgeClosed)
	case <-time.After(time.Second):
		t.Fatal("pending enqueue not released by close")
	}
	close(rec.gate)
}
