package capture_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mylee04/voicepilot/internal/capture"
	"github.com/mylee04/voicepilot/internal/capture/mock"
)

// testEncoder passes samples through byte-for-byte so tests can reason
// about chunk sizes.
type testEncoder struct{}

func (testEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = byte(s)
	}
	return out, nil
}

type failingEncoder struct{}

func (failingEncoder) Encode(pcm []int16) ([]byte, error) {
	return nil, errors.New("encode failed")
}

// collectSink buffers capture callbacks for test assertions.
type collectSink struct {
	chunks     chan capture.Chunk
	errs       chan error
	activities atomic.Int64
}

func newCollectSink() *collectSink {
	return &collectSink{
		chunks: make(chan capture.Chunk, 256),
		errs:   make(chan error, 8),
	}
}

func (s *collectSink) OnChunk(c capture.Chunk) {
	select {
	case s.chunks <- c:
	default:
	}
}

func (s *collectSink) OnVoiceActivity(capture.VoiceActivity) {
	s.activities.Add(1)
}

func (s *collectSink) OnCaptureError(err error) {
	s.errs <- err
}

func testConfig() capture.Config {
	return capture.Config{
		SampleRateHz:  1000,
		FrameInterval: time.Millisecond,
		ChunkInterval: 4 * time.Millisecond,
		VADThreshold:  0.015,
		VADHangover:   10 * time.Millisecond,
	}
}

func waitChunk(t *testing.T, sink *collectSink) capture.Chunk {
	t.Helper()
	select {
	case c := <-sink.chunks:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
		return capture.Chunk{}
	}
}

func TestChannelEmitsSequencedChunks(t *testing.T) {
	sink := newCollectSink()
	device := &mock.Device{ReadDelay: time.Millisecond}
	ch := capture.NewChannel(testConfig(), device, testEncoder{}, sink, nil)

	if err := ch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop()

	first := waitChunk(t, sink)
	second := waitChunk(t, sink)

	if first.Seq == 0 {
		t.Error("sequence numbers should start at 1")
	}
	if second.Seq != first.Seq+1 {
		t.Errorf("sequence gap: %d then %d", first.Seq, second.Seq)
	}
	// 4 frames of 1 sample each per chunk with the pass-through encoder.
	if len(first.Data) != 4 {
		t.Errorf("chunk size = %d, want 4", len(first.Data))
	}
	if first.CapturedAt.IsZero() {
		t.Error("chunk missing capture timestamp")
	}
}

func TestChannelPauseSuppressesChunksNotVAD(t *testing.T) {
	sink := newCollectSink()
	device := &mock.Device{ReadDelay: time.Millisecond}
	ch := capture.NewChannel(testConfig(), device, testEncoder{}, sink, nil)

	if err := ch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop()

	waitChunk(t, sink)
	ch.Pause()
	if !ch.Paused() {
		t.Fatal("Paused() = false after Pause")
	}

	// Drain anything emitted before the pause took effect, then verify
	// silence on the chunk stream while VAD keeps running.
	time.Sleep(20 * time.Millisecond)
	for len(sink.chunks) > 0 {
		<-sink.chunks
	}
	before := sink.activities.Load()
	time.Sleep(30 * time.Millisecond)
	if len(sink.chunks) != 0 {
		t.Error("chunks emitted while paused")
	}
	if sink.activities.Load() <= before {
		t.Error("voice activity stopped while paused")
	}

	ch.Resume()
	if ch.Paused() {
		t.Fatal("Paused() = true after Resume")
	}
	waitChunk(t, sink)
}

func TestChannelStopIdempotent(t *testing.T) {
	sink := newCollectSink()
	device := &mock.Device{ReadDelay: time.Millisecond}
	ch := capture.NewChannel(testConfig(), device, testEncoder{}, sink, nil)

	if err := ch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitChunk(t, sink)

	ch.Stop()
	ch.Stop()

	if device.Opened() {
		t.Error("device still open after Stop")
	}
	if ch.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestChannelStopWithoutStart(t *testing.T) {
	ch := capture.NewChannel(testConfig(), &mock.Device{}, testEncoder{}, newCollectSink(), nil)
	ch.Stop() // must not panic
}

func TestChannelStartTwice(t *testing.T) {
	sink := newCollectSink()
	ch := capture.NewChannel(testConfig(), &mock.Device{ReadDelay: time.Millisecond}, testEncoder{}, sink, nil)

	if err := ch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop()

	if err := ch.Start(); !errors.Is(err, capture.ErrAlreadyStarted) {
		t.Fatalf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestChannelOpenFailure(t *testing.T) {
	device := &mock.Device{OpenErr: capture.ErrPermissionDenied}
	ch := capture.NewChannel(testConfig(), device, testEncoder{}, newCollectSink(), nil)

	err := ch.Start()
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start error = %v, want ErrPermissionDenied", err)
	}
	if ch.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestChannelDeviceFailureSurfaced(t *testing.T) {
	sink := newCollectSink()
	device := &mock.Device{ReadDelay: time.Millisecond, FailAfter: 3}
	ch := capture.NewChannel(testConfig(), device, testEncoder{}, sink, nil)

	if err := ch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop()

	select {
	case err := <-sink.errs:
		if !errors.Is(err, capture.ErrDeviceUnavailable) {
			t.Errorf("capture error = %v, want ErrDeviceUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for capture error")
	}
}

func TestChannelEncodeFailureDropsChunk(t *testing.T) {
	sink := newCollectSink()
	device := &mock.Device{ReadDelay: time.Millisecond}
	ch := capture.NewChannel(testConfig(), device, failingEncoder{}, sink, nil)

	if err := ch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop()

	time.Sleep(30 * time.Millisecond)
	if len(sink.chunks) != 0 {
		t.Error("chunks emitted despite encoder failure")
	}
	if len(sink.errs) != 0 {
		t.Error("encode failure should not surface as a capture error")
	}
}
