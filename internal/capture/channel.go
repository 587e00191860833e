package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mylee04/voicepilot/internal/observability/logging"
	"github.com/mylee04/voicepilot/internal/observability/metrics"
)

// Config holds capture channel configuration.
type Config struct {
	SampleRateHz  int
	FrameInterval time.Duration // device read / VAD cadence
	ChunkInterval time.Duration // chunk emission cadence
	VADThreshold  float64
	VADHangover   time.Duration
}

// Channel reads frames from a Device, runs VAD per frame, and emits encoded
// chunks every ChunkInterval. Pause suspends chunk emission without
// releasing the device; Stop releases everything and is idempotent.
type Channel struct {
	cfg     Config
	device  Device
	encoder Encoder
	sink    Sink
	archive *Archive // optional
	logger  zerolog.Logger

	paused  atomic.Bool
	stopped atomic.Bool
	started bool

	seq  uint64
	done chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
}

// NewChannel creates a capture channel. archive may be nil.
func NewChannel(cfg Config, device Device, encoder Encoder, sink Sink, archive *Archive) *Channel {
	return &Channel{
		cfg:     cfg,
		device:  device,
		encoder: encoder,
		sink:    sink,
		archive: archive,
		logger:  logging.WithComponent("capture"),
	}
}

// Start opens the device and begins the capture loop. It fails with
// ErrPermissionDenied or ErrDeviceUnavailable when the device cannot be
// acquired, and with ErrAlreadyStarted on a second call.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started && !c.stopped.Load() {
		return ErrAlreadyStarted
	}

	frameSize := c.frameSize()
	if err := c.device.Open(c.cfg.SampleRateHz, frameSize); err != nil {
		return fmt.Errorf("opening device: %w", err)
	}

	c.started = true
	c.stopped.Store(false)
	c.paused.Store(false)
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.captureLoop(frameSize)

	c.logger.Info().
		Int("sampleRateHz", c.cfg.SampleRateHz).
		Int("frameSize", frameSize).
		Dur("chunkInterval", c.cfg.ChunkInterval).
		Msg("Capture channel started")

	return nil
}

// Pause suspends chunk emission. The device stays open and VAD keeps
// running, so Resume pays no restart latency.
func (c *Channel) Pause() {
	if c.paused.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("Capture paused")
	}
}

// Resume continues chunk emission after a Pause.
func (c *Channel) Resume() {
	if c.paused.CompareAndSwap(true, false) {
		c.logger.Debug().Msg("Capture resumed")
	}
}

// Paused reports whether chunk emission is currently suspended.
func (c *Channel) Paused() bool {
	return c.paused.Load()
}

// Running reports whether the capture loop is live.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped.Load()
}

// Stop releases the device and all analysis resources. Idempotent, and a
// no-op when the channel never started.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if !c.stopped.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	if c.done != nil {
		close(c.done)
	}
	c.mu.Unlock()

	c.wg.Wait()

	if err := c.device.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Error closing capture device")
	}
	if c.archive != nil {
		if err := c.archive.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing capture archive")
		}
	}

	c.logger.Info().Uint64("chunksEmitted", atomic.LoadUint64(&c.seq)).Msg("Capture channel stopped")
}

func (c *Channel) frameSize() int {
	n := int(float64(c.cfg.SampleRateHz) * c.cfg.FrameInterval.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Channel) framesPerChunk() int {
	n := int(c.cfg.ChunkInterval / c.cfg.FrameInterval)
	if n < 1 {
		n = 1
	}
	return n
}

// captureLoop is the single goroutine that touches the device after Start.
func (c *Channel) captureLoop(frameSize int) {
	defer c.wg.Done()

	detector := NewDetector(c.cfg.VADThreshold, c.cfg.VADHangover)
	frame := make([]int16, frameSize)
	pending := make([]int16, 0, frameSize*c.framesPerChunk())
	framesPerChunk := c.framesPerChunk()
	frames := 0

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.device.Read(frame); err != nil {
			if c.stopped.Load() {
				return
			}
			metrics.Default.CaptureErrors.Inc()
			c.logger.Error().Err(err).Msg("Capture device failed")
			c.sink.OnCaptureError(fmt.Errorf("reading device: %w", err))
			return
		}

		activity := detector.Process(frame, time.Now())
		metrics.Default.RecordVoiceActive(activity.Active)
		c.sink.OnVoiceActivity(activity)

		if c.archive != nil {
			if err := c.archive.WriteFrame(frame); err != nil {
				c.logger.Warn().Err(err).Msg("Capture archive write failed")
			}
		}

		if c.paused.Load() {
			// Drop accumulated samples so a resume starts a clean chunk.
			pending = pending[:0]
			frames = 0
			continue
		}

		pending = append(pending, frame...)
		frames++

		if frames >= framesPerChunk {
			c.emitChunk(pending)
			pending = pending[:0]
			frames = 0
		}
	}
}

func (c *Channel) emitChunk(pcm []int16) {
	payload, err := c.encoder.Encode(pcm)
	if err != nil {
		metrics.Default.RecordChunkDropped("encode_error")
		c.logger.Warn().Err(err).Msg("Chunk encode failed, dropping")
		return
	}

	chunk := Chunk{
		Data:       payload,
		Seq:        atomic.AddUint64(&c.seq, 1),
		CapturedAt: time.Now(),
	}
	metrics.Default.ChunksCaptured.Inc()
	c.sink.OnChunk(chunk)
}
