// Package capture owns the microphone stream. It emits fixed-size audio
// chunks on a steady cadence, runs voice activity detection on a faster
// per-frame cadence over the same stream, and surfaces fatal device errors
// to the session controller.
package capture

import (
	"errors"
	"time"
)

// Errors surfaced by capture devices. Both are fatal: the channel reports
// them once and does not self-heal.
var (
	ErrPermissionDenied  = errors.New("capture: microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture: audio device unavailable")
	ErrAlreadyStarted    = errors.New("capture: channel already started")
)

// Chunk is an immutable audio buffer with a monotonically increasing
// sequence number. Consumers must not retain it past transmission.
type Chunk struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
}

// VoiceActivity is the advisory VAD signal recomputed each analysis frame.
// It never gates chunk transmission.
type VoiceActivity struct {
	Active       bool
	LastActiveAt time.Time
	Energy       float64
}

// Device abstracts the underlying audio input. The device handle is
// exclusively owned by the Channel that opened it.
type Device interface {
	// Open acquires the input device for the given sample rate and
	// per-read frame size in samples.
	Open(sampleRateHz, frameSize int) error

	// Read fills buf with the next frame of samples. It blocks until a
	// full frame is available.
	Read(buf []int16) error

	Close() error
}

// Encoder turns raw PCM frames into the outbound wire payload.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Sink receives capture output. Callbacks are invoked from the channel's
// capture goroutine, one at a time.
type Sink interface {
	OnChunk(Chunk)
	OnVoiceActivity(VoiceActivity)
	OnCaptureError(err error)
}
