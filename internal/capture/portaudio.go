package capture

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice captures from the default system microphone via PortAudio.
type PortAudioDevice struct {
	stream      *portaudio.Stream
	buf         []int16
	initialized bool
}

// NewPortAudioDevice creates an unopened PortAudio device.
func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{}
}

// Open initializes PortAudio and starts a mono input stream.
func (d *PortAudioDevice) Open(sampleRateHz, frameSize int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	d.initialized = true

	d.buf = make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRateHz), frameSize, d.buf)
	if err != nil {
		portaudio.Terminate()
		d.initialized = false
		return classifyOpenError(err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		d.initialized = false
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	d.stream = stream
	return nil
}

// Read blocks until the next frame is available and copies it into buf.
func (d *PortAudioDevice) Read(buf []int16) error {
	if d.stream == nil {
		return ErrDeviceUnavailable
	}
	if len(buf) != len(d.buf) {
		return fmt.Errorf("capture: frame size mismatch: want %d samples, got %d", len(d.buf), len(buf))
	}
	if err := d.stream.Read(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	copy(buf, d.buf)
	return nil
}

// Close stops the stream and tears down PortAudio. Idempotent.
func (d *PortAudioDevice) Close() error {
	var firstErr error
	if d.stream != nil {
		if err := d.stream.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := d.stream.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.stream = nil
	}
	if d.initialized {
		if err := portaudio.Terminate(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.initialized = false
	}
	return firstErr
}

// classifyOpenError maps PortAudio open failures onto the capture error
// taxonomy so callers can distinguish permission problems from missing
// hardware.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
