// Package mock provides a scripted capture device for testing without
// microphone hardware.
package mock

import (
	"sync"
	"time"

	"github.com/mylee04/voicepilot/internal/capture"
)

// Device implements capture.Device with scripted frames. Frames are served
// in order and the last one repeats; an optional FailAfter makes Read fail
// once the given number of frames have been served, simulating a device
// dying mid-session.
type Device struct {
	// Frames served in order. When empty, silent frames are served.
	Frames [][]int16

	// FailAfter makes Read return FailWith after this many reads.
	// Zero disables the failure.
	FailAfter int
	FailWith  error

	// OpenErr, when set, is returned by Open.
	OpenErr error

	// ReadDelay paces Read calls so tests don't spin.
	ReadDelay time.Duration

	mu     sync.Mutex
	opened bool
	closed bool
	reads  int
}

var _ capture.Device = (*Device)(nil)

// Open records the acquisition. It never fails unless the device was
// explicitly poisoned with OpenErr.
func (d *Device) Open(sampleRateHz, frameSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.opened = true
	d.closed = false
	d.reads = 0
	return nil
}

// Read serves the next scripted frame.
func (d *Device) Read(buf []int16) error {
	if d.ReadDelay > 0 {
		time.Sleep(d.ReadDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return capture.ErrDeviceUnavailable
	}
	if d.FailAfter > 0 && d.reads >= d.FailAfter {
		err := d.FailWith
		if err == nil {
			err = capture.ErrDeviceUnavailable
		}
		return err
	}

	var frame []int16
	switch {
	case len(d.Frames) == 0:
		// silence
	case d.reads < len(d.Frames):
		frame = d.Frames[d.reads]
	default:
		frame = d.Frames[len(d.Frames)-1]
	}

	for i := range buf {
		buf[i] = 0
	}
	copy(buf, frame)
	d.reads++
	return nil
}

// Close marks the device released. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.opened = false
	return nil
}

// Opened reports whether the device is currently held.
func (d *Device) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Reads returns how many frames have been served.
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}
