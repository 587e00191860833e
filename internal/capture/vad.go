package capture

import (
	"math"
	"time"
)

// Detector implements energy-based voice activity detection. Activity
// transitions true as soon as the short-time RMS energy of a frame crosses
// the threshold, and transitions false only after the hangover window of
// sub-threshold frames, so natural speech pauses do not chatter the signal.
type Detector struct {
	threshold float64
	hangover  time.Duration

	active       bool
	lastAbove    time.Time
	lastActiveAt time.Time
}

// NewDetector creates a detector with the given normalized energy threshold
// (0..1) and hangover window.
func NewDetector(threshold float64, hangover time.Duration) *Detector {
	return &Detector{
		threshold: threshold,
		hangover:  hangover,
	}
}

// Process classifies one analysis frame and returns the updated signal.
func (d *Detector) Process(frame []int16, now time.Time) VoiceActivity {
	energy := rmsEnergy(frame)

	if energy >= d.threshold {
		d.active = true
		d.lastAbove = now
		d.lastActiveAt = now
	} else if d.active && now.Sub(d.lastAbove) >= d.hangover {
		d.active = false
	}

	return VoiceActivity{
		Active:       d.active,
		LastActiveAt: d.lastActiveAt,
		Energy:       energy,
	}
}

// Active returns the current classification without processing a frame.
func (d *Detector) Active() bool {
	return d.active
}

// rmsEnergy computes the root-mean-square energy of a frame, normalized to
// the int16 full-scale range so the result is in [0,1].
func rmsEnergy(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(frame))) / 32768.0
}
