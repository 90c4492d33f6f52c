package vad

import (
	"fmt"
	"sync"
	"time"
)

// Default detection parameters.
const (
	DefaultThreshold = 0.05
	DefaultHold      = 2 * time.Second
)

// Signal is the detector's verdict for one energy observation
type Signal int

const (
	// SignalContinue means recording should keep going
	SignalContinue Signal = iota
	// SignalStop means the hold duration of uninterrupted silence has
	// elapsed and the recording should be finalized
	SignalStop
)

func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "continue"
	case SignalStop:
		return "stop"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Detector tracks runs of low-energy observations during an active recording
type Detector struct {
	threshold float64
	hold      time.Duration

	recording  bool
	quietSince time.Time
	inQuiet    bool
	fired      bool

	// Statistics
	totalObservations uint64
	quietObservations uint64
	stopsFired        uint64
	lastObserved      time.Time

	mu sync.Mutex
}

// DetectorStats represents detector statistics for monitoring
type DetectorStats struct {
	Threshold         float64   `json:"threshold"`
	HoldMs            int64     `json:"hold_ms"`
	Recording         bool      `json:"recording"`
	TotalObservations uint64    `json:"total_observations"`
	QuietObservations uint64    `json:"quiet_observations"`
	StopsFired        uint64    `json:"stops_fired"`
	LastObserved      time.Time `json:"last_observed"`
}

// NewDetector creates a silence detector with the given threshold and hold
// duration. The threshold is the exclusive lower bound for sound: energy
// strictly below it counts as silence, energy at or above it counts as sound.
func NewDetector(threshold float64, hold time.Duration) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if hold <= 0 {
		return nil, fmt.Errorf("hold duration must be positive, got %v", hold)
	}

	return &Detector{
		threshold: threshold,
		hold:      hold,
	}, nil
}

// SetRecording gates the detector. While not recording, observations are
// counted but never accumulate quiet time and never produce a stop. Entering
// or leaving the recording state clears all quiet-run state.
func (d *Detector) SetRecording(recording bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.recording = recording
	d.inQuiet = false
	d.fired = false
}

// Recording reports whether the detector is currently gating on
func (d *Detector) Recording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recording
}

// Observe feeds one energy sample taken at the given time and returns the
// resulting signal. At most one SignalStop is returned per recording; the
// caller is expected to finalize the recording and call SetRecording(false).
func (d *Detector) Observe(energy float64, now time.Time) Signal {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalObservations++
	d.lastObserved = now

	if !d.recording || d.fired {
		return SignalContinue
	}

	if energy >= d.threshold {
		// Sound resets the quiet run entirely
		d.inQuiet = false
		return SignalContinue
	}

	d.quietObservations++

	if !d.inQuiet {
		d.inQuiet = true
		d.quietSince = now
		return SignalContinue
	}

	if now.Sub(d.quietSince) >= d.hold {
		d.fired = true
		d.stopsFired++
		return SignalStop
	}

	return SignalContinue
}

// Threshold returns the configured silence threshold
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Hold returns the configured hold duration
func (d *Detector) Hold() time.Duration {
	return d.hold
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DetectorStats{
		Threshold:         d.threshold,
		HoldMs:            d.hold.Milliseconds(),
		Recording:         d.recording,
		TotalObservations: d.totalObservations,
		QuietObservations: d.quietObservations,
		StopsFired:        d.stopsFired,
		LastObserved:      d.lastObserved,
	}
}
