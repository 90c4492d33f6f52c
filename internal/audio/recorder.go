package audio

import (
	"fmt"
	"sync"
	"time"
)

// Recorder accumulates PCM-16 audio for one recording take
type Recorder struct {
	sampleRate int

	samples     []int16
	frameCount  uint64
	lastAppend  time.Time
	startedAt   time.Time

	mu sync.RWMutex
}

// RecorderStats represents recorder statistics for monitoring
type RecorderStats struct {
	SampleRate  int     `json:"sample_rate"`
	Samples     int     `json:"samples"`
	Frames      uint64  `json:"frames"`
	DurationSec float64 `json:"duration_sec"`
}

// NewRecorder creates a recorder for the given sample rate
func NewRecorder(sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Recorder{
		sampleRate: sampleRate,
		samples:    make([]int16, 0, sampleRate*2), // Pre-allocate for 2 seconds
		startedAt:  time.Now(),
	}, nil
}

// Append adds a frame of PCM-16 samples to the recording
func (r *Recorder) Append(frame []int16) {
	if len(frame) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, frame...)
	r.frameCount++
	r.lastAppend = time.Now()
}

// AppendFloat converts a float32 frame to PCM-16 and appends it
func (r *Recorder) AppendFloat(frame []float32) {
	if len(frame) == 0 {
		return
	}
	r.Append(FloatToPCM16(frame))
}

// Len returns the number of accumulated samples
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

// Duration returns the recorded duration based on sample count
func (r *Recorder) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seconds := float64(len(r.samples)) / float64(r.sampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// Samples returns a copy of the accumulated samples
func (r *Recorder) Samples() []int16 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int16, len(r.samples))
	copy(out, r.samples)
	return out
}

// WAV encodes the accumulated samples as a WAV file
func (r *Recorder) WAV() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.samples) == 0 {
		return nil, fmt.Errorf("no audio recorded")
	}

	return EncodeWAV(r.samples, r.sampleRate)
}

// Reset discards all accumulated audio and starts a new take
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = r.samples[:0]
	r.frameCount = 0
	r.startedAt = time.Now()
}

// SampleRate returns the configured sample rate
func (r *Recorder) SampleRate() int {
	return r.sampleRate
}

// GetStats returns current recorder statistics
func (r *Recorder) GetStats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RecorderStats{
		SampleRate:  r.sampleRate,
		Samples:     len(r.samples),
		Frames:      r.frameCount,
		DurationSec: float64(len(r.samples)) / float64(r.sampleRate),
	}
}
