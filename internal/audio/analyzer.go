package audio

import (
	"fmt"
	"math"
)

// maxMagnitude is the largest representable byte magnitude in a frequency bin.
const maxMagnitude = 255

// defaultLevelSlots is the size of the down-sampled visualization vector.
const defaultLevelSlots = 5

// Analyzer computes a normalized loudness energy value from fixed-size windows
// of byte magnitudes. The energy is the arithmetic mean of all bin magnitudes
// normalized by the maximum representable magnitude, yielding a value in
// [0,1]. This is a coarse loudness proxy, deliberately cheap to compute once
// per sampling tick, not a perceptual loudness model.
type Analyzer struct {
	levelSlots int
}

// NewAnalyzer creates an analyzer with the given visualization slot count.
// A non-positive slot count falls back to the default of 5.
func NewAnalyzer(levelSlots int) *Analyzer {
	if levelSlots <= 0 {
		levelSlots = defaultLevelSlots
	}
	return &Analyzer{levelSlots: levelSlots}
}

// Sample returns the normalized energy of one magnitude window in [0,1].
// An empty window has zero energy.
func (a *Analyzer) Sample(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}

	var sum float64
	for _, b := range bins {
		sum += float64(b)
	}

	return sum / float64(len(bins)) / maxMagnitude
}

// Levels returns a small fixed-count down-sampled vector of the window for UI
// metering. Each slot is the normalized mean of its share of the bins. The
// vector is purely derived and has no effect on silence decisions.
func (a *Analyzer) Levels(bins []byte) []float64 {
	levels := make([]float64, a.levelSlots)
	if len(bins) == 0 {
		return levels
	}

	slotSize := len(bins) / a.levelSlots
	if slotSize == 0 {
		slotSize = 1
	}

	for i := 0; i < a.levelSlots; i++ {
		start := i * slotSize
		if start >= len(bins) {
			break
		}
		end := start + slotSize
		if i == a.levelSlots-1 || end > len(bins) {
			end = len(bins)
		}

		var sum float64
		for _, b := range bins[start:end] {
			sum += float64(b)
		}
		levels[i] = sum / float64(end-start) / maxMagnitude
	}

	return levels
}

// LevelSlots returns the visualization vector size.
func (a *Analyzer) LevelSlots() int {
	return a.levelSlots
}

// MagnitudeBins derives a byte magnitude window from a PCM frame of float
// samples in [-1,1]. Each sample's absolute amplitude is scaled to [0,255].
// The window size equals the frame size, so energy values computed from
// consecutive equal-size frames are comparable across calls.
func MagnitudeBins(frame []float32) []byte {
	bins := make([]byte, len(frame))
	for i, s := range frame {
		mag := math.Abs(float64(s)) * maxMagnitude
		if mag > maxMagnitude {
			mag = maxMagnitude
		}
		bins[i] = byte(mag)
	}
	return bins
}

// FrameDuration returns the wall-clock duration of a frame of the given
// sample count at the given rate.
func FrameDuration(samples, sampleRate int) (float64, error) {
	if sampleRate <= 0 {
		return 0, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return float64(samples) / float64(sampleRate), nil
}
