package capture

import "errors"

// ErrClosed is returned by ReadFrame after the source has been closed.
var ErrClosed = errors.New("capture: source closed")

// Source is a stream of fixed-size PCM frames from some audio input.
// ReadFrame blocks until a frame is available, returns io.EOF when the
// input ends normally, and ErrClosed after Close.
type Source interface {
	// ReadFrame returns the next frame of float32 samples in [-1,1].
	ReadFrame() ([]float32, error)

	// AudioTracks reports the number of audio tracks the source carries.
	AudioTracks() int

	// SampleRate returns the source's sample rate in Hz.
	SampleRate() int

	// Close releases the source. Subsequent ReadFrame calls fail.
	Close() error
}
