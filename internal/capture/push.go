package capture

import (
	"io"
	"sync"
)

// PushSource is a Source fed by an external producer, typically the
// websocket handler receiving binary PCM frames from a browser peer.
type PushSource struct {
	sampleRate int
	tracks     int

	frames chan []float32

	closeOnce sync.Once
	done      chan struct{}

	mu    sync.Mutex
	ended bool
}

// NewPushSource creates a push source with the given sample rate, track
// count, and frame queue depth.
func NewPushSource(sampleRate, tracks, queueDepth int) *PushSource {
	if queueDepth <= 0 {
		queueDepth = 16
	}
	return &PushSource{
		sampleRate: sampleRate,
		tracks:     tracks,
		frames:     make(chan []float32, queueDepth),
		done:       make(chan struct{}),
	}
}

// Push queues one frame for consumption. It returns false once the source
// has been closed or ended; the frame is dropped in that case.
func (p *PushSource) Push(frame []float32) bool {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	select {
	case p.frames <- frame:
		return true
	case <-p.done:
		return false
	}
}

// End marks the normal end of input. Queued frames remain readable and
// ReadFrame returns io.EOF once they are drained.
func (p *PushSource) End() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return
	}
	p.ended = true
	close(p.frames)
}

// ReadFrame returns the next pushed frame, io.EOF after End once the queue
// drains, or ErrClosed after Close.
func (p *PushSource) ReadFrame() ([]float32, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	select {
	case frame, ok := <-p.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-p.done:
		return nil, ErrClosed
	}
}

// AudioTracks reports the configured track count
func (p *PushSource) AudioTracks() int {
	return p.tracks
}

// SampleRate returns the configured sample rate
func (p *PushSource) SampleRate() int {
	return p.sampleRate
}

// Close abandons the source. Pending and future reads fail with ErrClosed.
func (p *PushSource) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}
