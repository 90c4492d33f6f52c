package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const micQueueDepth = 32

// MicSource captures frames from the default system microphone via
// PortAudio. Frames arrive on the PortAudio callback goroutine and are
// queued for ReadFrame; if the consumer falls behind, the oldest queued
// frame is dropped rather than blocking the audio callback.
type MicSource struct {
	sampleRate int
	channels   int
	frameSize  int

	stream *portaudio.Stream
	frames chan []float32

	closeOnce sync.Once
	done      chan struct{}

	dropped uint64
	mu      sync.Mutex
}

// NewMicSource opens the default input device and starts capturing.
func NewMicSource(sampleRate, channels, frameSize int) (*MicSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio subsystem: %w", err)
	}

	m := &MicSource{
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
		frames:     make(chan []float32, micQueueDepth),
		done:       make(chan struct{}),
	}

	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), frameSize, m.onFrame)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	m.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	slog.Debug("Microphone capture started",
		"sample_rate", sampleRate,
		"channels", channels,
		"frame_size", frameSize)

	return m, nil
}

func (m *MicSource) onFrame(in []float32) {
	frame := make([]float32, len(in))
	copy(frame, in)

	select {
	case <-m.done:
	case m.frames <- frame:
	default:
		// Consumer is behind: drop the oldest frame to make room
		select {
		case <-m.frames:
			m.mu.Lock()
			m.dropped++
			m.mu.Unlock()
		default:
		}
		select {
		case m.frames <- frame:
		default:
		}
	}
}

// ReadFrame returns the next captured frame or ErrClosed after Close
func (m *MicSource) ReadFrame() ([]float32, error) {
	select {
	case frame := <-m.frames:
		return frame, nil
	case <-m.done:
		return nil, ErrClosed
	}
}

// AudioTracks reports the number of input channels
func (m *MicSource) AudioTracks() int {
	return m.channels
}

// SampleRate returns the capture sample rate
func (m *MicSource) SampleRate() int {
	return m.sampleRate
}

// DroppedFrames returns the number of frames discarded due to backpressure
func (m *MicSource) DroppedFrames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close stops the stream and releases the audio subsystem
func (m *MicSource) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		if stopErr := m.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop input stream: %w", stopErr)
		}
		if closeErr := m.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close input stream: %w", closeErr)
		}
		portaudio.Terminate()
	})
	return err
}

// ListInputDevices enumerates available capture devices
func ListInputDevices() ([]*portaudio.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio subsystem: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	inputs := make([]*portaudio.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}
	return inputs, nil
}
