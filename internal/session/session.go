package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casebase/voicechat/internal/audio"
	"github.com/casebase/voicechat/internal/capture"
	"github.com/casebase/voicechat/internal/transcription"
	"github.com/casebase/voicechat/internal/vad"
)

// StopReason explains why a session ended
type StopReason string

const (
	// StopSilence means the silence detector fired.
	StopSilence StopReason = "silence"
	// StopSource means the capture source ended.
	StopSource StopReason = "source_ended"
	// StopRequested means the user or manager stopped the session.
	StopRequested StopReason = "requested"
	// StopFailed means the streaming client failed.
	StopFailed StopReason = "failed"
)

// EventType discriminates session events
type EventType string

const (
	// EventLevel carries the latest energy reading and level vector.
	EventLevel EventType = "level"
	// EventInterim carries a provisional transcript fragment.
	EventInterim EventType = "interim"
	// EventTranscript carries the accumulated finalized transcript.
	EventTranscript EventType = "transcript"
	// EventStopped is the terminal event; it carries the final transcript
	// and the stop reason.
	EventStopped EventType = "stopped"
)

// Event is one update from a running session
type Event struct {
	Type   EventType  `json:"type"`
	Energy float64    `json:"energy,omitempty"`
	Levels []float64  `json:"levels,omitempty"`
	Text   string     `json:"text,omitempty"`
	Reason StopReason `json:"reason,omitempty"`
	Err    error      `json:"-"`
}

// Config contains session parameters
type Config struct {
	SilenceThreshold float64
	SilenceHold      time.Duration
	LevelSlots       int
}

// Session is one voice recording take from start to finalized transcript
type Session struct {
	id       string
	source   capture.Source
	stream   *transcription.StreamClient
	analyzer *audio.Analyzer
	detector *vad.Detector
	recorder *audio.Recorder

	events chan Event
	done   chan struct{}

	stopOnce sync.Once
	result   string
	reason   StopReason

	startedAt time.Time
	frames    uint64

	mu sync.Mutex
}

const sessionEventDepth = 64

// New creates a session over the given source and streaming client
func New(source capture.Source, stream *transcription.StreamClient, cfg Config) (*Session, error) {
	if source == nil {
		return nil, fmt.Errorf("capture source cannot be nil")
	}

	if stream == nil {
		return nil, fmt.Errorf("streaming client cannot be nil")
	}

	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = vad.DefaultThreshold
	}
	if cfg.SilenceHold == 0 {
		cfg.SilenceHold = vad.DefaultHold
	}

	detector, err := vad.NewDetector(cfg.SilenceThreshold, cfg.SilenceHold)
	if err != nil {
		return nil, err
	}

	recorder, err := audio.NewRecorder(source.SampleRate())
	if err != nil {
		return nil, err
	}

	return &Session{
		id:       uuid.NewString(),
		source:   source,
		stream:   stream,
		analyzer: audio.NewAnalyzer(cfg.LevelSlots),
		detector: detector,
		recorder: recorder,
		events:   make(chan Event, sessionEventDepth),
		done:     make(chan struct{}),
	}, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Events returns the session's event channel. It is closed after the
// stopped event.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the session has fully ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session until silence, source end, stop, or failure. It
// owns the event channel and closes it on return.
func (s *Session) Run(ctx context.Context) error {
	if err := s.stream.Start(ctx, s.source.AudioTracks()); err != nil {
		close(s.events)
		close(s.done)
		return err
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.detector.SetRecording(true)

	slog.Info("Recording session started", "session_id", s.id)

	// Relay transcript events from the streaming client.
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for ev := range s.stream.Events() {
			switch ev.Type {
			case transcription.EventInterim:
				s.emit(Event{Type: EventInterim, Text: ev.Text})
			case transcription.EventFinal:
				s.emit(Event{Type: EventTranscript, Text: ev.Text})
			case transcription.EventError:
				slog.Error("Streaming transcription failed",
					"session_id", s.id, "error", ev.Err)
			}
		}
	}()

	reason := s.pumpFrames(ctx)

	transcript := s.finalize(reason)

	<-relayDone

	s.emit(Event{Type: EventStopped, Text: transcript, Reason: reason})
	close(s.events)
	close(s.done)

	slog.Info("Recording session ended",
		"session_id", s.id,
		"reason", reason,
		"transcript_len", len(transcript))

	return nil
}

// pumpFrames reads and processes frames until something ends the session
func (s *Session) pumpFrames(ctx context.Context) StopReason {
	for {
		select {
		case <-ctx.Done():
			return StopRequested
		default:
		}

		frame, err := s.source.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return StopSource
			}
			if errors.Is(err, capture.ErrClosed) {
				return StopRequested
			}
			slog.Error("Capture source failed", "session_id", s.id, "error", err)
			return StopFailed
		}

		if err := s.stream.SendFrame(frame); err != nil {
			slog.Error("Failed to forward frame", "session_id", s.id, "error", err)
			return StopFailed
		}

		s.recorder.AppendFloat(frame)

		s.mu.Lock()
		s.frames++
		s.mu.Unlock()

		bins := audio.MagnitudeBins(frame)
		energy := s.analyzer.Sample(bins)
		s.emit(Event{Type: EventLevel, Energy: energy, Levels: s.analyzer.Levels(bins)})

		if s.detector.Observe(energy, time.Now()) == vad.SignalStop {
			return StopSilence
		}
	}
}

// finalize stops the stream exactly once and records the outcome
func (s *Session) finalize(reason StopReason) string {
	var transcript string
	s.stopOnce.Do(func() {
		s.detector.SetRecording(false)
		transcript, _ = s.stream.Stop()

		s.mu.Lock()
		s.result = transcript
		s.reason = reason
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Stop ends the session from outside by closing its source. Run finishes
// the shutdown.
func (s *Session) Stop() {
	s.source.Close()
}

// Transcript returns the finalized transcript after the session ends
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Recording returns the accumulated PCM audio as a WAV file, for feeding
// the turn-based transcription path.
func (s *Session) Recording() ([]byte, error) {
	return s.recorder.WAV()
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Level events are disposable; dropping one under backpressure
		// is preferable to stalling the frame pump.
	}
}
