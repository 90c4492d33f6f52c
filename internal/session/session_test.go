package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casebase/voicechat/internal/capture"
	"github.com/casebase/voicechat/internal/transcription"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newEchoSpeechServer accepts the websocket session and answers every
// binary frame with a final transcript segment.
func newEchoSpeechServer(t *testing.T, segment string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				msg := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"` + segment + `"}]}}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "CloseStream") {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

func newTestFactory(t *testing.T, server *httptest.Server) StreamFactory {
	t.Helper()
	return func() (*transcription.StreamClient, error) {
		return transcription.NewStreamClient(transcription.StreamConfig{
			Endpoint:   "ws" + strings.TrimPrefix(server.URL, "http"),
			APIKey:     "test-key",
			SampleRate: 16000,
			Channels:   1,
		})
	}
}

func voicedFrame() []float32 {
	frame := make([]float32, 64)
	for i := range frame {
		frame[i] = 0.5
	}
	return frame
}

func TestSessionSilenceAutoStop(t *testing.T) {
	server := newEchoSpeechServer(t, "spoken words")
	defer server.Close()

	source := capture.NewPushSource(16000, 1, 64)
	factory := newTestFactory(t, server)

	stream, err := factory()
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	sess, err := New(source, stream, Config{
		SilenceThreshold: 0.05,
		SilenceHold:      50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	go sess.Run(context.Background())

	// One voiced frame, then quiet frames until the detector fires. The
	// quiet frames are not all-zero so they still reach the stream.
	source.Push(voicedFrame())
	go func() {
		quiet := make([]float32, 64)
		quiet[0] = 0.001
		for {
			select {
			case <-sess.Done():
				return
			case <-time.After(5 * time.Millisecond):
				if !source.Push(quiet) {
					return
				}
			}
		}
	}()

	var stopped *Event
	deadline := time.After(10 * time.Second)
	for stopped == nil {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatal("event channel closed without a stopped event")
			}
			if ev.Type == EventStopped {
				copied := ev
				stopped = &copied
			}
		case <-deadline:
			t.Fatal("session never stopped on silence")
		}
	}

	if stopped.Reason != StopSilence {
		t.Errorf("stop reason = %s, want silence", stopped.Reason)
	}
	if !strings.Contains(stopped.Text, "spoken words") {
		t.Errorf("transcript = %q", stopped.Text)
	}
	if sess.Transcript() != stopped.Text {
		t.Errorf("Transcript() = %q, event text = %q", sess.Transcript(), stopped.Text)
	}
}

func TestSessionSourceEnd(t *testing.T) {
	server := newEchoSpeechServer(t, "hello")
	defer server.Close()

	source := capture.NewPushSource(16000, 1, 64)
	factory := newTestFactory(t, server)
	stream, _ := factory()

	sess, err := New(source, stream, Config{SilenceHold: time.Hour})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	go sess.Run(context.Background())

	source.Push(voicedFrame())
	source.End()

	select {
	case <-sess.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session never ended after source EOF")
	}

	// Drain events to find the stop reason.
	var reason StopReason
	for ev := range sess.Events() {
		if ev.Type == EventStopped {
			reason = ev.Reason
		}
	}
	if reason != StopSource {
		t.Errorf("stop reason = %s, want source_ended", reason)
	}
}

func TestSessionLevelEvents(t *testing.T) {
	server := newEchoSpeechServer(t, "x")
	defer server.Close()

	source := capture.NewPushSource(16000, 1, 64)
	factory := newTestFactory(t, server)
	stream, _ := factory()

	sess, err := New(source, stream, Config{SilenceHold: time.Hour})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	go sess.Run(context.Background())

	source.Push(voicedFrame())

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatal("events closed before a level event arrived")
			}
			if ev.Type == EventLevel {
				if ev.Energy <= 0 || ev.Energy > 1 {
					t.Errorf("energy = %f, want (0,1]", ev.Energy)
				}
				if len(ev.Levels) != 5 {
					t.Errorf("got %d level slots, want 5", len(ev.Levels))
				}
				source.End()
				<-sess.Done()
				return
			}
		case <-deadline:
			t.Fatal("no level event")
		}
	}
}

func TestSessionRejectsZeroTrackSource(t *testing.T) {
	server := newEchoSpeechServer(t, "x")
	defer server.Close()

	source := capture.NewPushSource(16000, 0, 4)
	factory := newTestFactory(t, server)
	stream, _ := factory()

	sess, err := New(source, stream, Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := sess.Run(context.Background()); err == nil {
		t.Error("expected error for source with no audio tracks")
	}
}

func TestManagerReplacesActiveSession(t *testing.T) {
	server := newEchoSpeechServer(t, "take")
	defer server.Close()

	manager := NewManager(newTestFactory(t, server), Config{SilenceHold: time.Hour}, nil)

	first := capture.NewPushSource(16000, 1, 64)
	firstSess, err := manager.Start(context.Background(), first)
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	second := capture.NewPushSource(16000, 1, 64)
	secondSess, err := manager.Start(context.Background(), second)
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	// The first session is torn down by the replacement.
	select {
	case <-firstSess.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("first session not torn down")
	}

	if active := manager.Active(); active == nil || active.ID() != secondSess.ID() {
		t.Error("second session is not the active one")
	}

	manager.Stop()
	select {
	case <-secondSess.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("second session not stopped")
	}
	if manager.Active() != nil {
		t.Error("manager still reports an active session")
	}

	stats := manager.GetStats()
	if stats.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", stats.TotalSessions)
	}
}

func TestManagerTranscriptHandoff(t *testing.T) {
	server := newEchoSpeechServer(t, "handed off")
	defer server.Close()

	transcripts := make(chan string, 1)
	manager := NewManager(newTestFactory(t, server), Config{SilenceHold: time.Hour},
		func(sessionID, transcript string) {
			transcripts <- transcript
		})

	source := capture.NewPushSource(16000, 1, 64)
	sess, err := manager.Start(context.Background(), source)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	source.Push(voicedFrame())

	// Give the echo server time to answer before ending the take.
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatal("events closed early")
			}
			if ev.Type == EventTranscript {
				source.End()
				goto wait
			}
		case <-deadline:
			t.Fatal("no transcript event")
		}
	}

wait:
	select {
	case transcript := <-transcripts:
		if !strings.Contains(transcript, "handed off") {
			t.Errorf("handed transcript = %q", transcript)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("transcript never handed off")
	}
}
