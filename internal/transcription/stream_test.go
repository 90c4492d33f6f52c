package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newScriptedSpeechServer runs a websocket endpoint that sends the given
// JSON messages after the handshake, then closes cleanly once the client
// sends its CloseStream message.
func newScriptedSpeechServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("missing bearer credential, got %q", auth)
		}

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}

		// Drain until the client asks to close, then close cleanly.
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "CloseStream") {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestStreamClient(t *testing.T, endpoint string) *StreamClient {
	t.Helper()

	client, err := NewStreamClient(StreamConfig{
		Endpoint:   endpoint,
		APIKey:     "test-key",
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("NewStreamClient failed: %v", err)
	}
	return client
}

func TestSessionURLParameters(t *testing.T) {
	query := make(chan map[string][]string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- r.URL.Query()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	client, err := NewStreamClient(StreamConfig{
		Endpoint:   wsURL(server),
		APIKey:     "test-key",
		SampleRate: 16000,
		Channels:   1,
		Language:   "en-US",
		Model:      "nova-2",
	})
	if err != nil {
		t.Fatalf("NewStreamClient failed: %v", err)
	}
	if err := client.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop()

	q := <-query
	want := map[string]string{
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"interim_results": "true",
		"language":        "en-US",
		"model":           "nova-2",
	}
	for key, value := range want {
		if got := q[key]; len(got) != 1 || got[0] != value {
			t.Errorf("query[%s] = %v, want %q", key, got, value)
		}
	}
}

func TestNewStreamClientValidation(t *testing.T) {
	t.Run("missing endpoint", func(t *testing.T) {
		_, err := NewStreamClient(StreamConfig{APIKey: "k"})
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) {
			t.Errorf("got %v, want ConfigurationError", err)
		}
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := NewStreamClient(StreamConfig{Endpoint: "ws://x"})
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) {
			t.Errorf("got %v, want ConfigurationError", err)
		}
	})
}

func TestStartRejectsZeroTracks(t *testing.T) {
	client := newTestStreamClient(t, "ws://unused")

	err := client.Start(context.Background(), 0)
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Errorf("got %v, want InputError", err)
	}
	if client.State() != StateIdle {
		t.Errorf("state = %v, want idle", client.State())
	}
}

func TestStreamAccumulatesFinals(t *testing.T) {
	server := newScriptedSpeechServer(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello th"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"how are you"}]}}`,
	})
	defer server.Close()

	client := newTestStreamClient(t, wsURL(server))
	if err := client.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var interims []string
	var finals []string

	deadline := time.After(5 * time.Second)
	for len(finals) < 3 {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				t.Fatal("event channel closed before all finals arrived")
			}
			switch ev.Type {
			case EventInterim:
				interims = append(interims, ev.Text)
			case EventFinal:
				finals = append(finals, ev.Text)
			case EventError:
				t.Fatalf("unexpected error event: %v", ev.Err)
			}
		case <-deadline:
			t.Fatalf("timed out: finals=%v interims=%v", finals, interims)
		}
	}

	// Each interim replaces the last; finals accumulate with single spaces
	// and empty finals add nothing.
	if len(interims) != 2 || interims[1] != "hello th" {
		t.Errorf("interims = %v", interims)
	}
	if finals[0] != "hello there" {
		t.Errorf("first final = %q", finals[0])
	}
	if finals[1] != "hello there" {
		t.Errorf("empty final changed transcript: %q", finals[1])
	}
	if finals[2] != "hello there how are you" {
		t.Errorf("accumulated transcript = %q", finals[2])
	}

	transcript, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if transcript != "hello there how are you" {
		t.Errorf("Stop transcript = %q", transcript)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	server := newScriptedSpeechServer(t, []string{
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"once"}]}}`,
	})
	defer server.Close()

	client := newTestStreamClient(t, wsURL(server))
	if err := client.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for the final before stopping.
	select {
	case <-client.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final")
	}

	first, err := client.Stop()
	if err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	second, err := client.Stop()
	if err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	if first != "once" {
		t.Errorf("first Stop returned %q, want %q", first, "once")
	}
	// A repeat Stop is a no-op; the transcript was already handed out.
	if second != "" {
		t.Errorf("second Stop returned %q, want empty", second)
	}
	if client.State() != StateClosed {
		t.Errorf("state = %v, want closed", client.State())
	}
}

func TestSendFrameSkipsSilence(t *testing.T) {
	received := make(chan []byte, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
				received <- data
			}
		}
	}))
	defer server.Close()

	client := newTestStreamClient(t, wsURL(server))
	if err := client.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop()

	// An all-zero frame is skipped; a voiced frame goes out.
	if err := client.SendFrame(make([]float32, 256)); err != nil {
		t.Fatalf("SendFrame(silence) failed: %v", err)
	}
	if err := client.SendFrame([]float32{0.5, -0.5, 0.25}); err != nil {
		t.Fatalf("SendFrame(voiced) failed: %v", err)
	}

	select {
	case data := <-received:
		if len(data) != 6 {
			t.Errorf("received %d bytes, want 6", len(data))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("voiced frame never arrived")
	}

	select {
	case <-received:
		t.Error("silent frame was transmitted")
	case <-time.After(100 * time.Millisecond):
	}

	sent, skipped := client.GetStats()
	if sent != 1 || skipped != 1 {
		t.Errorf("stats sent=%d skipped=%d, want 1 and 1", sent, skipped)
	}
}

func TestStreamErrorEventOnAbruptClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection without a close handshake.
		conn.Close()
	}))
	defer server.Close()

	client := newTestStreamClient(t, wsURL(server))
	if err := client.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				t.Fatal("event channel closed without an error event")
			}
			if ev.Type == EventError {
				if ev.Err == nil {
					t.Error("error event carries nil error")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for error event")
		}
	}
}
