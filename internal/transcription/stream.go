package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casebase/voicechat/internal/audio"
)

// Streaming session states.
type StreamState int

const (
	StateIdle StreamState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateError
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	streamWriteWait = 10 * time.Second
	eventQueueDepth = 64
)

// StreamConfig contains streaming client configuration
type StreamConfig struct {
	Endpoint   string
	APIKey     string
	SampleRate int
	Channels   int
	Language   string
	Model      string

	// Dialer overrides the default websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// StreamClient holds one live transcription session over a websocket
type StreamClient struct {
	config StreamConfig
	dialer *websocket.Dialer

	conn   *websocket.Conn
	events chan Event

	state      StreamState
	finalText  string
	interim    string
	stopped    bool
	transcript string

	pumpDone chan struct{}

	// Statistics
	framesSent    uint64
	framesSkipped uint64

	mu sync.Mutex
}

// streamResult is the wire shape of one transcript message from the
// streaming endpoint
type streamResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// NewStreamClient creates a streaming transcription client
func NewStreamClient(config StreamConfig) (*StreamClient, error) {
	if config.Endpoint == "" {
		return nil, &ConfigurationError{Detail: "streaming endpoint cannot be empty"}
	}

	if config.APIKey == "" {
		return nil, &ConfigurationError{Detail: "speech API key is missing"}
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	if config.Channels <= 0 {
		config.Channels = 1
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	return &StreamClient{
		config: config,
		dialer: dialer,
		events: make(chan Event, eventQueueDepth),
		state:  StateIdle,
	}, nil
}

// Start opens the websocket session. The audio track count comes from the
// capture source; a source with no audio tracks is rejected before dialing.
func (c *StreamClient) Start(ctx context.Context, audioTracks int) error {
	if audioTracks == 0 {
		return &InputError{Detail: "capture source has no audio tracks"}
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start stream in state %s", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	endpoint, err := c.sessionURL()
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("invalid streaming endpoint: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.APIKey)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		c.setState(StateError)
		if resp != nil {
			return fmt.Errorf("failed to open streaming session (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to open streaming session: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.pumpDone = make(chan struct{})
	c.mu.Unlock()

	go c.readPump()

	slog.Debug("Streaming transcription session opened",
		"sample_rate", c.config.SampleRate,
		"channels", c.config.Channels)

	return nil
}

func (c *StreamClient) sessionURL() (string, error) {
	u, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(c.config.SampleRate))
	q.Set("channels", strconv.Itoa(c.config.Channels))
	q.Set("interim_results", "true")
	if c.config.Language != "" {
		q.Set("language", c.config.Language)
	}
	if c.config.Model != "" {
		q.Set("model", c.config.Model)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// SendFrame forwards one frame of float samples as 16-bit PCM. Frames in
// which every sample is exactly zero are skipped.
func (c *StreamClient) SendFrame(frame []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.stopped {
		return fmt.Errorf("cannot send frame in state %s", c.state)
	}

	samples := audio.FloatToPCM16(frame)
	if audio.IsSilent(samples) {
		c.framesSkipped++
		return nil
	}

	c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio.PCM16ToBytes(samples)); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}

	c.framesSent++
	return nil
}

// Events returns the channel of transcript events for this session. The
// channel is closed when the session ends.
func (c *StreamClient) Events() <-chan Event {
	return c.events
}

// Transcript returns the accumulated finalized transcript so far
func (c *StreamClient) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalText
}

// State returns the current session state
func (c *StreamClient) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *StreamClient) setState(s StreamState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *StreamClient) readPump() {
	defer close(c.pumpDone)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stopped := c.stopped
			if c.state == StateOpen {
				if stopped {
					c.state = StateClosed
				} else {
					c.state = StateError
				}
			}
			final := c.finalText
			c.mu.Unlock()

			if stopped || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(Event{Type: EventClosed, Text: final})
			} else {
				c.emit(Event{Type: EventError, Err: fmt.Errorf("streaming session failed: %w", err)})
			}
			close(c.events)
			return
		}

		var result streamResult
		if err := json.Unmarshal(data, &result); err != nil {
			slog.Warn("Discarding malformed transcript message", "error", err)
			continue
		}

		if len(result.Channel.Alternatives) == 0 {
			continue
		}
		text := result.Channel.Alternatives[0].Transcript

		if result.IsFinal {
			c.mu.Lock()
			if text != "" {
				if c.finalText == "" {
					c.finalText = text
				} else {
					c.finalText += " " + text
				}
			}
			c.interim = ""
			final := c.finalText
			c.mu.Unlock()

			c.emit(Event{Type: EventFinal, Text: final})
		} else {
			c.mu.Lock()
			c.interim = text
			c.mu.Unlock()

			c.emit(Event{Type: EventInterim, Text: text})
		}
	}
}

func (c *StreamClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		// Consumer is gone or slow; transcript state is still tracked
		// internally so nothing is lost except the notification.
		slog.Warn("Dropping transcript event", "type", ev.Type)
	}
}

// Stop ends the session and returns the finalized transcript. It is
// idempotent: only the first call performs the shutdown and yields the
// transcript, later calls are no-ops returning an empty string.
func (c *StreamClient) Stop() (string, error) {
	c.mu.Lock()

	if c.stopped {
		c.mu.Unlock()
		return "", nil
	}
	c.stopped = true

	if c.state != StateOpen {
		c.transcript = c.finalText
		c.state = StateClosed
		transcript := c.transcript
		c.mu.Unlock()
		return transcript, nil
	}

	conn := c.conn
	pumpDone := c.pumpDone

	// Ask the provider to flush any pending finals, then close. The mutex
	// is held so no frame write can interleave with the close sequence.
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		slog.Warn("Failed to send close message", "error", err)
	}
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()

	select {
	case <-pumpDone:
	case <-time.After(5 * time.Second):
		slog.Warn("Timed out waiting for streaming session to close")
	}
	conn.Close()

	c.mu.Lock()
	c.transcript = c.finalText
	if c.state == StateOpen {
		c.state = StateClosed
	}
	transcript := c.transcript
	c.mu.Unlock()

	return transcript, nil
}

// GetStats returns frame counters for this session
func (c *StreamClient) GetStats() (sent, skipped uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesSent, c.framesSkipped
}
