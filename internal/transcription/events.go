package transcription

// EventType discriminates transcript events emitted by a streaming session
type EventType string

const (
	// EventInterim carries a provisional transcript for the current
	// utterance. Each interim replaces the previous one.
	EventInterim EventType = "interim"
	// EventFinal carries the cumulative finalized transcript after a new
	// finalized segment has been appended.
	EventFinal EventType = "final"
	// EventError reports a session failure. The session is over.
	EventError EventType = "error"
	// EventClosed reports a clean end of the session.
	EventClosed EventType = "closed"
)

// Event is one transcript update from a streaming session
type Event struct {
	Type EventType `json:"type"`
	// Text holds the interim fragment for EventInterim and the full
	// accumulated transcript for EventFinal and EventClosed.
	Text string `json:"text,omitempty"`
	Err  error  `json:"-"`
}
