package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// apologyReply is appended as the assistant turn when the completion
// service fails, keeping the conversation usable.
const apologyReply = "I'm sorry, I encountered an error processing your request. Please try again."

var (
	// ErrSendInFlight is returned when a send is attempted while another
	// send has not finished yet.
	ErrSendInFlight = errors.New("chat: a send is already in flight")

	// ErrMessageNotFound is returned for operations on unknown message ids.
	ErrMessageNotFound = errors.New("chat: message not found")

	// ErrNotUserMessage is returned when editing a non-user message.
	ErrNotUserMessage = errors.New("chat: only user messages can be edited")

	// ErrNotAssistantMessage is returned when retrying a non-assistant
	// message.
	ErrNotAssistantMessage = errors.New("chat: only assistant messages can be retried")

	// ErrCompletionFailed is returned alongside the apology turn when the
	// completion backend fails. The conversation log is still valid.
	ErrCompletionFailed = errors.New("chat: completion failed")
)

// Completer produces an assistant reply for a message given the prior
// conversation
type Completer interface {
	Complete(ctx context.Context, message string, history []Message) (string, error)
}

// Orchestrator owns the conversation log and the pending input buffer
type Orchestrator struct {
	completer Completer

	messages     []Message
	pendingInput string
	inFlight     bool

	// Statistics
	totalSends  uint64
	failedSends uint64
	lastSend    time.Time

	mu sync.Mutex
}

// OrchestratorStats represents conversation statistics for monitoring
type OrchestratorStats struct {
	Messages    int       `json:"messages"`
	TotalSends  uint64    `json:"total_sends"`
	FailedSends uint64    `json:"failed_sends"`
	InFlight    bool      `json:"in_flight"`
	LastSend    time.Time `json:"last_send"`
}

// NewOrchestrator creates a conversation orchestrator backed by the given
// completer
func NewOrchestrator(completer Completer) (*Orchestrator, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}

	return &Orchestrator{completer: completer}, nil
}

// Send appends the text as a user turn, requests a reply, and appends the
// assistant turn. Whitespace-only input is a no-op returning nil messages.
// Only one send may be in flight at a time; concurrent attempts fail with
// ErrSendInFlight. A completion failure still produces an assistant turn,
// carrying a fixed apology, so the log never ends on a hanging user turn;
// that turn is returned together with ErrCompletionFailed wrapping the
// cause.
func (o *Orchestrator) Send(ctx context.Context, text string) (*Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return nil, ErrSendInFlight
	}
	o.inFlight = true
	o.totalSends++
	o.lastSend = time.Now()

	history := make([]Message, len(o.messages))
	copy(history, o.messages)

	userMsg := NewMessage(RoleUser, trimmed)
	o.messages = append(o.messages, userMsg)
	o.pendingInput = ""
	o.mu.Unlock()

	reply, err := o.completer.Complete(ctx, trimmed, history)

	o.mu.Lock()
	defer func() {
		o.inFlight = false
		o.mu.Unlock()
	}()

	if err != nil {
		o.failedSends++
		slog.Error("Completion failed, answering with apology", "error", err)

		assistantMsg := NewMessage(RoleAssistant, apologyReply)
		o.messages = append(o.messages, assistantMsg)

		return &assistantMsg, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	assistantMsg := NewMessage(RoleAssistant, reply)
	o.messages = append(o.messages, assistantMsg)

	return &assistantMsg, nil
}

// Retry removes a failed assistant turn and its user turn from the log and
// restores the user's text to the pending input buffer so it can be sent
// again. It returns the restored text.
func (o *Orchestrator) Retry(messageID string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight {
		return "", ErrSendInFlight
	}

	idx := o.indexOf(messageID)
	if idx < 0 {
		return "", ErrMessageNotFound
	}

	if o.messages[idx].Role != RoleAssistant {
		return "", ErrNotAssistantMessage
	}

	userIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if o.messages[i].Role == RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return "", fmt.Errorf("chat: no user turn precedes message %s", messageID)
	}

	restored := o.messages[userIdx].Content
	o.messages = o.messages[:userIdx]
	o.pendingInput = restored

	return restored, nil
}

// Edit replaces the content of a user message in place
func (o *Orchestrator) Edit(messageID, content string) (*Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("chat: edited content cannot be empty")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	idx := o.indexOf(messageID)
	if idx < 0 {
		return nil, ErrMessageNotFound
	}

	if o.messages[idx].Role != RoleUser {
		return nil, ErrNotUserMessage
	}

	o.messages[idx].Content = trimmed
	edited := o.messages[idx]

	return &edited, nil
}

// Delete removes one message from the log
func (o *Orchestrator) Delete(messageID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	idx := o.indexOf(messageID)
	if idx < 0 {
		return ErrMessageNotFound
	}

	o.messages = append(o.messages[:idx], o.messages[idx+1:]...)
	return nil
}

// Messages returns a copy of the conversation log in order
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Restore replaces the conversation log, used when loading persisted
// history at startup. Messages with unknown roles are rejected.
func (o *Orchestrator) Restore(messages []Message) error {
	for _, m := range messages {
		if !m.Role.Valid() {
			return fmt.Errorf("chat: cannot restore message %s with role %q", m.ID, m.Role)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.messages = make([]Message, len(messages))
	copy(o.messages, messages)
	return nil
}

// PendingInput returns the current contents of the input buffer
func (o *Orchestrator) PendingInput() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingInput
}

// SetPendingInput replaces the input buffer, typically with a finished
// transcript
func (o *Orchestrator) SetPendingInput(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pendingInput = text
}

// AppendPendingInput joins more text onto the input buffer with a single
// space
func (o *Orchestrator) AppendPendingInput(text string) {
	if text == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pendingInput == "" {
		o.pendingInput = text
	} else {
		o.pendingInput += " " + text
	}
}

// GetStats returns current conversation statistics
func (o *Orchestrator) GetStats() OrchestratorStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	return OrchestratorStats{
		Messages:    len(o.messages),
		TotalSends:  o.totalSends,
		FailedSends: o.failedSends,
		InFlight:    o.inFlight,
		LastSend:    o.lastSend,
	}
}

// indexOf returns the position of a message id, or -1. Caller holds the
// mutex.
func (o *Orchestrator) indexOf(messageID string) int {
	for i := range o.messages {
		if o.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}
