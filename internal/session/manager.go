package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/casebase/voicechat/internal/capture"
	"github.com/casebase/voicechat/internal/transcription"
)

// StreamFactory builds a fresh streaming client for each session
type StreamFactory func() (*transcription.StreamClient, error)

// TranscriptHandler receives the finalized transcript of an ended session
type TranscriptHandler func(sessionID, transcript string)

// Manager enforces one active recording session per input. Starting a new
// session first tears down the previous one.
type Manager struct {
	factory  StreamFactory
	config   Config
	onFinish TranscriptHandler

	active *Session
	cancel context.CancelFunc

	// Statistics
	totalSessions uint64
	lastStarted   time.Time

	mu sync.Mutex
}

// ManagerStats represents manager statistics for monitoring
type ManagerStats struct {
	ActiveSession string    `json:"active_session,omitempty"`
	TotalSessions uint64    `json:"total_sessions"`
	LastStarted   time.Time `json:"last_started"`
}

// NewManager creates a session manager
func NewManager(factory StreamFactory, config Config, onFinish TranscriptHandler) *Manager {
	return &Manager{
		factory:  factory,
		config:   config,
		onFinish: onFinish,
	}
}

// Start begins a session over the given source, replacing any active one.
// The session runs on its own goroutine until it ends.
func (m *Manager) Start(ctx context.Context, source capture.Source) (*Session, error) {
	stream, err := m.factory()
	if err != nil {
		return nil, err
	}

	sess, err := New(source, stream, m.config)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	previous := m.active
	previousCancel := m.cancel

	sessCtx, cancel := context.WithCancel(ctx)
	m.active = sess
	m.cancel = cancel
	m.totalSessions++
	m.lastStarted = time.Now()
	m.mu.Unlock()

	if previous != nil {
		slog.Info("Replacing active recording session",
			"old_session", previous.ID(),
			"new_session", sess.ID())
		previous.Stop()
		previousCancel()
		<-previous.Done()
	}

	go func() {
		if err := sess.Run(sessCtx); err != nil {
			slog.Error("Recording session failed to start",
				"session_id", sess.ID(), "error", err)
		}
		<-sess.Done()

		if m.onFinish != nil {
			m.onFinish(sess.ID(), sess.Transcript())
		}

		m.mu.Lock()
		if m.active == sess {
			m.active = nil
			m.cancel = nil
		}
		m.mu.Unlock()
		cancel()
	}()

	return sess, nil
}

// Stop ends the active session, if any, and waits for it to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()

	if sess == nil {
		return
	}

	sess.Stop()
	<-sess.Done()
}

// Active returns the currently running session, or nil
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// GetStats returns current manager statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{
		TotalSessions: m.totalSessions,
		LastStarted:   m.lastStarted,
	}
	if m.active != nil {
		stats.ActiveSession = m.active.ID()
	}
	return stats
}
