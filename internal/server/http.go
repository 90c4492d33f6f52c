package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casebase/voicechat/internal/audio"
	"github.com/casebase/voicechat/internal/chat"
	"github.com/casebase/voicechat/internal/config"
	"github.com/casebase/voicechat/internal/document"
	"github.com/casebase/voicechat/internal/history"
	"github.com/casebase/voicechat/internal/metrics"
	"github.com/casebase/voicechat/internal/session"
	"github.com/casebase/voicechat/internal/transcription"
)

// HTTPServer provides the REST and websocket API
type HTTPServer struct {
	server       *http.Server
	logger       *slog.Logger
	config       *config.Config
	orchestrator *chat.Orchestrator
	turnClient   *transcription.TurnClient
	registry     *document.Registry
	sessions     *session.Manager
	store        *history.Store
	metrics      *metrics.Metrics

	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates the API server
func NewHTTPServer(logger *slog.Logger, cfg *config.Config, orchestrator *chat.Orchestrator,
	turnClient *transcription.TurnClient, registry *document.Registry,
	sessions *session.Manager, store *history.Store, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:       logger,
		config:       cfg,
		orchestrator: orchestrator,
		turnClient:   turnClient,
		registry:     registry,
		sessions:     sessions,
		store:        store,
		metrics:      m,
		startTime:    time.Now(),
	}

	router := mux.NewRouter()
	h.setupRoutes(router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the configured router, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures the API routes
func (h *HTTPServer) setupRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Conversation
	api.HandleFunc("/chat/messages", h.withMetrics("/api/chat/messages", h.handleListMessages)).Methods(http.MethodGet)
	api.HandleFunc("/chat/messages", h.withMetrics("/api/chat/messages", h.handleSendMessage)).Methods(http.MethodPost)
	api.HandleFunc("/chat/messages/{id}", h.withMetrics("/api/chat/messages/{id}", h.handleEditMessage)).Methods(http.MethodPut)
	api.HandleFunc("/chat/messages/{id}", h.withMetrics("/api/chat/messages/{id}", h.handleDeleteMessage)).Methods(http.MethodDelete)
	api.HandleFunc("/chat/messages/{id}/retry", h.withMetrics("/api/chat/messages/{id}/retry", h.handleRetryMessage)).Methods(http.MethodPost)
	api.HandleFunc("/chat/input", h.withMetrics("/api/chat/input", h.handlePendingInput)).Methods(http.MethodGet)

	// Turn-based transcription of finished recordings
	api.HandleFunc("/transcribe", h.withMetrics("/api/transcribe", h.handleTranscribe)).Methods(http.MethodPost)

	// Documents
	api.HandleFunc("/documents", h.withMetrics("/api/documents", h.handleListDocuments)).Methods(http.MethodGet)
	api.HandleFunc("/documents", h.withMetrics("/api/documents", h.handleUploadDocument)).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", h.withMetrics("/api/documents/{id}", h.handleDeleteDocument)).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/retry", h.withMetrics("/api/documents/{id}/retry", h.handleRetryDocument)).Methods(http.MethodPost)

	// Live recording sessions
	api.HandleFunc("/stream", h.handleStream)

	api.HandleFunc("/stats", h.withMetrics("/api/stats", h.handleStats)).Methods(http.MethodGet)
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// persistMessages saves the conversation snapshot, best effort
func (h *HTTPServer) persistMessages() {
	if h.store == nil {
		return
	}
	if err := h.store.SaveMessages(h.orchestrator.Messages()); err != nil {
		h.logger.Error("Failed to persist conversation", slog.String("error", err.Error()))
	}
}

// persistFiles saves the document registry snapshot, best effort
func (h *HTTPServer) persistFiles() {
	if h.store == nil {
		return
	}
	if err := h.store.SaveFiles(h.registry.List()); err != nil {
		h.logger.Error("Failed to persist file records", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	chatStats := h.orchestrator.GetStats()
	sessionStats := h.sessions.GetStats()
	docStats := h.registry.GetStats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "voicechat",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"chat": map[string]any{
				"status":       "running",
				"messages":     chatStats.Messages,
				"total_sends":  chatStats.TotalSends,
				"failed_sends": chatStats.FailedSends,
			},
			"sessions": map[string]any{
				"status":         "running",
				"active_session": sessionStats.ActiveSession,
				"total_sessions": sessionStats.TotalSessions,
			},
			"documents": map[string]any{
				"status":    "running",
				"total":     docStats.Total,
				"succeeded": docStats.Succeeded,
				"failed":    docStats.Failed,
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleListMessages returns the conversation log
func (h *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages := h.orchestrator.Messages()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":    len(messages),
		"messages": messages,
	})
}

type sendRequest struct {
	Message string `json:"message"`
}

// handleSendMessage sends a user message and returns the assistant reply
func (h *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	startTime := time.Now()
	reply, err := h.orchestrator.Send(r.Context(), req.Message)
	failed := errors.Is(err, chat.ErrCompletionFailed)
	if err != nil && !failed {
		if errors.Is(err, chat.ErrSendInFlight) {
			h.writeError(w, http.StatusConflict, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if reply == nil {
		// Whitespace-only input. Nothing changed.
		h.writeJSON(w, http.StatusOK, map[string]any{"messages": h.orchestrator.Messages()})
		return
	}

	// A failed completion still yields an apology turn; the exchange is
	// reported to the client as a normal reply and counted as a failure.
	h.metrics.RecordChatSend(time.Since(startTime).Seconds(), failed)
	h.persistMessages()

	h.writeJSON(w, http.StatusOK, map[string]any{
		"reply":    reply,
		"messages": h.orchestrator.Messages(),
	})
}

type editRequest struct {
	Content string `json:"content"`
}

// handleEditMessage edits a user message in place
func (h *HTTPServer) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	edited, err := h.orchestrator.Edit(id, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrMessageNotFound):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, chat.ErrNotUserMessage):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusBadRequest, err)
		}
		return
	}

	h.persistMessages()
	h.writeJSON(w, http.StatusOK, edited)
}

// handleDeleteMessage removes a message from the log
func (h *HTTPServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.orchestrator.Delete(id); err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}

	h.persistMessages()
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryMessage rewinds a failed turn and restores the user's text
func (h *HTTPServer) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	restored, err := h.orchestrator.Retry(id)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrMessageNotFound):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, chat.ErrSendInFlight):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.writeError(w, http.StatusBadRequest, err)
		}
		return
	}

	h.metrics.RecordChatRetry()
	h.persistMessages()

	h.writeJSON(w, http.StatusOK, map[string]any{
		"restored_input": restored,
		"messages":       h.orchestrator.Messages(),
	})
}

// handlePendingInput returns the current input buffer
func (h *HTTPServer) handlePendingInput(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"pending_input": h.orchestrator.PendingInput(),
	})
}

const maxRecordingBytes = 50 << 20

// handleTranscribe runs the turn-based transcription flow for an uploaded
// recording
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	audioData, err := io.ReadAll(io.LimitReader(r.Body, maxRecordingBytes+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read recording: %w", err))
		return
	}
	if len(audioData) > maxRecordingBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("recording exceeds %d bytes", maxRecordingBytes))
		return
	}

	// A corrupt WAV container is rejected before spending an upload. Other
	// recording formats pass through for the provider to judge.
	if bytes.HasPrefix(audioData, []byte("RIFF")) {
		if _, _, err := audio.DecodeWAV(audioData); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("unreadable recording: %w", err))
			return
		}
	}

	startTime := time.Now()
	h.metrics.RecordTranscriptionJob()

	result, err := h.turnClient.Transcribe(r.Context(), audioData)
	if err != nil {
		h.metrics.RecordTranscriptionFailure(time.Since(startTime).Seconds())
		status := transcriptionErrorStatus(err)
		h.writeError(w, status, err)
		return
	}

	h.metrics.RecordTranscriptionSuccess(time.Since(startTime).Seconds(), result.Polls, result.EmptyTranscript)

	// The transcript lands in the input buffer, not straight into the log.
	if result.Text != "" {
		h.orchestrator.AppendPendingInput(result.Text)
	}

	h.writeJSON(w, http.StatusOK, result)
}

// transcriptionErrorStatus maps typed transcription failures to HTTP codes
func transcriptionErrorStatus(err error) int {
	var (
		inputErr   *transcription.InputError
		confErr    *transcription.ConfigurationError
		timeoutErr *transcription.PollTimeoutError
	)
	switch {
	case errors.As(err, &inputErr):
		return http.StatusBadRequest
	case errors.As(err, &confErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// handleListDocuments returns all file records
func (h *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	records := h.registry.List()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total": len(records),
		"files": records,
	})
}

// handleUploadDocument registers and uploads a multipart file
func (h *HTTPServer) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.config.Documents.MaxFileSize + 1024); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart request: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("missing file part: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read file: %w", err))
		return
	}

	record, err := h.registry.Add(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		var valErr *document.ValidationError
		if errors.As(err, &valErr) {
			h.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	uploaded, err := h.registry.Upload(r.Context(), record.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.metrics.RecordDocumentUpload(uploaded.Size, uploaded.Status == document.StatusError)
	h.persistFiles()

	status := http.StatusOK
	if uploaded.Status == document.StatusError {
		// The record is kept for retry; the response still reports it.
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, uploaded)
}

// handleDeleteDocument removes a file record
func (h *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.registry.Remove(id); err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}

	h.persistFiles()
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryDocument retries a failed upload
func (h *HTTPServer) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	h.metrics.RecordDocumentRetry()

	record, err := h.registry.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, document.ErrFileNotFound):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, document.ErrNotRetryable):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.metrics.RecordDocumentUpload(record.Size, record.Status == document.StatusError)
	h.persistFiles()

	status := http.StatusOK
	if record.Status == document.StatusError {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, record)
}

// handleStats returns service statistics
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"chat":      h.orchestrator.GetStats(),
		"sessions":  h.sessions.GetStats(),
		"documents": h.registry.GetStats(),
	})
}
