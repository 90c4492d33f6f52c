package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice chat service
type Metrics struct {
	// Recording session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsFinished prometheus.Counter
	SessionDuration  prometheus.Histogram
	SilenceStops     prometheus.Counter

	// Audio frame metrics
	FramesForwarded prometheus.Counter
	FramesSkipped   prometheus.Counter
	EnergyLevel     prometheus.Histogram

	// Transcription metrics
	TranscriptionJobs      prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionPolls     prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	EmptyTranscripts       prometheus.Counter

	// Chat metrics
	ChatSends        prometheus.Counter
	ChatSendFailures prometheus.Counter
	ChatRetries      prometheus.Counter
	CompletionTime   prometheus.Histogram

	// Document metrics
	DocumentUploads       prometheus.Counter
	DocumentUploadErrors  prometheus.Counter
	DocumentUploadRetries prometheus.Counter
	DocumentSize          prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Recording session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicechat_active_sessions",
			Help: "Current number of active recording sessions",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFinished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_sessions_finished_total",
			Help: "Total number of recording sessions finished",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		SilenceStops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_silence_stops_total",
			Help: "Total number of sessions auto-stopped by silence detection",
		}),

		// Audio frame metrics
		FramesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_frames_forwarded_total",
			Help: "Total number of audio frames forwarded to the speech endpoint",
		}),
		FramesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_frames_skipped_total",
			Help: "Total number of all-zero audio frames skipped",
		}),
		EnergyLevel: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_energy_level",
			Help:    "Normalized audio energy per sampled frame",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Transcription metrics
		TranscriptionJobs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_transcription_jobs_total",
			Help: "Total number of turn-based transcription jobs created",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_transcription_successes_total",
			Help: "Total number of completed transcription jobs",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_transcription_failures_total",
			Help: "Total number of failed or timed-out transcription jobs",
		}),
		TranscriptionPolls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_transcription_polls_total",
			Help: "Total number of transcription job status polls",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_transcription_duration_seconds",
			Help:    "Wall-clock time from upload to terminal job state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8 minutes
		}),
		EmptyTranscripts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_empty_transcripts_total",
			Help: "Total number of completed jobs with an empty transcript",
		}),

		// Chat metrics
		ChatSends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_chat_sends_total",
			Help: "Total number of chat messages sent",
		}),
		ChatSendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_chat_send_failures_total",
			Help: "Total number of chat sends answered with the apology reply",
		}),
		ChatRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_chat_retries_total",
			Help: "Total number of retried chat turns",
		}),
		CompletionTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_completion_duration_seconds",
			Help:    "Duration of completion service requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Document metrics
		DocumentUploads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_document_uploads_total",
			Help: "Total number of successful document uploads",
		}),
		DocumentUploadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_document_upload_errors_total",
			Help: "Total number of failed document uploads",
		}),
		DocumentUploadRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_document_upload_retries_total",
			Help: "Total number of retried document uploads",
		}),
		DocumentSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_document_size_bytes",
			Help:    "Size of uploaded documents in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~16MB
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicechat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments session counters
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionFinished records a finished session and its duration
func (m *Metrics) RecordSessionFinished(durationSeconds float64, bySilence bool) {
	m.SessionsFinished.Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if bySilence {
		m.SilenceStops.Inc()
	}
}

// RecordFrame records one processed frame and its energy
func (m *Metrics) RecordFrame(forwarded bool, energy float64) {
	if forwarded {
		m.FramesForwarded.Inc()
	} else {
		m.FramesSkipped.Inc()
	}
	m.EnergyLevel.Observe(energy)
}

// RecordTranscriptionJob increments the jobs counter
func (m *Metrics) RecordTranscriptionJob() {
	m.TranscriptionJobs.Inc()
}

// RecordTranscriptionSuccess records a completed job
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64, polls int, empty bool) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.TranscriptionPolls.Add(float64(polls))
	if empty {
		m.EmptyTranscripts.Inc()
	}
}

// RecordTranscriptionFailure records a failed or timed-out job
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordChatSend records a chat exchange
func (m *Metrics) RecordChatSend(durationSeconds float64, failed bool) {
	m.ChatSends.Inc()
	m.CompletionTime.Observe(durationSeconds)
	if failed {
		m.ChatSendFailures.Inc()
	}
}

// RecordChatRetry increments the retry counter
func (m *Metrics) RecordChatRetry() {
	m.ChatRetries.Inc()
}

// RecordDocumentUpload records a document upload outcome
func (m *Metrics) RecordDocumentUpload(sizeBytes int64, failed bool) {
	if failed {
		m.DocumentUploadErrors.Inc()
	} else {
		m.DocumentUploads.Inc()
		m.DocumentSize.Observe(float64(sizeBytes))
	}
}

// RecordDocumentRetry increments the document retry counter
func (m *Metrics) RecordDocumentRetry() {
	m.DocumentUploadRetries.Inc()
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
