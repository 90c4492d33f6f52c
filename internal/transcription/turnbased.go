package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TurnConfig contains turn-based transcription client configuration
type TurnConfig struct {
	UploadEndpoint     string
	TranscriptEndpoint string
	APIKey             string
	Timeout            time.Duration
	PollInterval       time.Duration
	MaxPollRetries     int
}

// TurnClient transcribes one finished recording via upload, job creation,
// and polling
type TurnClient struct {
	config     TurnConfig
	httpClient *http.Client
}

// Word is one recognized word with timing, kept for diagnostics when a
// completed job reports an empty transcript
type Word struct {
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of a completed transcription job
type Result struct {
	JobID           string  `json:"job_id"`
	Text            string  `json:"text"`
	Confidence      float64 `json:"confidence"`
	AudioDuration   float64 `json:"audio_duration"`
	Words           []Word  `json:"words,omitempty"`
	EmptyTranscript bool    `json:"empty_transcript"`
	Polls           int     `json:"polls"`
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type jobRequest struct {
	AudioURL          string `json:"audio_url"`
	LanguageDetection bool   `json:"language_detection"`
	Punctuate         bool   `json:"punctuate"`
	FormatText        bool   `json:"format_text"`
	SpeakerLabels     bool   `json:"speaker_labels"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type pollResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	AudioDuration float64 `json:"audio_duration"`
	Words         []Word  `json:"words"`
	Error         string  `json:"error"`
}

// NewTurnClient creates a turn-based transcription client. The API key may
// be empty at construction; Transcribe reports the missing credential.
func NewTurnClient(config TurnConfig) (*TurnClient, error) {
	if config.UploadEndpoint == "" {
		return nil, &ConfigurationError{Detail: "upload endpoint cannot be empty"}
	}

	if config.TranscriptEndpoint == "" {
		return nil, &ConfigurationError{Detail: "transcript endpoint cannot be empty"}
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}

	if config.MaxPollRetries <= 0 {
		config.MaxPollRetries = 30
	}

	return &TurnClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Transcribe runs the full upload, job creation, and poll sequence for one
// recording. The context cancels the sequence at any point, including
// between polls.
func (c *TurnClient) Transcribe(ctx context.Context, audioData []byte) (*Result, error) {
	if c.config.APIKey == "" {
		return nil, &ConfigurationError{Detail: "transcription API key is missing"}
	}

	if len(audioData) == 0 {
		return nil, &InputError{Detail: "recording is empty"}
	}

	audioURL, err := c.upload(ctx, audioData)
	if err != nil {
		return nil, err
	}

	jobID, err := c.createJob(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	slog.Debug("Transcription job created", "job_id", jobID)

	return c.poll(ctx, jobID)
}

// upload sends the raw audio bytes and returns the provider's audio URL
func (c *TurnClient) upload(ctx context.Context, audioData []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.UploadEndpoint, bytes.NewReader(audioData))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", c.config.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("audio upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &UploadError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var uploaded uploadResponse
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return "", &UploadError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if uploaded.UploadURL == "" {
		return "", &UploadError{Status: resp.StatusCode, Body: "response missing upload_url"}
	}

	return uploaded.UploadURL, nil
}

// createJob submits a transcription job for the uploaded audio
func (c *TurnClient) createJob(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(jobRequest{
		AudioURL:          audioURL,
		LanguageDetection: true,
		Punctuate:         true,
		FormatText:        true,
		SpeakerLabels:     false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode job request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TranscriptEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create job request: %w", err)
	}
	req.Header.Set("Authorization", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("job creation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read job response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &JobCreationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var job jobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return "", &JobCreationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if job.ID == "" {
		return "", &JobCreationError{Status: resp.StatusCode, Body: "response missing job id"}
	}

	return job.ID, nil
}

// poll checks the job until it reaches a terminal state or the retry budget
// runs out. One check happens per interval tick, MaxPollRetries checks total.
func (c *TurnClient) poll(ctx context.Context, jobID string) (*Result, error) {
	for attempt := 1; attempt <= c.config.MaxPollRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transcription cancelled while polling job %s: %w", jobID, ctx.Err())
		case <-time.After(c.config.PollInterval):
		}

		status, err := c.pollOnce(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case "completed":
			result := &Result{
				JobID:         jobID,
				Text:          status.Text,
				Confidence:    status.Confidence,
				AudioDuration: status.AudioDuration,
				Polls:         attempt,
			}
			if strings.TrimSpace(status.Text) == "" {
				// Completed with nothing recognized. Valid outcome,
				// flagged so callers can tell the user.
				result.Text = ""
				result.EmptyTranscript = true
				result.Words = status.Words
				slog.Warn("Transcription completed with empty transcript",
					"job_id", jobID,
					"audio_duration", status.AudioDuration,
					"words", len(status.Words))
			}
			return result, nil

		case "error":
			detail := status.Error
			if detail == "" {
				detail = "provider reported failure without detail"
			}
			return nil, &TranscriptionError{JobID: jobID, Detail: detail}

		case "queued", "processing":
			slog.Debug("Transcription job pending",
				"job_id", jobID,
				"status", status.Status,
				"attempt", attempt)

		default:
			slog.Warn("Unknown transcription job status",
				"job_id", jobID,
				"status", status.Status)
		}
	}

	return nil, &PollTimeoutError{JobID: jobID, Attempts: c.config.MaxPollRetries}
}

func (c *TurnClient) pollOnce(ctx context.Context, jobID string) (*pollResponse, error) {
	endpoint := strings.TrimRight(c.config.TranscriptEndpoint, "/") + "/" + jobID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("Authorization", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request for job %s failed: %w", jobID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read poll response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &PollError{JobID: jobID, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var status pollResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &PollError{JobID: jobID, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return &status, nil
}
