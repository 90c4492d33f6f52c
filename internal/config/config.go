package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Speech     SpeechConfig     `yaml:"speech"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Completion CompletionConfig `yaml:"completion"`
	Documents  DocumentsConfig  `yaml:"documents"`
	Session    SessionConfig    `yaml:"session"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// SpeechConfig contains live streaming speech-to-text configuration
type SpeechConfig struct {
	StreamingURL string `yaml:"streaming_url"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	Language     string `yaml:"language"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
}

// TranscribeConfig contains turn-based (upload then poll) transcription configuration
type TranscribeConfig struct {
	UploadURL      string  `yaml:"upload_url"`
	JobURL         string  `yaml:"job_url"`
	APIKey         string  `yaml:"api_key"`
	Timeout        int     `yaml:"timeout"`          // seconds, per HTTP round trip
	PollInterval   float64 `yaml:"poll_interval"`    // seconds between status polls
	MaxPollRetries int     `yaml:"max_poll_retries"` // polling attempts before giving up
}

// CompletionConfig contains language-model completion backend configuration
type CompletionConfig struct {
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Timeout int    `yaml:"timeout"` // seconds
}

// DocumentsConfig contains document upload configuration
type DocumentsConfig struct {
	UploadURL    string   `yaml:"upload_url"`
	APIKey       string   `yaml:"api_key"`
	InboxDir     string   `yaml:"inbox_dir"` // optional watched drop directory
	MaxFileSize  int64    `yaml:"max_file_size"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// SessionConfig contains recording session and silence detection parameters
type SessionConfig struct {
	SilenceThreshold float64 `yaml:"silence_threshold"` // normalized energy in [0,1]
	SilenceHoldMs    int     `yaml:"silence_hold_ms"`   // continuous silence before auto-stop
	FrameSize        int     `yaml:"frame_size"`        // samples per audio frame
}

// HistoryConfig contains local chat history persistence configuration
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, then applies environment
// overrides for credentials. A .env file in the working directory is honored
// when present; its absence is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv overrides credentials from the environment. Credentials are the
// only values allowed to live outside the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SPEECH_API_KEY"); v != "" {
		c.Speech.APIKey = v
	}
	if v := os.Getenv("TRANSCRIBE_API_KEY"); v != "" {
		c.Transcribe.APIKey = v
	}
	if v := os.Getenv("COMPLETION_API_KEY"); v != "" {
		c.Completion.APIKey = v
	}
	if v := os.Getenv("DOCUMENT_API_KEY"); v != "" {
		c.Documents.APIKey = v
	}
}

// applyDefaults fills unset optional values with working defaults.
func (c *Config) applyDefaults() {
	if c.Speech.SampleRate == 0 {
		c.Speech.SampleRate = 16000
	}
	if c.Speech.Channels == 0 {
		c.Speech.Channels = 1
	}
	if c.Speech.Language == "" {
		c.Speech.Language = "en-US"
	}
	if c.Transcribe.Timeout == 0 {
		c.Transcribe.Timeout = 30
	}
	if c.Transcribe.PollInterval == 0 {
		c.Transcribe.PollInterval = 2.0
	}
	if c.Transcribe.MaxPollRetries == 0 {
		c.Transcribe.MaxPollRetries = 30
	}
	if c.Completion.Timeout == 0 {
		c.Completion.Timeout = 30
	}
	if c.Documents.MaxFileSize == 0 {
		c.Documents.MaxFileSize = 10 * 1024 * 1024
	}
	if c.Session.SilenceThreshold == 0 {
		c.Session.SilenceThreshold = 0.05
	}
	if c.Session.SilenceHoldMs == 0 {
		c.Session.SilenceHoldMs = 2000
	}
	if c.Session.FrameSize == 0 {
		c.Session.FrameSize = 4096
	}
}

// Validate performs comprehensive validation of the configuration.
// Credentials are deliberately not required here: a missing credential fails
// the operation that needs it, not process startup.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}

	if err := c.Transcribe.Validate(); err != nil {
		return fmt.Errorf("transcribe config: %w", err)
	}

	if err := c.Completion.Validate(); err != nil {
		return fmt.Errorf("completion config: %w", err)
	}

	if err := c.Documents.Validate(); err != nil {
		return fmt.Errorf("documents config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates speech streaming configuration
func (s *SpeechConfig) Validate() error {
	if s.StreamingURL == "" {
		return fmt.Errorf("streaming_url cannot be empty")
	}

	if s.SampleRate < 8000 || s.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", s.SampleRate)
	}

	if s.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", s.Channels)
	}

	return nil
}

// Validate validates turn-based transcription configuration
func (t *TranscribeConfig) Validate() error {
	if t.UploadURL == "" {
		return fmt.Errorf("upload_url cannot be empty")
	}

	if t.JobURL == "" {
		return fmt.Errorf("job_url cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %f", t.PollInterval)
	}

	if t.MaxPollRetries < 1 {
		return fmt.Errorf("max_poll_retries must be at least 1, got %d", t.MaxPollRetries)
	}

	return nil
}

// Validate validates completion backend configuration
func (c *CompletionConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	return nil
}

// Validate validates document upload configuration
func (d *DocumentsConfig) Validate() error {
	if d.UploadURL == "" {
		return fmt.Errorf("upload_url cannot be empty")
	}

	if d.MaxFileSize < 1 {
		return fmt.Errorf("max_file_size must be positive, got %d", d.MaxFileSize)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.SilenceThreshold < 0 || s.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", s.SilenceThreshold)
	}

	if s.SilenceHoldMs < 1 {
		return fmt.Errorf("silence_hold_ms must be positive, got %d", s.SilenceHoldMs)
	}

	if s.FrameSize < 256 || s.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 256 and 16384 samples, got %d", s.FrameSize)
	}

	return nil
}

// Validate validates history configuration. An empty path disables
// persistence.
func (h *HistoryConfig) Validate() error {
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the per-request transcription timeout as a time.Duration
func (t *TranscribeConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetPollIntervalDuration returns the poll interval as a time.Duration
func (t *TranscribeConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(t.PollInterval * float64(time.Second))
}

// GetTimeoutDuration returns the completion timeout as a time.Duration
func (c *CompletionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetSilenceHoldDuration returns the silence hold as a time.Duration
func (s *SessionConfig) GetSilenceHoldDuration() time.Duration {
	return time.Duration(s.SilenceHoldMs) * time.Millisecond
}
