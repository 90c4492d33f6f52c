package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// UploaderConfig contains document upload client configuration
type UploaderConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPUploader sends files to the document service as multipart requests
type HTTPUploader struct {
	config     UploaderConfig
	httpClient *http.Client
}

type uploadResult struct {
	Reference string `json:"reference"`
	Error     string `json:"error,omitempty"`
}

// NewHTTPUploader creates a document upload client
func NewHTTPUploader(config UploaderConfig) (*HTTPUploader, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("document upload endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &HTTPUploader{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Upload posts the file and returns the service's reference for it
func (u *HTTPUploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file content: %w", err)
	}
	if err := writer.WriteField("content_type", contentType); err != nil {
		return "", fmt.Errorf("failed to write content type field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.config.Endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if u.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.config.APIKey)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("document service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result uploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}

	if result.Error != "" {
		return "", fmt.Errorf("document service reported error: %s", result.Error)
	}

	if result.Reference == "" {
		return "", fmt.Errorf("document service response missing reference")
	}

	return result.Reference, nil
}
