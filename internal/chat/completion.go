package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CompletionConfig contains completion client configuration
type CompletionConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// CompletionClient requests assistant replies from the completion service
type CompletionClient struct {
	config     CompletionConfig
	httpClient *http.Client
}

type completionTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Message string           `json:"message"`
	History []completionTurn `json:"history"`
}

type completionResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// NewCompletionClient creates a completion client
func NewCompletionClient(config CompletionConfig) (*CompletionClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("completion endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &CompletionClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Complete sends the new message with the prior conversation and returns
// the assistant's reply. The history excludes the message being sent.
func (c *CompletionClient) Complete(ctx context.Context, message string, history []Message) (string, error) {
	turns := make([]completionTurn, 0, len(history))
	for _, m := range history {
		turns = append(turns, completionTurn{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(completionRequest{
		Message: message,
		History: turns,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var completion completionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("failed to parse completion response: %w", err)
	}

	if completion.Error != "" {
		return "", fmt.Errorf("completion service reported error: %s", completion.Error)
	}

	return completion.Reply, nil
}
