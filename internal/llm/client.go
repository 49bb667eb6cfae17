// Package llm talks to an OpenRouter-compatible chat completions endpoint.
//
// [Client] sends a single-turn prompt and returns the first choice's content.
// [Planner] and [Judge] build on it to implement the planner.Planner and
// verify.Judge collaborators.
//
// Key types:
//   - [Client] - minimal chat completions client
//   - [Planner] - numbered-list planning and remediation
//   - [Judge] - SCORE/REASON goal verification
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/tidwall/gjson"
)

// DefaultEndpoint is the OpenRouter chat completions URL.
const DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// Client sends prompts to a chat completions endpoint.
type Client struct {
	Endpoint string
	Model    string
	APIKey   string

	// Referer is sent as HTTP-Referer, which OpenRouter uses for attribution.
	Referer string

	httpClient *http.Client
}

// NewClient creates a Client. A zero timeout leaves requests bounded only by ctx.
func NewClient(endpoint, model, apiKey string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint:   endpoint,
		Model:      model,
		APIKey:     apiKey,
		Referer:    "https://github.com/workloop/workloop",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Complete sends prompt as a single user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.Referer != "" {
		req.Header.Set("HTTP-Referer", c.Referer)
	}

	logger.Debug("chat completion request", "endpoint", c.Endpoint, "model", c.Model)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return "", fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, msg)
	}

	content := gjson.GetBytes(data, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("chat response has no choices[0].message.content")
	}
	return content.String(), nil
}
