// Package compute talks to the remote completion service that produces report
// and chat content.
package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "aidesk/internal/errors"
	"aidesk/internal/httpclient"
	"aidesk/internal/logging"
)

// maxCompletionBytes bounds the completion response body.
const maxCompletionBytes = 4 << 20

// Completer turns a prompt into raw model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientConfig configures the HTTP completion client.
type ClientConfig struct {
	URL         string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 800
	}
	if c.Timeout <= 0 {
		c.Timeout = 6 * time.Minute
	}
	return c
}

// Client posts prompts to an OpenAI-style /v1/completions endpoint.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient returns a completion client for cfg.URL.
func NewClient(cfg ClientConfig, logger logging.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: httpclient.New(cfg.Timeout),
		logger:     logging.OrNop(logger),
	}
}

type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Text    string `json:"text"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content string `json:"content"`
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.cfg.URL == "" {
		return "", &apperrors.TransportError{Op: "complete", Err: fmt.Errorf("completion url not configured")}
	}

	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Prompt:      prompt,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := httpclient.Exchange(c.httpClient, req, "complete", maxCompletionBytes)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &apperrors.TransportError{
			Op:         "complete",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(resp.Body))),
		}
	}

	var decoded completionResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	c.logger.Debug("completion returned %d bytes in %s", len(resp.Body), time.Since(started))

	var text string
	switch {
	case len(decoded.Choices) > 0 && decoded.Choices[0].Text != "":
		text = decoded.Choices[0].Text
	case len(decoded.Choices) > 0:
		text = decoded.Choices[0].Message.Content
	default:
		text = decoded.Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("completion service returned no text")
	}
	return text, nil
}
