// Package gateway is the client for the remote orchestration API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "aidesk/internal/errors"
	"aidesk/internal/httpclient"
	"aidesk/internal/logging"
	"aidesk/internal/protocol"
)

// Operation names carried by TransportError.Op.
const (
	OpStart  = "start"
	OpCancel = "cancel"
	OpStatus = "status"
)

const maxResponseBytes = 8 << 20

// Client issues start, cancel and status calls against the orchestration API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient returns a client for baseURL. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration, logger logging.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse orchestrator url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("orchestrator url %q must be http or https", baseURL)
	}
	return &Client{
		baseURL:    parsed,
		httpClient: httpclient.New(timeout),
		logger:     logging.OrNop(logger),
	}, nil
}

// Start submits a new task.
func (c *Client) Start(ctx context.Context, req protocol.StartRequest) (protocol.StartResponse, error) {
	var resp protocol.StartResponse
	if err := c.do(ctx, OpStart, http.MethodPost, "/orchestrate/run", req, &resp); err != nil {
		return protocol.StartResponse{}, err
	}
	if resp.TaskID == "" {
		return protocol.StartResponse{}, &apperrors.TransportError{Op: OpStart, Err: fmt.Errorf("response carried no task id")}
	}
	return resp, nil
}

// Cancel requests cooperative cancellation of taskID.
func (c *Client) Cancel(ctx context.Context, taskID string) (protocol.CancelResponse, error) {
	var resp protocol.CancelResponse
	err := c.do(ctx, OpCancel, http.MethodPost, "/orchestrate/cancel/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// Status fetches the current state of taskID.
func (c *Client) Status(ctx context.Context, taskID string) (protocol.StatusResponse, error) {
	var resp protocol.StatusResponse
	err := c.do(ctx, OpStatus, http.MethodGet, "/orchestrate/status/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// ResolveURL turns a server-relative link such as a pdfUrl into an absolute one.
func (c *Client) ResolveURL(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.baseURL.ResolveReference(parsed).String()
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return &apperrors.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := httpclient.Exchange(c.httpClient, req, op, maxResponseBytes)
	if err != nil {
		return err
	}
	c.logger.Debug("%s %s -> %d in %s", method, path, resp.StatusCode, time.Since(started))

	if resp.StatusCode >= http.StatusBadRequest {
		return &apperrors.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", errorMessage(resp.Body))}
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &apperrors.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage prefers the API's error body over the raw text.
func errorMessage(raw []byte) string {
	var decoded protocol.ErrorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error != "" {
		if decoded.Details != "" {
			return decoded.Error + ": " + decoded.Details
		}
		return decoded.Error
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty response"
	}
	return text
}
