// Package httpclient holds the shared HTTP plumbing of the API clients.
package httpclient

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apperrors "aidesk/internal/errors"
)

// New returns a client with a total request timeout and bounded dial and
// header waits. A non-positive timeout leaves requests bounded only by their context.
func New(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Timeout: timeout, Transport: transport}
}

// BodyTooLargeError means the server sent more than the caller accepts.
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("response body larger than %d bytes", e.Limit)
}

// Response is a fully read reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// Exchange sends req and reads at most limit bytes of the reply. Network
// failures, unreadable bodies and oversized bodies come back as a
// TransportError tagged with op; the status code is left to the caller.
// A non-positive limit reads the whole body.
func Exchange(client *http.Client, req *http.Request, op string, limit int64) (Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, &apperrors.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body, limit)
	if err != nil {
		return Response{}, &apperrors.TransportError{Op: op, Err: err}
	}
	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &BodyTooLargeError{Limit: limit}
	}
	return data, nil
}
