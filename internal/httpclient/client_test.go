package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "aidesk/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusBody = `{"taskId":"task-1","state":"completed","result":{"title":"Q3 restock","summary":"ok"}}`

func newRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestExchangeReadsBodyWithinLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(statusBody))
	}))
	defer server.Close()

	resp, err := Exchange(New(time.Second), newRequest(t, server.URL), "status", int64(len(statusBody)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, statusBody, string(resp.Body))
}

func TestExchangeOversizedBodyIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(statusBody))
	}))
	defer server.Close()

	_, err := Exchange(New(time.Second), newRequest(t, server.URL), "status", 16)
	require.Error(t, err)

	var transportErr *apperrors.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "status", transportErr.Op)
	assert.Zero(t, transportErr.StatusCode)

	var tooLarge *BodyTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, int64(16), tooLarge.Limit)
}

func TestExchangeLeavesErrorStatusToCaller(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	resp, err := Exchange(New(time.Second), newRequest(t, server.URL), "status", 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "task not found")
}

func TestExchangeConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := Exchange(New(time.Second), newRequest(t, url), "start", 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, "start", apperrors.OperationOf(err))
	assert.False(t, errors.As(err, new(*BodyTooLargeError)))
}

func TestReadBodyUnlimited(t *testing.T) {
	body, err := readBody(strings.NewReader(statusBody), 0)
	require.NoError(t, err)
	assert.Equal(t, statusBody, string(body))
}
