package poller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "aidesk/internal/errors"
	"aidesk/internal/logging"
	"aidesk/internal/observability"
	"aidesk/internal/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	mu      sync.Mutex
	replies []reply
	calls   int
}

type reply struct {
	status protocol.StatusResponse
	err    error
}

func (s *scriptedSource) Status(_ context.Context, taskID string) (protocol.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.replies[len(s.replies)-1]
	if s.calls < len(s.replies) {
		r = s.replies[s.calls]
	}
	s.calls++
	r.status.TaskID = taskID
	return r.status, r.err
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func state(s protocol.TaskState) reply {
	return reply{status: protocol.StatusResponse{State: s}}
}

func collect(p *Poller, taskID string) []Observation {
	var got []Observation
	p.Run(context.Background(), taskID, func(o Observation) { got = append(got, o) })
	return got
}

func TestRunDeliversIntermediateThenTerminalOnce(t *testing.T) {
	source := &scriptedSource{replies: []reply{
		state(protocol.TaskStateRunning),
		state(protocol.TaskStateCancelling),
		state(protocol.TaskStateCancelled),
	}}
	got := collect(New(source, time.Millisecond, nil, logging.Nop()), "task-1")

	require.Len(t, got, 2)
	assert.Equal(t, protocol.TaskStateCancelling, got[0].State)
	assert.False(t, got[0].Terminal())
	assert.Equal(t, protocol.TaskStateCancelled, got[1].State)
	assert.Equal(t, "task-1", got[1].TaskID)
	assert.Equal(t, 3, source.count())
}

func TestRunKeepsPollingThroughTransportErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.MustNewMetrics(registry)
	source := &scriptedSource{replies: []reply{
		{err: &apperrors.TransportError{Op: "status", Err: errors.New("connection refused")}},
		{err: &apperrors.TransportError{Op: "status", Err: errors.New("connection refused")}},
		{status: protocol.StatusResponse{State: protocol.TaskStateFailed, Error: "model timeout"}},
	}}
	got := collect(New(source, time.Millisecond, metrics, logging.Nop()), "task-2")

	require.Len(t, got, 1)
	assert.Equal(t, protocol.TaskStateFailed, got[0].State)
	assert.Equal(t, "model timeout", got[0].Error)

	expected := `
# HELP aidesk_poller_status_errors_total Status queries that failed and were retried on the next tick.
# TYPE aidesk_poller_status_errors_total counter
aidesk_poller_status_errors_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "aidesk_poller_status_errors_total"))
}

func TestRunFlattensCompletedChart(t *testing.T) {
	result := json.RawMessage(`{"title":"Trend","summary":"up","pdfUrl":"/files/a.txt","chart":{"type":"line","labels":["a","b","c"],"values":[[1,2],[3]]}}`)
	source := &scriptedSource{replies: []reply{{status: protocol.StatusResponse{State: protocol.TaskStateCompleted, Result: result}}}}

	got := collect(New(source, time.Millisecond, nil, logging.Nop()), "task-3")
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Result)
	require.NotNil(t, got[0].Result.Chart)
	assert.Equal(t, []float64{1, 2, 3}, got[0].Result.Chart.Values)
	assert.Equal(t, protocol.ChartLine, got[0].Result.Chart.Type)
	assert.Equal(t, "/files/a.txt", got[0].Result.PDFURL)
	assert.Equal(t, []string{}, got[0].Result.Recommendations)
}

func TestRunTurnsUnusableResultIntoFailure(t *testing.T) {
	source := &scriptedSource{replies: []reply{{status: protocol.StatusResponse{State: protocol.TaskStateCompleted}}}}

	got := collect(New(source, time.Millisecond, nil, logging.Nop()), "task-4")
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TaskStateFailed, got[0].State)
	assert.Contains(t, got[0].Error, "no result")
}

func TestStopAbandonsWithoutDelivery(t *testing.T) {
	source := &scriptedSource{replies: []reply{state(protocol.TaskStateRunning)}}
	p := New(source, time.Millisecond, nil, logging.Nop())

	var mu sync.Mutex
	delivered := 0
	stop := p.Start(context.Background(), "task-5", func(Observation) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	require.Eventually(t, func() bool { return source.count() >= 3 }, time.Second, time.Millisecond)
	stop()

	calls := source.count()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, source.count())
	mu.Lock()
	assert.Zero(t, delivered)
	mu.Unlock()
}

func TestDecodeResultAcceptsFlatValues(t *testing.T) {
	result, err := DecodeResult(json.RawMessage(`{"title":"t","summary":"s","recommendations":["a"],"pdfUrl":"","chart":{"type":"bar","labels":["x"],"values":[4]}}`))
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, result.Chart.Values)
	assert.Equal(t, []string{"a"}, result.Recommendations)

	_, err = DecodeResult(json.RawMessage(`{"title":`))
	assert.Error(t, err)
}
