package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "aidesk/internal/errors"
	"aidesk/internal/logging"
	"aidesk/internal/poller"
	"aidesk/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	next      int
	starts    []protocol.StartRequest
	cancels   []string
	startErr  error
	cancelErr error
}

func (g *fakeGateway) Start(_ context.Context, req protocol.StartRequest) (protocol.StartResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.starts = append(g.starts, req)
	if g.startErr != nil {
		return protocol.StartResponse{}, g.startErr
	}
	g.next++
	return protocol.StartResponse{TaskID: fmt.Sprintf("task-%d", g.next), State: protocol.TaskStateRunning}, nil
}

func (g *fakeGateway) Cancel(_ context.Context, taskID string) (protocol.CancelResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, taskID)
	if g.cancelErr != nil {
		return protocol.CancelResponse{}, g.cancelErr
	}
	return protocol.CancelResponse{Status: protocol.TaskStateCancelling, Cleanup: protocol.CleanupScheduled}, nil
}

func (g *fakeGateway) startCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.starts)
}

// fakeWatcher records deliver callbacks so tests can inject observations.
type fakeWatcher struct {
	mu       sync.Mutex
	deliver  map[string]func(poller.Observation)
	stopped  map[string]bool
	watching []string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{deliver: map[string]func(poller.Observation){}, stopped: map[string]bool{}}
}

func (w *fakeWatcher) Start(_ context.Context, taskID string, deliver func(poller.Observation)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deliver[taskID] = deliver
	w.watching = append(w.watching, taskID)
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.stopped[taskID] = true
	}
}

func (w *fakeWatcher) emit(obs poller.Observation) {
	w.mu.Lock()
	deliver := w.deliver[obs.TaskID]
	w.mu.Unlock()
	deliver(obs)
}

func (w *fakeWatcher) isStopped(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped[taskID]
}

type staticConfirmer struct {
	answer bool
	asked  int
}

func (c *staticConfirmer) Confirm(context.Context, string) (bool, error) {
	c.asked++
	return c.answer, nil
}

type recordingPresenter struct {
	mu        sync.Mutex
	snapshots []Snapshot
	results   map[string]*protocol.ReportResult
	failures  []error
}

func (p *recordingPresenter) StateChanged(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
}

func (p *recordingPresenter) PresentResult(taskID string, result *protocol.ReportResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.results == nil {
		p.results = map[string]*protocol.ReportResult{}
	}
	p.results[taskID] = result
}

func (p *recordingPresenter) PresentFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, err)
}

func (p *recordingPresenter) all() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Snapshot(nil), p.snapshots...)
}

type harness struct {
	machine   *Machine
	gateway   *fakeGateway
	watcher   *fakeWatcher
	confirmer *staticConfirmer
	presenter *recordingPresenter
}

// scaledPolicy keeps the production ordering (grace longer than fallback) at test speed.
func scaledPolicy() Policy {
	return Policy{
		PollInterval:      time.Millisecond,
		CancelFallback:    30 * time.Millisecond,
		CleanupGrace:      60 * time.Millisecond,
		CancelButtonDelay: 20 * time.Millisecond,
	}
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	h := &harness{
		gateway:   &fakeGateway{},
		watcher:   newFakeWatcher(),
		confirmer: &staticConfirmer{answer: true},
		presenter: &recordingPresenter{},
	}
	h.machine = NewMachine(Deps{
		Gateway:   h.gateway,
		Watcher:   h.watcher,
		Confirmer: h.confirmer,
		Presenter: h.presenter,
		Policy:    policy,
		Logger:    logging.Nop(),
	})
	t.Cleanup(func() {
		h.machine.Abandon()
		for _, s := range h.presenter.all() {
			assert.False(t, s.Processing && s.Cancelling, "processing and cancelling both set in %+v", s)
		}
	})
	return h
}

func (h *harness) start(t *testing.T) string {
	t.Helper()
	require.NoError(t, h.machine.Start(context.Background(), protocol.StartRequest{Mode: protocol.ModeRecommendWithChart, ProjectID: "proj-demo"}))
	snap := h.machine.Snapshot()
	require.Equal(t, PhaseRunning, snap.Phase)
	require.NotEmpty(t, snap.TaskID)
	return snap.TaskID
}

func waitForPhase(t *testing.T, m *Machine, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Snapshot().Phase == phase }, time.Second, time.Millisecond,
		"phase never became %s", phase)
}

func TestStartRunsAndPolls(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	taskID := h.start(t)

	snap := h.machine.Snapshot()
	assert.True(t, snap.Processing)
	assert.False(t, snap.Cancelling)
	assert.Equal(t, BannerNone, snap.Banner.Kind)
	assert.Equal(t, []string{taskID}, h.watcher.watching)

	first := h.presenter.all()[0]
	assert.Equal(t, PhaseStarting, first.Phase)
	assert.True(t, first.Processing)
}

func TestStartRequiresProject(t *testing.T) {
	h := newHarness(t, scaledPolicy())

	err := h.machine.Start(context.Background(), protocol.StartRequest{Mode: protocol.ModeSummarize})
	var pre *apperrors.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, "projectId", pre.Field)
	assert.Equal(t, PhaseIdle, h.machine.Snapshot().Phase)
	assert.Zero(t, h.gateway.startCount())
}

func TestStartRejectedWhileBusy(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	taskID := h.start(t)
	require.True(t, h.machine.Snapshot().Busy())

	err := h.machine.Start(context.Background(), protocol.StartRequest{ProjectID: "proj-demo"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 1, h.gateway.startCount())
	assert.Equal(t, taskID, h.machine.Snapshot().TaskID)
}

func TestStartTransportFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	h.gateway.startErr = &apperrors.TransportError{Op: "start", Err: errors.New("connection refused")}

	err := h.machine.Start(context.Background(), protocol.StartRequest{ProjectID: "proj-demo"})
	require.Error(t, err)

	snap := h.machine.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Empty(t, snap.TaskID)
	assert.Equal(t, Banner{Kind: BannerError, Text: "start: connection refused"}, snap.Banner)
}

func TestCompletedGoesIdleImmediately(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	taskID := h.start(t)

	result := &protocol.ReportResult{Title: "Summary", PDFURL: "/files/r.txt"}
	h.watcher.emit(poller.Observation{TaskID: taskID, State: protocol.TaskStateCompleted, Result: result})

	snap := h.machine.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Empty(t, snap.TaskID)
	assert.Equal(t, BannerNone, snap.Banner.Kind)
	assert.Same(t, result, h.presenter.results[taskID])

	h.start(t)
}

func TestCancelledObservationHoldsGracePeriod(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	taskID := h.start(t)

	h.watcher.emit(poller.Observation{TaskID: taskID, State: protocol.TaskStateCancelled})

	snap := h.machine.Snapshot()
	assert.Equal(t, PhaseCleanup, snap.Phase)
	assert.False(t, snap.Processing)
	assert.False(t, snap.Cancelling)
	assert.Equal(t, taskID, snap.TaskID)
	assert.Equal(t, Banner{Kind: BannerCleanupRunning, Text: GraceRunningText}, snap.Banner)

	assert.ErrorIs(t, h.machine.Start(context.Background(), protocol.StartRequest{ProjectID: "proj-demo"}), ErrBusy)

	waitForPhase(t, h.machine, PhaseIdle)
	snap = h.machine.Snapshot()
	assert.Equal(t, BannerNone, snap.Banner.Kind)
	assert.Empty(t, snap.TaskID)
	assert.True(t, h.watcher.isStopped(taskID))
}

func TestFailedObservationReportsRemoteFailure(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	taskID := h.start(t)

	h.watcher.emit(poller.Observation{TaskID: taskID, State: protocol.TaskStateFailed, Error: "model timeout"})

	assert.Equal(t, PhaseCleanup, h.machine.Snapshot().Phase)
	require.Len(t, h.presenter.failures, 1)
	var remote *apperrors.RemoteFailure
	require.ErrorAs(t, h.presenter.failures[0], &remote)
	assert.Equal(t, taskID, remote.TaskID)
	assert.Equal(t, "model timeout", remote.Message)
}

func TestCancelFallbackReleasesSession(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	taskID := h.start(t)

	require.NoError(t, h.machine.Cancel(context.Background()))
	snap := h.machine.Snapshot()
	assert.Equal(t, PhaseCancelling, snap.Phase)
	assert.True(t, snap.Cancelling)
	assert.False(t, snap.Processing)
	assert.Equal(t, Banner{Kind: BannerCleanupRunning, Text: CancelRunningText}, snap.Banner)
	assert.Equal(t, []string{taskID}, h.gateway.cancels)

	waitForPhase(t, h.machine, PhaseCleanup)
	snap = h.machine.Snapshot()
	assert.False(t, snap.Cancelling)
	assert.Equal(t, taskID, snap.TaskID)
	assert.Equal(t, BannerCleanupRunning, snap.Banner.Kind)

	waitForPhase(t, h.machine, PhaseIdle)
	assert.Empty(t, h.machine.Snapshot().TaskID)
}

func TestTerminalAfterFallbackRearmsGrace(t *testing.T) {
	policy := scaledPolicy()
	policy.CleanupGrace = 120 * time.Millisecond
	h := newHarness(t, policy)
	taskID := h.start(t)

	require.NoError(t, h.machine.Cancel(context.Background()))
	waitForPhase(t, h.machine, PhaseCleanup)

	time.Sleep(policy.CleanupGrace / 2)
	h.watcher.emit(poller.Observation{TaskID: taskID, State: protocol.TaskStateCancelled})
	assert.Equal(t, GraceRunningText, h.machine.Snapshot().Banner.Text)

	time.Sleep(policy.CleanupGrace * 3 / 4)
	assert.Equal(t, PhaseCleanup, h.machine.Snapshot().Phase)
	waitForPhase(t, h.machine, PhaseIdle)
}

func TestStaleFallbackDoesNotTouchNextTask(t *testing.T) {
	// Grace shorter than fallback so a new task can be cancelling when the
	// first task's fallback would have fired.
	policy := Policy{PollInterval: time.Millisecond, CancelFallback: 80 * time.Millisecond, CleanupGrace: 10 * time.Millisecond}
	h := newHarness(t, policy)
	first := h.start(t)

	require.NoError(t, h.machine.Cancel(context.Background()))
	h.watcher.emit(poller.Observation{TaskID: first, State: protocol.TaskStateCancelled})
	waitForPhase(t, h.machine, PhaseIdle)

	second := h.start(t)
	require.NotEqual(t, first, second)
	require.NoError(t, h.machine.Cancel(context.Background()))

	time.Sleep(50 * time.Millisecond)
	snap := h.machine.Snapshot()
	assert.Equal(t, PhaseCancelling, snap.Phase)
	assert.Equal(t, second, snap.TaskID)
}

func TestStaleObservationIsDropped(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	first := h.start(t)
	h.watcher.emit(poller.Observation{TaskID: first, State: protocol.TaskStateCompleted, Result: &protocol.ReportResult{}})
	second := h.start(t)

	h.watcher.emit(poller.Observation{TaskID: first, State: protocol.TaskStateCancelled})

	snap := h.machine.Snapshot()
	assert.Equal(t, PhaseRunning, snap.Phase)
	assert.Equal(t, second, snap.TaskID)
}

func TestCancellingObservationOnlyUpdatesBanner(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	taskID := h.start(t)
	require.NoError(t, h.machine.Cancel(context.Background()))

	h.watcher.emit(poller.Observation{TaskID: taskID, State: protocol.TaskStateCancelling})

	snap := h.machine.Snapshot()
	assert.Equal(t, PhaseCancelling, snap.Phase)
	assert.Equal(t, Banner{Kind: BannerInfo, Text: CancellingText}, snap.Banner)
}

func TestCancelDeclinedIsNoop(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	h.start(t)
	h.confirmer.answer = false

	require.NoError(t, h.machine.Cancel(context.Background()))
	assert.Equal(t, 1, h.confirmer.asked)
	assert.Equal(t, PhaseRunning, h.machine.Snapshot().Phase)
	assert.Empty(t, h.gateway.cancels)
}

func TestCancelOutsideRunningIsIgnored(t *testing.T) {
	h := newHarness(t, scaledPolicy())

	require.NoError(t, h.machine.Cancel(context.Background()))
	assert.Zero(t, h.confirmer.asked)
	assert.Equal(t, PhaseIdle, h.machine.Snapshot().Phase)
}

func TestCancelTransportFailureKeepsCancelling(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	h.start(t)
	h.gateway.cancelErr = &apperrors.TransportError{Op: "cancel", StatusCode: 502, Err: errors.New("bad gateway")}

	require.Error(t, h.machine.Cancel(context.Background()))
	snap := h.machine.Snapshot()
	assert.Equal(t, PhaseCancelling, snap.Phase)
	assert.Equal(t, BannerError, snap.Banner.Kind)
	assert.Equal(t, "cancel: unexpected status 502: bad gateway", snap.Banner.Text)

	waitForPhase(t, h.machine, PhaseCleanup)
}

func TestCanCancelAfterDelay(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	clock := time.Now()
	h.machine.now = func() time.Time { return clock }

	assert.False(t, h.machine.CanCancel())
	h.start(t)
	assert.False(t, h.machine.CanCancel())

	clock = clock.Add(scaledPolicy().CancelButtonDelay)
	assert.True(t, h.machine.CanCancel())
}

func TestAbandonStopsPollingAndTimers(t *testing.T) {
	h := newHarness(t, scaledPolicy())
	taskID := h.start(t)
	require.NoError(t, h.machine.Cancel(context.Background()))

	h.machine.Abandon()
	assert.True(t, h.watcher.isStopped(taskID))
	assert.Equal(t, PhaseIdle, h.machine.Snapshot().Phase)

	time.Sleep(2 * scaledPolicy().CancelFallback)
	assert.Equal(t, PhaseIdle, h.machine.Snapshot().Phase)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.PollInterval)
	assert.Equal(t, 15*time.Second, p.CancelFallback)
	assert.Equal(t, 20*time.Second, p.CleanupGrace)
	assert.Equal(t, 5*time.Second, p.CancelButtonDelay)

	m := NewMachine(Deps{Policy: Policy{CleanupGrace: time.Second}})
	assert.Equal(t, time.Second, m.Policy().CleanupGrace)
	assert.Equal(t, 15*time.Second, m.Policy().CancelFallback)
}

// countingStatus reports running until the completeOn-th query.
type countingStatus struct {
	mu         sync.Mutex
	calls      int
	completeOn int
}

func (s *countingStatus) Status(_ context.Context, taskID string) (protocol.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls < s.completeOn {
		return protocol.StatusResponse{TaskID: taskID, State: protocol.TaskStateRunning}, nil
	}
	return protocol.StatusResponse{
		TaskID: taskID,
		State:  protocol.TaskStateCompleted,
		Result: json.RawMessage(`{"title":"Forecast","summary":"Demand rises","recommendations":["Reorder"],"pdfUrl":"/files/f.txt","chart":{"type":"bar","labels":["Jan","Feb"],"values":[[1],[2]]}}`),
	}, nil
}

func (s *countingStatus) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCompletedOnNthPollReachesIdleWithRealPoller(t *testing.T) {
	const (
		interval = 20 * time.Millisecond
		polls    = 3
	)
	status := &countingStatus{completeOn: polls}
	presenter := &recordingPresenter{}
	machine := NewMachine(Deps{
		Gateway:   &fakeGateway{},
		Watcher:   poller.New(status, interval, nil, logging.Nop()),
		Confirmer: &staticConfirmer{answer: true},
		Presenter: presenter,
		Policy:    Policy{PollInterval: interval},
		Logger:    logging.Nop(),
	})
	t.Cleanup(machine.Abandon)

	started := time.Now()
	require.NoError(t, machine.Start(context.Background(), protocol.StartRequest{ProjectID: "proj-demo"}))
	taskID := machine.Snapshot().TaskID
	require.NotEmpty(t, taskID)

	// Queries run at 0, 1 and 2 intervals; the slack absorbs scheduler jitter.
	require.Eventually(t, func() bool { return machine.Snapshot().Phase == PhaseIdle },
		polls*interval+100*time.Millisecond, time.Millisecond)
	elapsed := time.Since(started)

	snap := machine.Snapshot()
	assert.Empty(t, snap.TaskID)
	assert.Equal(t, BannerNone, snap.Banner.Kind)
	assert.GreaterOrEqual(t, elapsed, (polls-1)*interval)

	presenter.mu.Lock()
	result := presenter.results[taskID]
	presenter.mu.Unlock()
	require.NotNil(t, result)
	assert.Equal(t, "Forecast", result.Title)
	require.NotNil(t, result.Chart)
	assert.Equal(t, []float64{1, 2}, result.Chart.Values)

	time.Sleep(3 * interval)
	assert.Equal(t, polls, status.count())
	for _, s := range presenter.all() {
		assert.False(t, s.Processing && s.Cancelling)
	}
}
