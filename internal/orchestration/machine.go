// Package orchestration drives one report task at a time through start,
// polling, cancellation and the post-task cleanup window.
package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "aidesk/internal/errors"
	"aidesk/internal/logging"
	"aidesk/internal/poller"
	"aidesk/internal/protocol"
)

// ErrBusy is returned by Start while a task or its cleanup is in progress.
var ErrBusy = errors.New("a report is already in progress")

// errAbandoned reports a start that raced with Abandon.
var errAbandoned = errors.New("session abandoned while starting")

// Gateway is the remote task API.
type Gateway interface {
	Start(ctx context.Context, req protocol.StartRequest) (protocol.StartResponse, error)
	Cancel(ctx context.Context, taskID string) (protocol.CancelResponse, error)
}

// Watcher polls a task in the background until stop is called or a
// terminal observation has been delivered. *poller.Poller implements it.
type Watcher interface {
	Start(ctx context.Context, taskID string, deliver func(poller.Observation)) (stop func())
}

// Confirmer asks the user to confirm a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Presenter receives session updates. Callbacks run in transition order and
// must not call back into the Machine.
type Presenter interface {
	StateChanged(snapshot Snapshot)
	PresentResult(taskID string, result *protocol.ReportResult)
	PresentFailure(err error)
}

// Deps groups the collaborators of a Machine.
type Deps struct {
	Gateway   Gateway
	Watcher   Watcher
	Confirmer Confirmer
	Presenter Presenter
	Policy    Policy
	Logger    logging.Logger
}

// Machine is the client-side task orchestration state machine. Both
// processing and cancelling are derived from one phase, so they can never be
// true together.
type Machine struct {
	mu sync.Mutex
	// notifyMu keeps presenter callbacks in transition order.
	notifyMu sync.Mutex

	phase     Phase
	taskID    string
	banner    Banner
	startedAt time.Time

	// generation invalidates timers armed for an earlier transition.
	generation uint64
	timer      *time.Timer
	stopPoll   func()

	gateway   Gateway
	watcher   Watcher
	confirmer Confirmer
	presenter Presenter
	policy    Policy
	logger    logging.Logger
	now       func() time.Time
}

// NewMachine returns an idle machine.
func NewMachine(deps Deps) *Machine {
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("Orchestration")
	}
	return &Machine{
		gateway:   deps.Gateway,
		watcher:   deps.Watcher,
		confirmer: deps.Confirmer,
		presenter: deps.Presenter,
		policy:    deps.Policy.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// effects are presenter calls collected under the lock and run after it.
type effects []func()

func (fx *effects) add(f func()) {
	*fx = append(*fx, f)
}

// commit releases mu and runs fx in order. Must be called with mu held.
func (m *Machine) commit(fx effects) {
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()
	for _, f := range fx {
		f()
	}
}

// changed queues a StateChanged notification for the current state. Must be called with mu held.
func (m *Machine) changed(fx *effects) {
	if m.presenter == nil {
		return
	}
	snap := m.snapshotLocked()
	fx.add(func() { m.presenter.StateChanged(snap) })
}

// Snapshot returns a copy of the session state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:      m.phase,
		Processing: m.phase == PhaseStarting || m.phase == PhaseRunning,
		Cancelling: m.phase == PhaseCancelling,
		TaskID:     m.taskID,
		Banner:     m.banner,
		StartedAt:  m.startedAt,
	}
}

// CanCancel reports whether the cancel action is available: the task is
// running and the cancel button delay has elapsed since it started.
func (m *Machine) CanCancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == PhaseRunning && m.now().Sub(m.startedAt) >= m.policy.CancelButtonDelay
}

// Policy returns the effective timings.
func (m *Machine) Policy() Policy {
	return m.policy
}

// Start submits req and begins polling the new task. It is accepted only
// from the idle phase.
func (m *Machine) Start(ctx context.Context, req protocol.StartRequest) error {
	var fx effects
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		m.mu.Unlock()
		return &apperrors.PreconditionError{Field: "projectId"}
	}
	m.phase = PhaseStarting
	m.banner = Banner{}
	m.generation++
	startGen := m.generation
	m.changed(&fx)
	m.commit(fx)

	resp, err := m.gateway.Start(ctx, req)

	fx = nil
	m.mu.Lock()
	if m.phase != PhaseStarting || m.generation != startGen {
		m.mu.Unlock()
		if err == nil {
			m.logger.Warn("task %s started after the session was abandoned", resp.TaskID)
		}
		return errAbandoned
	}
	if err != nil {
		m.phase = PhaseIdle
		m.banner = Banner{Kind: BannerError, Text: opMessage("start", err)}
		m.changed(&fx)
		m.commit(fx)
		return err
	}

	m.phase = PhaseRunning
	m.taskID = resp.TaskID
	m.startedAt = m.now()
	m.generation++
	m.stopPoll = m.watcher.Start(context.Background(), resp.TaskID, m.observe)
	m.logger.Info("task %s started (mode=%s)", resp.TaskID, req.Mode)
	m.changed(&fx)
	m.commit(fx)
	return nil
}

// Cancel asks for confirmation and then requests cancellation of the running
// task. Outside the running phase, or when the user declines, it does nothing.
func (m *Machine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseRunning {
		m.mu.Unlock()
		return nil
	}
	taskID := m.taskID
	m.mu.Unlock()

	if m.confirmer != nil {
		ok, err := m.confirmer.Confirm(ctx, CancelPrompt)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	var fx effects
	m.mu.Lock()
	if m.phase != PhaseRunning || m.taskID != taskID {
		m.mu.Unlock()
		return nil
	}
	m.phase = PhaseCancelling
	m.banner = Banner{Kind: BannerCleanupRunning, Text: CancelRunningText}
	gen := m.arm(m.policy.CancelFallback, func(gen uint64) { m.onCancelFallback(gen, taskID) })
	m.changed(&fx)
	m.commit(fx)

	if _, err := m.gateway.Cancel(ctx, taskID); err != nil {
		fx = nil
		m.mu.Lock()
		if m.phase == PhaseCancelling && m.taskID == taskID && m.generation == gen {
			m.banner = Banner{Kind: BannerError, Text: opMessage("cancel", err)}
			m.changed(&fx)
		}
		m.commit(fx)
		return err
	}
	m.logger.Info("cancel requested for task %s", taskID)
	return nil
}

// Abandon stops polling and timers and resets the session to idle.
func (m *Machine) Abandon() {
	var fx effects
	m.mu.Lock()
	stop := m.stopPoll
	m.stopPoll = nil
	m.disarm()
	m.generation++
	m.phase = PhaseIdle
	m.taskID = ""
	m.banner = Banner{}
	m.changed(&fx)
	m.commit(fx)

	if stop != nil {
		stop()
	}
}

// observe handles one poller observation.
func (m *Machine) observe(obs poller.Observation) {
	var fx effects
	m.mu.Lock()
	if obs.TaskID == "" || obs.TaskID != m.taskID {
		m.mu.Unlock()
		m.logger.Debug("dropping observation for stale task %s", obs.TaskID)
		return
	}

	switch obs.State {
	case protocol.TaskStateCompleted:
		m.disarm()
		m.generation++
		m.phase = PhaseIdle
		m.taskID = ""
		m.banner = Banner{}
		m.stopPoll = nil
		m.changed(&fx)
		if m.presenter != nil {
			result := obs.Result
			fx.add(func() { m.presenter.PresentResult(obs.TaskID, result) })
		}

	case protocol.TaskStateFailed, protocol.TaskStateCancelled:
		m.phase = PhaseCleanup
		m.banner = Banner{Kind: BannerCleanupRunning, Text: GraceRunningText}
		m.arm(m.policy.CleanupGrace, m.onGraceExpired)
		m.changed(&fx)
		if obs.State == protocol.TaskStateFailed && m.presenter != nil {
			failure := &apperrors.RemoteFailure{TaskID: obs.TaskID, Message: obs.Error}
			fx.add(func() { m.presenter.PresentFailure(failure) })
		}

	case protocol.TaskStateCancelling:
		if m.phase == PhaseRunning || m.phase == PhaseCancelling {
			m.banner = Banner{Kind: BannerInfo, Text: CancellingText}
			m.changed(&fx)
		}
	}
	m.commit(fx)
}

// onCancelFallback moves a cancel that never reached a terminal observation
// into the cleanup window.
func (m *Machine) onCancelFallback(gen uint64, taskID string) {
	var fx effects
	m.mu.Lock()
	if gen != m.generation || m.phase != PhaseCancelling || m.taskID != taskID {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("no terminal state for task %s after %s; releasing session", taskID, m.policy.CancelFallback)
	m.phase = PhaseCleanup
	m.banner = Banner{Kind: BannerCleanupRunning, Text: CancelRunningText}
	m.arm(m.policy.CleanupGrace, m.onGraceExpired)
	m.changed(&fx)
	m.commit(fx)
}

func (m *Machine) onGraceExpired(gen uint64) {
	var fx effects
	m.mu.Lock()
	if gen != m.generation || m.phase != PhaseCleanup {
		m.mu.Unlock()
		return
	}
	stop := m.stopPoll
	m.stopPoll = nil
	m.timer = nil
	m.generation++
	m.phase = PhaseIdle
	m.taskID = ""
	m.banner = Banner{}
	m.changed(&fx)
	m.commit(fx)

	if stop != nil {
		stop()
	}
}

// arm replaces the pending timer with one firing fn after d. Must be called with mu held.
func (m *Machine) arm(d time.Duration, fn func(gen uint64)) uint64 {
	m.disarm()
	m.generation++
	gen := m.generation
	m.timer = time.AfterFunc(d, func() { fn(gen) })
	return gen
}

// disarm stops the pending timer. Must be called with mu held.
func (m *Machine) disarm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// opMessage prefixes err with op unless a TransportError already did.
func opMessage(op string, err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, op+": ") {
		return msg
	}
	return op + ": " + msg
}
