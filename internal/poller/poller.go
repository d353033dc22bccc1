// Package poller watches a remote task until it reaches a terminal state.
package poller

import (
	"context"
	"time"

	"aidesk/internal/async"
	"aidesk/internal/logging"
	"aidesk/internal/observability"
	"aidesk/internal/protocol"
)

// DefaultInterval is the fixed delay between status queries.
const DefaultInterval = 2 * time.Second

// StatusSource fetches the current state of a task.
type StatusSource interface {
	Status(ctx context.Context, taskID string) (protocol.StatusResponse, error)
}

// Observation is one state report delivered to the session.
type Observation struct {
	TaskID string
	State  protocol.TaskState
	Result *protocol.ReportResult
	Error  string
}

// Terminal reports whether the observation ends the task.
func (o Observation) Terminal() bool {
	return o.State.Terminal()
}

// Poller queries a StatusSource at a fixed interval with no backoff and no
// attempt limit.
type Poller struct {
	source   StatusSource
	interval time.Duration
	metrics  *observability.Metrics
	logger   logging.Logger
}

// New creates a poller. A non-positive interval selects DefaultInterval.
func New(source StatusSource, interval time.Duration, metrics *observability.Metrics, logger logging.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("Poller")
	}
	return &Poller{source: source, interval: interval, metrics: metrics, logger: logger}
}

// Run polls taskID immediately and then every interval. Intermediate
// cancelling states are delivered as they are seen; the first terminal state
// is delivered once and Run returns. Cancelling ctx stops it silently.
func (p *Poller) Run(ctx context.Context, taskID string, deliver func(Observation)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if obs, ok := p.poll(ctx, taskID); ok && ctx.Err() == nil {
			deliver(obs)
			if obs.Terminal() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Start runs Run in a background goroutine. The returned stop function
// cancels polling and waits for the goroutine to exit.
func (p *Poller) Start(ctx context.Context, taskID string, deliver func(Observation)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := async.Go(p.logger, "poller."+taskID, func() {
		p.Run(ctx, taskID, deliver)
	})
	return func() {
		cancel()
		<-done
	}
}

func (p *Poller) poll(ctx context.Context, taskID string) (Observation, bool) {
	status, err := p.source.Status(ctx, taskID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("status poll for %s failed: %v", taskID, err)
			p.metrics.PollError()
		}
		return Observation{}, false
	}

	obs := Observation{TaskID: taskID, State: status.State, Error: status.Error}
	switch status.State {
	case protocol.TaskStateCompleted:
		result, err := DecodeResult(status.Result)
		if err != nil {
			p.logger.Warn("task %s completed with an unusable result: %v", taskID, err)
			obs.State = protocol.TaskStateFailed
			obs.Error = err.Error()
			return obs, true
		}
		obs.Result = result
		return obs, true
	case protocol.TaskStateFailed, protocol.TaskStateCancelled, protocol.TaskStateCancelling:
		return obs, true
	case protocol.TaskStateRunning:
		return obs, false
	default:
		p.logger.Warn("task %s reported unknown state %q", taskID, status.State)
		return obs, false
	}
}
