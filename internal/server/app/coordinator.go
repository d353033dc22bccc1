package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"aidesk/internal/async"
	"aidesk/internal/erp"
	"aidesk/internal/logging"
	"aidesk/internal/observability"
	"aidesk/internal/protocol"
	"aidesk/internal/server/ports"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Defaults for the post-cancel cleanup.
const (
	DefaultCleanupDuration = 20 * time.Second
	DefaultCleanupSteps    = 4
	defaultTopN            = 10
	cleanupDone            = "done"
)

var errCancelledByUser = errors.New("cancelled by user")

// ReportRunner produces a report for one mode over a loaded context.
type ReportRunner interface {
	Report(ctx context.Context, mode protocol.Mode, input any) (*protocol.ReportResult, error)
}

// ContextStore loads project and organization contexts.
type ContextStore interface {
	erp.ContextSource
	OrganizationContext(ctx context.Context, q erp.OrganizationQuery) (*erp.OrganizationContext, error)
}

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	CleanupDuration time.Duration
	CleanupSteps    int
}

// Coordinator runs report tasks in the background and tracks their state.
type Coordinator struct {
	tasks    ports.TaskStore
	contexts ContextStore
	runner   ReportRunner
	renderer Renderer
	metrics  *observability.Metrics
	logger   logging.Logger

	cleanupDuration time.Duration
	cleanupSteps    int

	// cancelMu serializes cancel requests and guards cancelFuncs.
	cancelMu    sync.Mutex
	cancelFuncs map[string]context.CancelCauseFunc

	// base is cancelled by Shutdown to interrupt cleanups.
	base    context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
}

// NewCoordinator wires a coordinator. renderer and metrics may be nil.
func NewCoordinator(tasks ports.TaskStore, contexts ContextStore, runner ReportRunner, renderer Renderer, metrics *observability.Metrics, cfg CoordinatorConfig) *Coordinator {
	if cfg.CleanupDuration <= 0 {
		cfg.CleanupDuration = DefaultCleanupDuration
	}
	if cfg.CleanupSteps <= 0 {
		cfg.CleanupSteps = DefaultCleanupSteps
	}
	base, stopAll := context.WithCancel(context.Background())
	return &Coordinator{
		base:            base,
		stopAll:         stopAll,
		tasks:           tasks,
		contexts:        contexts,
		runner:          runner,
		renderer:        renderer,
		metrics:         metrics,
		logger:          logging.NewComponentLogger("Coordinator"),
		cleanupDuration: cfg.CleanupDuration,
		cleanupSteps:    cfg.CleanupSteps,
		cancelFuncs:     make(map[string]context.CancelCauseFunc),
	}
}

// Run validates req, registers a running task and executes it in the background.
// It returns immediately with a snapshot of the task record.
func (c *Coordinator) Run(ctx context.Context, req protocol.StartRequest) (*ports.Task, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}
	if c.cleanupInProgress(ctx) {
		return nil, ConflictError("previous cancellation still in progress")
	}

	task, err := c.tasks.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	c.metrics.TaskStarted(string(task.Mode))

	// Detached so the task outlives the HTTP request; explicit cancellation
	// still flows through the stored cancel function.
	taskCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	c.cancelMu.Lock()
	c.cancelFuncs[task.ID] = cancel
	c.cancelMu.Unlock()

	c.wg.Add(1)
	async.Go(c.logger, "coordinator.execute", func() {
		defer c.wg.Done()
		c.execute(taskCtx, task.ID, req)
	})

	c.logger.Info("Task created: taskID=%s, mode=%s, project=%s, organization=%s", task.ID, task.Mode, task.ProjectID, task.OrganizationID)
	return task, nil
}

// Status returns the current task record.
func (c *Coordinator) Status(ctx context.Context, taskID string) (*ports.Task, error) {
	return c.tasks.Get(ctx, taskID)
}

// Cancel requests cancellation. A running task moves to cancelling at once and
// its cleanup continues in the background; other states are reported as is.
func (c *Coordinator) Cancel(ctx context.Context, taskID string) (protocol.CancelResponse, error) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()

	task, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return protocol.CancelResponse{}, err
	}
	switch {
	case task.State.Terminal():
		return protocol.CancelResponse{Status: task.State}, nil
	case task.State == protocol.TaskStateCancelling:
		return protocol.CancelResponse{Status: protocol.TaskStateCancelling, Cleanup: protocol.CleanupInProgress}, nil
	}

	state, err := c.tasks.SetState(ctx, taskID, protocol.TaskStateCancelling)
	if err != nil {
		return protocol.CancelResponse{}, err
	}
	if state != protocol.TaskStateCancelling {
		// finished between the read and the write
		return protocol.CancelResponse{Status: state}, nil
	}
	_ = c.tasks.SetCleanup(ctx, taskID, protocol.CleanupScheduled)

	if cancel, ok := c.cancelFuncs[taskID]; ok {
		cancel(errCancelledByUser)
		delete(c.cancelFuncs, taskID)
	}

	c.wg.Add(1)
	async.Go(c.logger, "coordinator.cleanup", func() {
		defer c.wg.Done()
		c.cleanup(c.base, task)
	})

	c.logger.Info("Cancellation scheduled: taskID=%s", taskID)
	return protocol.CancelResponse{Status: protocol.TaskStateCancelling, Cleanup: protocol.CleanupScheduled}, nil
}

// Generate produces a report in the caller's request without registering a task.
func (c *Coordinator) Generate(ctx context.Context, req protocol.StartRequest) (*protocol.ReportResult, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, observability.SpanReportGenerate)
	span.SetAttributes(observability.TaskAttrs("", string(req.Mode), req.ProjectID)...)
	defer span.End()

	started := time.Now()
	result, err := c.produce(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Report generation failed: mode=%s, project=%s, error=%v", req.Mode, req.ProjectID, err)
		return nil, classifyLoadError(err)
	}
	c.logger.Info("Report generated: mode=%s, project=%s, elapsed=%s", req.Mode, req.ProjectID, time.Since(started))
	return result, nil
}

// ProjectContext returns the context reports and chat answers are built from.
func (c *Coordinator) ProjectContext(ctx context.Context, projectID string) (*erp.ProjectContext, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, ValidationError("projectId is required")
	}
	pc, err := c.contexts.ProjectContext(ctx, projectID)
	if err != nil {
		return nil, classifyLoadError(err)
	}
	return pc, nil
}

// Wait blocks until every background execution and cleanup has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown cancels running tasks and waits for background work or ctx expiry.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancelMu.Lock()
	for id, cancel := range c.cancelFuncs {
		cancel(errors.New("server shutting down"))
		delete(c.cancelFuncs, id)
	}
	c.cancelMu.Unlock()
	c.stopAll()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) cleanupInProgress(ctx context.Context) bool {
	tasks, _, err := c.tasks.List(ctx, 0, 0)
	if err != nil {
		return false
	}
	for _, task := range tasks {
		if task.State == protocol.TaskStateCancelling {
			return true
		}
	}
	return false
}

func (c *Coordinator) execute(ctx context.Context, taskID string, req protocol.StartRequest) {
	defer func() {
		c.cancelMu.Lock()
		delete(c.cancelFuncs, taskID)
		c.cancelMu.Unlock()
	}()

	startTime := time.Now()
	ctx, span := observability.Tracer().Start(ctx, observability.SpanTaskExecute)
	span.SetAttributes(observability.TaskAttrs(taskID, string(req.Mode), req.ProjectID)...)
	defer span.End()

	c.logger.Info("[Background] Starting task execution: taskID=%s", taskID)
	result, err := c.produce(ctx, req)

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		c.logger.Info("[Background] Task cancelled: taskID=%s, reason=%v", taskID, cause)
		if errors.Is(cause, errCancelledByUser) {
			// the cleanup goroutine owns the terminal transition
			span.SetAttributes(attribute.String(observability.AttrState, string(protocol.TaskStateCancelled)))
			return
		}
		_ = c.tasks.SetError(ctx, taskID, cause)
		c.finished(taskID, req.Mode, startTime)
		return
	}
	if err != nil {
		c.logger.Error("[Background] Task failed: taskID=%s, error=%v", taskID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(observability.AttrState, string(protocol.TaskStateFailed)))
		_ = c.tasks.SetError(ctx, taskID, err)
		c.finished(taskID, req.Mode, startTime)
		return
	}

	span.SetAttributes(attribute.String(observability.AttrState, string(protocol.TaskStateCompleted)))
	_ = c.tasks.SetResult(ctx, taskID, result)
	c.finished(taskID, req.Mode, startTime)
	c.logger.Info("[Background] Task completed: taskID=%s, elapsed=%s", taskID, time.Since(startTime))
}

// finished records metrics for whichever terminal state the task reached.
func (c *Coordinator) finished(taskID string, mode protocol.Mode, startTime time.Time) {
	task, err := c.tasks.Get(context.Background(), taskID)
	if err != nil || !task.State.Terminal() {
		return
	}
	c.metrics.TaskFinished(string(mode), string(task.State), time.Since(startTime))
}

func (c *Coordinator) produce(ctx context.Context, req protocol.StartRequest) (*protocol.ReportResult, error) {
	var (
		input   any
		monthly []erp.MonthlySales
	)
	if isRecommend(req.Mode) && req.OrganizationID != "" {
		oc, err := c.contexts.OrganizationContext(ctx, erp.OrganizationQuery{
			OrganizationID: req.OrganizationID,
			FromDate:       req.FromDate,
			ToDate:         req.ToDate,
			TopN:           req.TopN,
		})
		if err != nil {
			return nil, fmt.Errorf("load organization context: %w", err)
		}
		input, monthly = oc, oc.SalesMonthly
	} else {
		pc, err := c.contexts.ProjectContext(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("load project context: %w", err)
		}
		input, monthly = pc, pc.SalesMonthly
	}

	result, err := c.runner.Report(ctx, req.Mode, input)
	if err != nil {
		return nil, err
	}
	if req.Mode == protocol.ModeRecommendWithChart {
		if chart := revenueChart(monthly); chart != nil {
			result.Chart = chart
		}
	}

	if c.renderer != nil {
		url, err := c.renderer.Render(ctx, req.Mode, result)
		if err != nil {
			return nil, fmt.Errorf("render report: %w", err)
		}
		result.PDFURL = url
	}
	return result, nil
}

// cleanup runs the post-cancel teardown in steps and then marks the task cancelled.
func (c *Coordinator) cleanup(ctx context.Context, task *ports.Task) {
	ctx, span := observability.Tracer().Start(ctx, observability.SpanTaskCleanup)
	span.SetAttributes(observability.TaskAttrs(task.ID, string(task.Mode), task.ProjectID)...)
	defer span.End()

	_ = c.tasks.SetCleanup(ctx, task.ID, protocol.CleanupInProgress)
	step := c.cleanupDuration / time.Duration(c.cleanupSteps)
	timer := time.NewTimer(step)
	defer timer.Stop()
	for i := 1; i <= c.cleanupSteps; i++ {
		if i > 1 {
			timer.Reset(step)
		}
		select {
		case <-ctx.Done():
			c.logger.Warn("Cleanup interrupted: taskID=%s, step=%d/%d", task.ID, i, c.cleanupSteps)
			i = c.cleanupSteps
		case <-timer.C:
			c.logger.Debug("Cleanup step %d/%d done: taskID=%s", i, c.cleanupSteps, task.ID)
		}
	}

	_, _ = c.tasks.SetState(ctx, task.ID, protocol.TaskStateCancelled)
	_ = c.tasks.SetCleanup(ctx, task.ID, cleanupDone)
	start := task.CreatedAt
	if task.StartedAt != nil {
		start = *task.StartedAt
	}
	c.metrics.TaskFinished(string(task.Mode), string(protocol.TaskStateCancelled), time.Since(start))
	c.logger.Info("Cleanup finished: taskID=%s", task.ID)
}

// classifyLoadError marks an unknown project as ErrNotFound.
func classifyLoadError(err error) error {
	if errors.Is(err, erp.ErrProjectNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func normalizeRequest(req protocol.StartRequest) (protocol.StartRequest, error) {
	req.Mode = protocol.Mode(strings.TrimSpace(string(req.Mode)))
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	if req.Mode == "" {
		req.Mode = protocol.DefaultMode
	}
	if !req.Mode.Valid() {
		return req, ValidationError(fmt.Sprintf("unsupported mode %q", req.Mode))
	}
	if req.Mode == protocol.ModeRecommend && req.Visualize {
		req.Mode = protocol.ModeRecommendWithChart
	}

	if isRecommend(req.Mode) {
		if req.OrganizationID == "" && req.ProjectID == "" {
			return req, ValidationError("organizationId or projectId is required")
		}
		if req.TopN <= 0 {
			req.TopN = defaultTopN
		}
		return req, nil
	}
	if req.ProjectID == "" {
		return req, ValidationError("projectId is required")
	}
	return req, nil
}

func isRecommend(mode protocol.Mode) bool {
	return mode == protocol.ModeRecommend || mode == protocol.ModeRecommendWithChart
}

// revenueChart sums monthly revenue across products in calendar order. Fewer than two months yields nil.
func revenueChart(monthly []erp.MonthlySales) *protocol.Chart {
	var labels []string
	totals := make(map[string]float64)
	for _, row := range monthly {
		if row.YearMonth == "" {
			continue
		}
		if _, seen := totals[row.YearMonth]; !seen {
			labels = append(labels, row.YearMonth)
		}
		totals[row.YearMonth] += row.TotalRevenue
	}
	if len(labels) < 2 {
		return nil
	}
	sort.Strings(labels)
	values := make([]float64, len(labels))
	for i, label := range labels {
		values[i] = totals[label]
	}
	return &protocol.Chart{Type: protocol.ChartBar, Labels: labels, Values: values}
}
