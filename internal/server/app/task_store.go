package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"aidesk/internal/protocol"
	"aidesk/internal/server/ports"

	"github.com/google/uuid"
)

// InMemoryTaskStore implements TaskStore with in-memory storage
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*ports.Task
}

// NewInMemoryTaskStore creates a new in-memory task store
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks: make(map[string]*ports.Task),
	}
}

// Create registers a running task for req
func (s *InMemoryTaskStore) Create(ctx context.Context, req protocol.StartRequest) (*ports.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	task := &ports.Task{
		ID:             fmt.Sprintf("task-%s", uuid.New().String()),
		Mode:           req.Mode,
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
		Visualize:      req.Visualize,
		State:          protocol.TaskStateRunning,
		CreatedAt:      now,
		StartedAt:      &now,
	}

	s.tasks[task.ID] = task
	copied := *task
	return &copied, nil
}

// Get retrieves a copy of a task by ID
func (s *InMemoryTaskStore) Get(ctx context.Context, taskID string) (*ports.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, NotFoundError(fmt.Sprintf("task %s", taskID))
	}

	copied := *task
	return &copied, nil
}

// List returns tasks with pagination
func (s *InMemoryTaskStore) List(ctx context.Context, limit int, offset int) ([]*ports.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*ports.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		copied := *task
		tasks = append(tasks, &copied)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	total := len(tasks)
	if offset >= total {
		return []*ports.Task{}, total, nil
	}

	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	return tasks[offset:end], total, nil
}

// SetState updates task state and returns the resulting state. A terminal task keeps its state.
func (s *InMemoryTaskStore) SetState(ctx context.Context, taskID string, state protocol.TaskState) (protocol.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return "", NotFoundError(fmt.Sprintf("task %s", taskID))
	}
	if task.State.Terminal() {
		return task.State, nil
	}

	task.State = state

	if state.Terminal() && task.CompletedAt == nil {
		now := time.Now()
		task.CompletedAt = &now
	}

	return task.State, nil
}

// SetCleanup records cleanup progress
func (s *InMemoryTaskStore) SetCleanup(ctx context.Context, taskID string, cleanup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return NotFoundError(fmt.Sprintf("task %s", taskID))
	}
	task.Cleanup = cleanup
	return nil
}

// SetError records task failure unless the task already ended
func (s *InMemoryTaskStore) SetError(ctx context.Context, taskID string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return NotFoundError(fmt.Sprintf("task %s", taskID))
	}
	if task.State.Terminal() || task.State == protocol.TaskStateCancelling {
		return nil
	}

	task.Error = err.Error()
	task.State = protocol.TaskStateFailed
	now := time.Now()
	task.CompletedAt = &now

	return nil
}

// SetResult stores the report unless the task was cancelled meanwhile
func (s *InMemoryTaskStore) SetResult(ctx context.Context, taskID string, result *protocol.ReportResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return NotFoundError(fmt.Sprintf("task %s", taskID))
	}
	if task.State.Terminal() || task.State == protocol.TaskStateCancelling {
		return nil
	}

	task.Result = result
	task.State = protocol.TaskStateCompleted
	now := time.Now()
	task.CompletedAt = &now

	return nil
}

// Prune removes terminal tasks completed before cutoff and reports how many went
func (s *InMemoryTaskStore) Prune(ctx context.Context, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, task := range s.tasks {
		if task.State.Terminal() && task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}
