package ports

import (
	"context"
	"time"

	"aidesk/internal/protocol"
)

// Task represents one report generation run
type Task struct {
	ID             string                 `json:"task_id"`
	Mode           protocol.Mode          `json:"mode"`
	ProjectID      string                 `json:"project_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	Visualize      bool                   `json:"visualize"`
	State          protocol.TaskState     `json:"state"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Result         *protocol.ReportResult `json:"result,omitempty"`

	// Cleanup tracks the post-cancel cleanup (scheduled, in_progress or done)
	Cleanup string `json:"cleanup,omitempty"`
}

// TaskStore manages task lifecycle and persistence
type TaskStore interface {
	// Create registers a running task for req
	Create(ctx context.Context, req protocol.StartRequest) (*Task, error)

	// Get returns a copy of the task
	Get(ctx context.Context, taskID string) (*Task, error)

	// List returns tasks newest first with pagination
	List(ctx context.Context, limit int, offset int) ([]*Task, int, error)

	// SetState moves a task to state and returns the state it ends up in.
	// Terminal tasks are never moved again.
	SetState(ctx context.Context, taskID string, state protocol.TaskState) (protocol.TaskState, error)

	// SetCleanup records the cleanup progress of a cancelled task
	SetCleanup(ctx context.Context, taskID string, cleanup string) error

	// SetError records task failure
	SetError(ctx context.Context, taskID string, err error) error

	// SetResult stores task completion result
	SetResult(ctx context.Context, taskID string, result *protocol.ReportResult) error

	// Prune drops terminal tasks that completed before cutoff
	Prune(ctx context.Context, cutoff time.Time) int
}
