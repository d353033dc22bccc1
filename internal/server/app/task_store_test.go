package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aidesk/internal/protocol"
)

func TestInMemoryTaskStore_Create(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()

	task, err := store.Create(ctx, protocol.StartRequest{Mode: protocol.ModeSummarize, ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if !strings.HasPrefix(task.ID, "task-") {
		t.Errorf("Expected task ID with task- prefix, got '%s'", task.ID)
	}

	if task.ProjectID != "proj-1" {
		t.Errorf("Expected project ID 'proj-1', got '%s'", task.ProjectID)
	}

	if task.State != protocol.TaskStateRunning {
		t.Errorf("Expected state 'running', got '%s'", task.State)
	}

	if task.CreatedAt.IsZero() || task.StartedAt == nil {
		t.Error("CreatedAt and StartedAt should be set")
	}
}

func TestInMemoryTaskStore_Get(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()

	created, err := store.Create(ctx, protocol.StartRequest{Mode: protocol.ModeExtract, ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	retrieved, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if retrieved.ID != created.ID {
		t.Errorf("Expected task ID '%s', got '%s'", created.ID, retrieved.ID)
	}

	// Callers get copies
	retrieved.State = protocol.TaskStateFailed
	again, _ := store.Get(ctx, created.ID)
	if again.State != protocol.TaskStateRunning {
		t.Errorf("Mutating a returned task leaked into the store: %s", again.State)
	}

	_, err = store.Get(ctx, "non-existent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryTaskStore_SetState(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()

	tests := []struct {
		name           string
		state          protocol.TaskState
		checkCompleted bool
	}{
		{"Cancelling", protocol.TaskStateCancelling, false},
		{"Completed", protocol.TaskStateCompleted, true},
		{"Failed", protocol.TaskStateFailed, true},
		{"Cancelled", protocol.TaskStateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh, _ := store.Create(ctx, protocol.StartRequest{Mode: protocol.ModeSummarize, ProjectID: "p"})

			got, err := store.SetState(ctx, fresh.ID, tt.state)
			if err != nil {
				t.Fatalf("Failed to set state: %v", err)
			}
			if got != tt.state {
				t.Errorf("Expected resulting state '%s', got '%s'", tt.state, got)
			}

			updated, _ := store.Get(ctx, fresh.ID)
			if tt.checkCompleted && updated.CompletedAt == nil {
				t.Error("CompletedAt should be set for terminal state")
			}
			if !tt.checkCompleted && updated.CompletedAt != nil {
				t.Error("CompletedAt should stay unset for non-terminal state")
			}
		})
	}
}

func TestInMemoryTaskStore_TerminalStateIsFinal(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()

	task, _ := store.Create(ctx, protocol.StartRequest{Mode: protocol.ModeSummarize, ProjectID: "p"})
	if err := store.SetResult(ctx, task.ID, &protocol.ReportResult{Title: "done"}); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	got, err := store.SetState(ctx, task.ID, protocol.TaskStateCancelling)
	if err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if got != protocol.TaskStateCompleted {
		t.Errorf("Expected completed to stick, got '%s'", got)
	}

	if err := store.SetError(ctx, task.ID, errors.New("late failure")); err != nil {
		t.Fatalf("SetError failed: %v", err)
	}
	final, _ := store.Get(ctx, task.ID)
	if final.State != protocol.TaskStateCompleted || final.Error != "" {
		t.Errorf("Expected untouched completed task, got state=%s error=%q", final.State, final.Error)
	}
}

func TestInMemoryTaskStore_ResultIgnoredWhileCancelling(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()

	task, _ := store.Create(ctx, protocol.StartRequest{Mode: protocol.ModeSummarize, ProjectID: "p"})
	_, _ = store.SetState(ctx, task.ID, protocol.TaskStateCancelling)

	if err := store.SetResult(ctx, task.ID, &protocol.ReportResult{Title: "late"}); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	got, _ := store.Get(ctx, task.ID)
	if got.State != protocol.TaskStateCancelling || got.Result != nil {
		t.Errorf("Expected cancelling task without result, got state=%s result=%v", got.State, got.Result)
	}
}

func TestInMemoryTaskStore_ListAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()

	first, _ := store.Create(ctx, protocol.StartRequest{Mode: protocol.ModeSummarize, ProjectID: "a"})
	time.Sleep(2 * time.Millisecond)
	second, _ := store.Create(ctx, protocol.StartRequest{Mode: protocol.ModeSummarize, ProjectID: "b"})

	tasks, total, err := store.List(ctx, 1, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(tasks) != 1 || tasks[0].ID != second.ID {
		t.Fatalf("Expected newest task first out of 2, got total=%d tasks=%v", total, tasks)
	}

	_ = store.SetError(ctx, first.ID, errors.New("boom"))
	if removed := store.Prune(ctx, time.Now().Add(time.Minute)); removed != 1 {
		t.Errorf("Expected 1 pruned task, got %d", removed)
	}
	if _, err := store.Get(ctx, second.ID); err != nil {
		t.Errorf("Running task should survive pruning: %v", err)
	}
}
