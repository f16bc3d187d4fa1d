package tasks

import "testing"

func TestNewTask(t *testing.T) {
	task := NewTask("task-1", "Test title", "Test description")

	if task.ID != "task-1" {
		t.Errorf("expected id task-1, got: %s", task.ID)
	}
	if task.Status != StatusPending {
		t.Errorf("expected pending status, got: %s", task.Status)
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name  string
		task  *Task
		valid bool
	}{
		{"valid minimal", &Task{Title: "t"}, true},
		{"missing title", &Task{Title: ""}, false},
		{"project name too long", &Task{Title: "t", ProjectName: "this-is-a-very-long-project-name-x"}, false},
		{"project name with bad char", &Task{Title: "t", ProjectName: "my project"}, false},
		{"project name ok", &Task{Title: "t", ProjectName: "my_project-1"}, true},
	}

	for _, tt := range tests {
		err := tt.task.Validate()
		if tt.valid && err != nil {
			t.Errorf("%s: expected valid, got: %v", tt.name, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("%s: expected invalid", tt.name)
		}
	}
}

func TestTask_StartRequiresAssignee(t *testing.T) {
	task := NewTask("task-1", "t", "d")
	if err := task.Start(""); err == nil {
		t.Error("expected error starting with empty assignee")
	}
	if err := task.Start("president"); err != nil {
		t.Errorf("expected valid start, got: %v", err)
	}
	if task.Status != StatusInProgress {
		t.Errorf("expected in_progress, got: %s", task.Status)
	}
	if task.LastAttemptAt == nil {
		t.Error("expected LastAttemptAt to be set")
	}
}

func TestTask_CancelFromEachAllowedStatus(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusInProgress, StatusPaused} {
		task := NewTask("task-1", "t", "d")
		task.Status = status
		if err := task.Cancel(); err != nil {
			t.Errorf("cancel from %s: expected success, got: %v", status, err)
		}
		if task.Status != StatusCancelled {
			t.Errorf("cancel from %s: expected cancelled, got: %s", status, task.Status)
		}
		if task.CancelledAt == nil {
			t.Errorf("cancel from %s: expected CancelledAt set", status)
		}
	}
}

func TestTask_CancelFromTerminalIsConflict(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusCancelled, StatusFailed} {
		task := NewTask("task-1", "t", "d")
		task.Status = status
		if err := task.Cancel(); err == nil {
			t.Errorf("expected conflict cancelling from %s", status)
		}
	}
}

func TestTask_MarkFailedAppendsHistory(t *testing.T) {
	task := NewTask("task-1", "t", "d")
	task.Status = StatusInProgress

	if err := task.MarkFailed("boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(task.ErrorHistory) != 1 {
		t.Fatalf("expected 1 error history entry, got %d", len(task.ErrorHistory))
	}
	if task.ErrorHistory[0].Reason != "boom" {
		t.Errorf("expected reason boom, got: %s", task.ErrorHistory[0].Reason)
	}
}

func TestTask_PauseRequiresReason(t *testing.T) {
	task := NewTask("task-1", "t", "d")
	task.Status = StatusInProgress

	if err := task.Pause(""); err == nil {
		t.Error("expected error pausing with empty reason")
	}
	if err := task.Pause("usage limit"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if task.Status != StatusPaused {
		t.Errorf("expected paused, got: %s", task.Status)
	}
}

func TestTask_ResumeClearsPausedReason(t *testing.T) {
	task := NewTask("task-1", "t", "d")
	task.Status = StatusPaused
	task.PausedReason = "usage limit"

	if err := task.Resume(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != StatusInProgress {
		t.Errorf("expected in_progress, got: %s", task.Status)
	}
	if task.PausedReason != "" {
		t.Errorf("expected cleared paused reason, got: %q", task.PausedReason)
	}
}

func TestTask_RetryBumpsCountAndResetsAssignment(t *testing.T) {
	task := NewTask("task-1", "t", "d")
	task.Status = StatusFailed
	task.AssignedTo = "president"
	task.FailureReason = "boom"
	task.RetryCount = 2

	if err := task.Retry(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != StatusPending {
		t.Errorf("expected pending, got: %s", task.Status)
	}
	if task.RetryCount != 3 {
		t.Errorf("expected retryCount 3, got: %d", task.RetryCount)
	}
	if task.AssignedTo != "" {
		t.Errorf("expected cleared assignedTo, got: %q", task.AssignedTo)
	}
	if task.FailureReason != "" {
		t.Errorf("expected cleared failureReason, got: %q", task.FailureReason)
	}
}

func TestTask_RetryFromNonTerminalFailureIsConflict(t *testing.T) {
	task := NewTask("task-1", "t", "d")
	task.Status = StatusInProgress
	if err := task.Retry(); err == nil {
		t.Error("expected conflict retrying an in_progress task")
	}
}

func TestTask_CloneAsNewCompletesSourceAndResetsRetryCount(t *testing.T) {
	task := NewTask("task-1", "t", "d")
	task.Status = StatusInProgress
	task.RetryCount = 4

	clone, err := task.CloneAsNew("task-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != StatusCompleted {
		t.Errorf("expected source completed, got: %s", task.Status)
	}
	if clone.Status != StatusPending {
		t.Errorf("expected clone pending, got: %s", clone.Status)
	}
	if clone.RetryCount != 0 {
		t.Errorf("expected clone retryCount 0, got: %d", clone.RetryCount)
	}
	if clone.Title != task.Title || clone.Description != task.Description {
		t.Error("expected clone to share title/description")
	}
}

func TestTask_IsTerminal(t *testing.T) {
	completed := NewTask("task-1", "t", "d")
	completed.Status = StatusCompleted
	if !completed.IsTerminal() {
		t.Error("expected completed to be terminal")
	}

	pending := NewTask("task-2", "t", "d")
	if pending.IsTerminal() {
		t.Error("expected pending to not be terminal")
	}
}
