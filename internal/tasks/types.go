// Package tasks implements the task queue and dispatch half of the
// control plane (C7): Task lifecycle, the in-memory Queue, the SQLite
// Store interface it persists through, and the Dispatcher that hands
// tasks to the president agent.
package tasks

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Task (SPEC_FULL.md §3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// validTransitions defines the legal status graph. Retry (failed/cancelled
// -> pending) and clone-as-new are handled as distinct high-level
// operations below rather than plain TransitionTo calls, since they carry
// extra side effects (resetting assignedTo, bumping retryCount).
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusPaused, StatusCancelled},
	StatusPaused:     {StatusInProgress, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// ErrorEvent is one entry in a task's errorHistory.
type ErrorEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
	RetryCount int       `json:"retry_count"`
}

// Task is the central entity dispatched to the agent roster.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// ProjectName is a slug in [a-zA-Z0-9_-]+, <=30 chars, optional.
	ProjectName  string   `json:"project_name,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`

	Status     Status `json:"status"`
	AssignedTo string `json:"assigned_to,omitempty"`

	RetryCount    int        `json:"retry_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	PausedReason  string     `json:"paused_reason,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ErrorHistory  []ErrorEvent `json:"error_history,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// NewTask constructs a fresh pending task. id must already be minted by
// the caller (the store's AppSettings-backed counter, per §6).
func NewTask(id, title, description string) *Task {
	now := time.Now()
	return &Task{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate rejects structurally invalid tasks before they are admitted.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.ProjectName) > 30 {
		return fmt.Errorf("project name exceeds 30 characters")
	}
	for _, r := range t.ProjectName {
		isAllowed := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if !isAllowed {
			return fmt.Errorf("project name contains invalid character %q", r)
		}
	}
	return nil
}

// IsTerminal reports whether the task is completed or cancelled. A
// cancelled task can still be reset to pending by Retry.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// canTransition checks the status graph without mutating the task.
func (t *Task) canTransition(to Status) bool {
	for _, allowed := range validTransitions[t.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Start moves a pending task to in_progress, assigning it to an agent.
// §3 invariant: status=in_progress => assignedTo set.
func (t *Task) Start(assignedTo string) error {
	if !t.canTransition(StatusInProgress) {
		return fmt.Errorf("conflict: cannot start task %s from status %s", t.ID, t.Status)
	}
	if assignedTo == "" {
		return fmt.Errorf("conflict: start requires a non-empty assignee")
	}
	now := time.Now()
	t.Status = StatusInProgress
	t.AssignedTo = assignedTo
	t.LastAttemptAt = &now
	t.UpdatedAt = now
	return nil
}

// Complete moves an in_progress task to completed.
func (t *Task) Complete() error {
	if !t.canTransition(StatusCompleted) {
		return fmt.Errorf("conflict: cannot complete task %s from status %s", t.ID, t.Status)
	}
	t.Status = StatusCompleted
	t.UpdatedAt = time.Now()
	return nil
}

// MarkFailed moves an in_progress task to failed and appends to the
// error history.
func (t *Task) MarkFailed(reason string) error {
	if !t.canTransition(StatusFailed) {
		return fmt.Errorf("conflict: cannot fail task %s from status %s", t.ID, t.Status)
	}
	now := time.Now()
	t.Status = StatusFailed
	t.FailureReason = reason
	t.ErrorHistory = append(t.ErrorHistory, ErrorEvent{
		Timestamp:  now,
		Reason:     reason,
		RetryCount: t.RetryCount,
	})
	t.UpdatedAt = now
	return nil
}

// Pause moves an in_progress task to paused, preserving assignedTo so a
// later resume targets the same agent.
func (t *Task) Pause(reason string) error {
	if !t.canTransition(StatusPaused) {
		return fmt.Errorf("conflict: cannot pause task %s from status %s", t.ID, t.Status)
	}
	if reason == "" {
		return fmt.Errorf("conflict: pause requires a reason")
	}
	t.Status = StatusPaused
	t.PausedReason = reason
	t.UpdatedAt = time.Now()
	return nil
}

// Resume moves a paused task back to in_progress, retaining assignedTo
// and clearing pausedReason.
func (t *Task) Resume() error {
	if !t.canTransition(StatusInProgress) {
		return fmt.Errorf("conflict: cannot resume task %s from status %s", t.ID, t.Status)
	}
	t.Status = StatusInProgress
	t.PausedReason = ""
	t.UpdatedAt = time.Now()
	return nil
}

// Cancel moves a pending/in_progress/paused task to cancelled, retaining
// assignedTo and projectName as history. The status graph has no edge
// out of cancelled; only Retry resets it to pending.
func (t *Task) Cancel() error {
	if !t.canTransition(StatusCancelled) {
		return fmt.Errorf("conflict: cannot cancel task %s from status %s", t.ID, t.Status)
	}
	now := time.Now()
	t.Status = StatusCancelled
	t.CancelledAt = &now
	t.UpdatedAt = now
	return nil
}

// Retry resets a failed or cancelled task back to pending, bumping
// retryCount by exactly 1 and clearing assignment/failure fields.
// retryCount is monotonically non-decreasing across a task's life.
func (t *Task) Retry() error {
	if t.Status != StatusFailed && t.Status != StatusCancelled {
		return fmt.Errorf("conflict: cannot retry task %s from status %s", t.ID, t.Status)
	}
	t.Status = StatusPending
	t.RetryCount++
	t.AssignedTo = ""
	t.FailureReason = ""
	t.LastAttemptAt = nil
	t.UpdatedAt = time.Now()
	return nil
}

// CloneAsNew marks the receiver completed (it is the "source") and
// returns a brand-new pending task sharing title+description, with
// retryCount reset to 0.
func (t *Task) CloneAsNew(newID string) (*Task, error) {
	if err := t.Complete(); err != nil {
		return nil, fmt.Errorf("cannot clone task %s: %w", t.ID, err)
	}
	return NewTask(newID, t.Title, t.Description), nil
}
