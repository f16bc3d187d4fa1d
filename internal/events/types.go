// Package events implements the typed event bus (C9): a closed set of
// event variants published to external subscribers over an embedded NATS
// transport and relayed to browser clients over WebSocket.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type is the fixed tag identifying an event variant. The set is closed;
// new event kinds require a new constant here, never a free-form string.
type Type string

const (
	TaskQueued                Type = "task-queued"
	TaskAssigned               Type = "task-assigned"
	TaskCompleted              Type = "task-completed"
	TaskCancelled              Type = "task-cancelled"
	TaskFailed                 Type = "task-failed"
	TaskRetried                Type = "task-retried"
	TaskDeleted                Type = "task-deleted"
	TaskQueueUpdated           Type = "task-queue-updated"
	UsageLimitReached          Type = "usage-limit-reached"
	UsageLimitCleared          Type = "usage-limit-cleared"
	UsageLimitResolved         Type = "usage-limit-resolved"
	PausedTasksResumed         Type = "paused-tasks-resumed"
	SystemHealth               Type = "system-health"
	AutoRecoveryPerformed      Type = "auto-recovery-performed"
	AutoRecoveryStatus         Type = "auto-recovery-status"
	AutoRecoveryFailed         Type = "auto-recovery-failed"
	AgentStatusUpdated         Type = "agent-status-updated"
	AgentActivityDetected      Type = "agent-activity-detected"
	AgentDetailedStatus        Type = "agent-detailed-status"
	EmergencyStopCompleted     Type = "emergency-stop-completed"
	SessionResetCompleted      Type = "session-reset-completed"
	ProjectCompletionCleanup   Type = "project-completion-cleanup"
)

// AllTypes returns every defined event type, for subscribers that want
// an explicit allow-list rather than "all".
func AllTypes() []Type {
	return []Type{
		TaskQueued, TaskAssigned, TaskCompleted, TaskCancelled, TaskFailed,
		TaskRetried, TaskDeleted, TaskQueueUpdated,
		UsageLimitReached, UsageLimitCleared, UsageLimitResolved, PausedTasksResumed,
		SystemHealth, AutoRecoveryPerformed, AutoRecoveryStatus, AutoRecoveryFailed,
		AgentStatusUpdated, AgentActivityDetected, AgentDetailedStatus,
		EmergencyStopCompleted, SessionResetCompleted, ProjectCompletionCleanup,
	}
}

// TargetAll addresses every subscriber regardless of entity.
const TargetAll = "all"

// Event is a single published occurrence. Target determines ordering
// scope: events sharing a Target are delivered to a given subscriber in
// publish order; there is no ordering guarantee across different targets.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Target    string         `json:"target"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

// New creates an event with a fresh ID and a server-assigned timestamp.
func New(eventType Type, target string, payload map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Target:    target,
		CreatedAt: time.Now(),
		Payload:   payload,
	}
}

// TaskTarget scopes ordering to a single task id.
func TaskTarget(taskID string) string { return "task:" + taskID }

// AgentTarget scopes ordering to a single agent id.
func AgentTarget(agentID string) string { return "agent:" + agentID }
