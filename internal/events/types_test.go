package events

import "testing"

func TestNew_AssignsIDAndTimestamp(t *testing.T) {
	evt := New(TaskQueued, TaskTarget("t-1"), map[string]any{"title": "t"})

	if evt.ID == "" {
		t.Fatal("expected a non-empty event ID")
	}
	if evt.Target != "task:t-1" {
		t.Errorf("expected target task:t-1, got %s", evt.Target)
	}
	if evt.CreatedAt.IsZero() {
		t.Fatal("expected a non-zero CreatedAt")
	}
}

func TestAllTypes_ContainsEverySpecType(t *testing.T) {
	want := []Type{
		TaskQueued, TaskAssigned, TaskCompleted, TaskCancelled, TaskFailed,
		TaskRetried, TaskDeleted, TaskQueueUpdated,
		UsageLimitReached, UsageLimitCleared, UsageLimitResolved, PausedTasksResumed,
		SystemHealth, AutoRecoveryPerformed, AutoRecoveryStatus, AutoRecoveryFailed,
		AgentStatusUpdated, AgentActivityDetected, AgentDetailedStatus,
		EmergencyStopCompleted, SessionResetCompleted, ProjectCompletionCleanup,
	}

	got := AllTypes()
	if len(got) != len(want) {
		t.Fatalf("expected %d event types, got %d", len(want), len(got))
	}

	seen := make(map[Type]bool, len(got))
	for _, et := range got {
		seen[et] = true
	}
	for _, et := range want {
		if !seen[et] {
			t.Errorf("missing event type: %s", et)
		}
	}
}

func TestAgentTarget_TaskTarget_Distinct(t *testing.T) {
	if AgentTarget("x") == TaskTarget("x") {
		t.Fatal("agent and task targets for the same id must not collide")
	}
}
