package tasks

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/presidium/orchestrator/internal/events"
	"github.com/presidium/orchestrator/internal/pane"
	"github.com/presidium/orchestrator/internal/roster"
)

// fakeStore is a minimal in-memory Store, enough to exercise the
// dispatcher's control flow without a real database.
type fakeStore struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	counter  int64
	settings map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*Task), settings: make(map[string]string)}
}

func (s *fakeStore) GetAllTasks() ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) GetTaskByID(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id], nil
}

func (s *fakeStore) GetTasksByStatus(status Status) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) GetTaskCounts() (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *fakeStore) CreateTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *fakeStore) UpdateTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *fakeStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *fakeStore) RecordTransition(taskID string, from, to Status, reason string) error {
	return nil
}

func (s *fakeStore) GetSetting(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *fakeStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *fakeStore) IncrementTaskIDCounter() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter, nil
}

func (s *fakeStore) HealthCheck() error { return nil }
func (s *fakeStore) Initialize() error  { return nil }
func (s *fakeStore) Disconnect() error  { return nil }

func newTestRoster(t *testing.T) *roster.Roster {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	contents := `
agents:
  - name: president
    pane_target: main:0.0
    president: true
  - name: worker-1
    pane_target: main:0.1
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	r, err := roster.Load(path)
	if err != nil {
		t.Fatalf("failed to load test roster: %v", err)
	}
	return r
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeStore) {
	t.Helper()
	bus, err := events.NewBus(events.TransportConfig{Port: -1})
	if err != nil {
		t.Fatalf("failed to create test bus: %v", err)
	}
	t.Cleanup(bus.Shutdown)

	store := newFakeStore()
	d := NewDispatcher(store, bus, pane.Get(), newTestRoster(t))
	return d, store
}

func TestDispatcher_CreateTask(t *testing.T) {
	d, store := newTestDispatcher(t)

	task, err := d.CreateTask("title", "description", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != StatusPending {
		t.Errorf("expected new task to be pending, got %s", task.Status)
	}
	if _, err := store.GetTaskByID(task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.GetTask(task.ID); got == nil {
		t.Error("expected task to be present in the in-memory cache")
	}
}

func TestDispatcher_CreateTask_RejectsInvalid(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if _, err := d.CreateTask("", "description", "", nil); err == nil {
		t.Error("expected error for a task with no title")
	}
}

func TestDispatcher_MarkFailed(t *testing.T) {
	d, _ := newTestDispatcher(t)
	task, err := d.CreateTask("title", "description", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task.Status = StatusInProgress
	task.AssignedTo = "president"

	if err := d.MarkFailed(task.ID, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := d.GetTask(task.ID)
	if got.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", got.Status)
	}
	if got.FailureReason != "boom" {
		t.Errorf("expected failure reason to carry through, got %s", got.FailureReason)
	}
}

func TestDispatcher_MarkFailed_UnknownTask(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := d.MarkFailed("nope", "boom"); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestDispatcher_Retry(t *testing.T) {
	d, _ := newTestDispatcher(t)
	task, err := d.CreateTask("title", "description", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task.Status = StatusInProgress
	if err := d.MarkFailed(task.ID, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	retried, err := d.Retry(task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retried.Status != StatusPending {
		t.Errorf("expected pending after retry, got %s", retried.Status)
	}
	if retried.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", retried.RetryCount)
	}
}

func TestDispatcher_CloneAsNew(t *testing.T) {
	d, store := newTestDispatcher(t)
	task, err := d.CreateTask("title", "description", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task.Status = StatusInProgress

	clone, err := d.CloneAsNew(task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clone.Status != StatusPending {
		t.Errorf("expected clone to be pending, got %s", clone.Status)
	}
	if clone.ID == task.ID {
		t.Error("expected clone to have a distinct id")
	}
	source := d.GetTask(task.ID)
	if source.Status != StatusCompleted {
		t.Errorf("expected source task to be completed, got %s", source.Status)
	}
	if _, err := store.GetTaskByID(clone.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatcher_Delete_RejectsInProgress(t *testing.T) {
	d, _ := newTestDispatcher(t)
	task, err := d.CreateTask("title", "description", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task.Status = StatusInProgress

	if err := d.Delete(task.ID); err == nil {
		t.Error("expected conflict deleting an in_progress task")
	}
}

func TestDispatcher_Delete_RemovesPending(t *testing.T) {
	d, store := newTestDispatcher(t)
	task, err := d.CreateTask("title", "description", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Delete(task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.GetTask(task.ID) != nil {
		t.Error("expected task to be gone from the in-memory cache")
	}
	if got, _ := store.GetTaskByID(task.ID); got != nil {
		t.Error("expected task to be gone from the store")
	}
}

func TestDispatcher_Cancel_Pending(t *testing.T) {
	d, _ := newTestDispatcher(t)
	task, err := d.CreateTask("title", "description", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.GetTask(task.ID).Status != StatusCancelled {
		t.Errorf("expected cancelled status, got %s", d.GetTask(task.ID).Status)
	}
}

func TestDispatcher_Cancel_IdempotentOnAlreadyCancelled(t *testing.T) {
	d, _ := newTestDispatcher(t)
	task, err := d.CreateTask("title", "description", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Cancel(context.Background(), task.ID); err != nil {
		t.Errorf("expected second cancel to be a no-op success, got: %v", err)
	}
}

func TestDispatcher_Cancel_UnknownTask(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := d.Cancel(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown task")
	}
}

// fakeLimiter lets tests force the usage-limit gate on or off.
type fakeLimiter struct{ active bool }

func (f fakeLimiter) IsActive() bool { return f.active }

func TestDispatcher_Dispatch_SkipsWhenLimiterActive(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if _, err := d.CreateTask("title", "description", "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.AttachLimiter(fakeLimiter{active: true})

	d.Dispatch(context.Background())

	// The task must remain pending: the limiter gate short-circuits
	// before any pane interaction is attempted.
	all := d.ListTasks()
	if len(all) != 1 || all[0].Status != StatusPending {
		t.Errorf("expected task to remain pending while limiter is active, got %+v", all)
	}
}

func TestDispatcher_Dispatch_NoOpWhenQueueEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t)
	// Should return immediately without touching the pane adapter.
	d.Dispatch(context.Background())
}

func TestDispatcher_CountsByStatus(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if _, err := d.CreateTask("a", "d", "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counts := d.CountsByStatus()
	if counts[StatusPending] != 1 {
		t.Errorf("expected 1 pending, got %d", counts[StatusPending])
	}
}
