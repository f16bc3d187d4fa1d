package tasks

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/presidium/orchestrator/internal/events"
	"github.com/presidium/orchestrator/internal/pane"
	"github.com/presidium/orchestrator/internal/roster"
)

// UsageLimitChecker is the narrow slice of the Usage-Limit Coordinator
// (C8) the dispatch loop consults before handing out work (§4.7 step 1).
// Defined here, not imported from usagelimit, to keep this package free
// of any dependency on C8.
type UsageLimitChecker interface {
	IsActive() bool
}

// Dispatcher is the Task Queue & Dispatcher (C7): owns the task cache,
// the data-access facade, and the periodic+reactive assignment loop.
// Grounded in the teacher's StandardDispatcher (single in-flight guard,
// one mutation at a time) generalized from its multi-agent "execute
// plan" shape to the spec's single-president hand-off.
type Dispatcher struct {
	store   Store
	queue   *Queue
	bus     *events.Bus
	pane    *pane.Adapter
	roster  *roster.Roster
	limiter UsageLimitChecker

	dispatching int32 // atomic: 0=idle, 1=running (single-flight guard)
}

// NewDispatcher wires the dispatcher's dependencies. limiter may be nil
// until the usage-limit coordinator is constructed; AttachLimiter sets it once
// wiring completes the C7/C8 cycle.
func NewDispatcher(store Store, bus *events.Bus, p *pane.Adapter, r *roster.Roster) *Dispatcher {
	return &Dispatcher{
		store:  store,
		queue:  NewQueue(),
		bus:    bus,
		pane:   p,
		roster: r,
	}
}

// AttachLimiter wires the usage-limit coordinator once it exists, late
// in bootstrap, avoiding a tasks->usagelimit import.
func (d *Dispatcher) AttachLimiter(limiter UsageLimitChecker) {
	d.limiter = limiter
}

// Refresh reloads the in-memory cache from the store (the 30-second
// timer, and any cache-invalidating mutation, call this).
func (d *Dispatcher) Refresh() error {
	all, err := d.store.GetAllTasks()
	if err != nil {
		return fmt.Errorf("refresh task cache: %w", err)
	}
	d.queue.Replace(all)
	return nil
}

// CreateTask mints a fresh pending task. Never fails on concurrency: the
// store's counter increment is its own transaction.
func (d *Dispatcher) CreateTask(title, description, projectName string, deliverables []string) (*Task, error) {
	n, err := d.store.IncrementTaskIDCounter()
	if err != nil {
		return nil, fmt.Errorf("mint task id: %w", err)
	}

	t := NewTask(fmt.Sprintf("task-%d", n), title, description)
	t.ProjectName = projectName
	t.Deliverables = deliverables
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := d.store.CreateTask(t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	d.queue.Add(t)

	d.publish(events.TaskQueued, events.TaskTarget(t.ID), t)
	go d.Dispatch(context.Background())
	return t, nil
}

func (d *Dispatcher) ListTasks() []*Task                  { return d.queue.All() }
func (d *Dispatcher) GetTask(id string) *Task              { return d.queue.GetByID(id) }
func (d *Dispatcher) CountsByStatus() map[Status]int        { return d.queue.CountsByStatus() }

// MarkFailed transitions an in_progress task to failed and records the
// transition, then kicks a redispatch so the next pending task runs.
func (d *Dispatcher) MarkFailed(id, reason string) error {
	t := d.queue.GetByID(id)
	if t == nil {
		return fmt.Errorf("not found: task %s", id)
	}
	from := t.Status
	if err := t.MarkFailed(reason); err != nil {
		return err
	}
	if err := d.persistAndRecord(t, from, reason); err != nil {
		return err
	}
	d.publish(events.TaskFailed, events.TaskTarget(t.ID), t)
	go d.Dispatch(context.Background())
	return nil
}

// Retry resets a failed/cancelled task back to pending.
func (d *Dispatcher) Retry(id string) (*Task, error) {
	t := d.queue.GetByID(id)
	if t == nil {
		return nil, fmt.Errorf("not found: task %s", id)
	}
	from := t.Status
	if err := t.Retry(); err != nil {
		return nil, err
	}
	if err := d.persistAndRecord(t, from, ""); err != nil {
		return nil, err
	}
	d.publish(events.TaskRetried, events.TaskTarget(t.ID), t)
	go d.Dispatch(context.Background())
	return t, nil
}

// CloneAsNew completes the source task and creates a fresh pending twin.
func (d *Dispatcher) CloneAsNew(id string) (*Task, error) {
	t := d.queue.GetByID(id)
	if t == nil {
		return nil, fmt.Errorf("not found: task %s", id)
	}
	from := t.Status

	n, err := d.store.IncrementTaskIDCounter()
	if err != nil {
		return nil, fmt.Errorf("mint task id: %w", err)
	}
	newID := fmt.Sprintf("task-%d", n)

	clone, err := t.CloneAsNew(newID)
	if err != nil {
		return nil, err
	}
	clone.ProjectName = t.ProjectName
	clone.Deliverables = t.Deliverables

	if err := d.persistAndRecord(t, from, ""); err != nil {
		return nil, err
	}
	d.publish(events.TaskCompleted, events.TaskTarget(t.ID), t)

	if err := d.store.CreateTask(clone); err != nil {
		return nil, fmt.Errorf("persist clone: %w", err)
	}
	d.queue.Add(clone)
	d.publish(events.TaskQueued, events.TaskTarget(clone.ID), clone)

	go d.Dispatch(context.Background())
	return clone, nil
}

// Delete removes a task outright. Forbidden while in_progress or paused
// (§4.7): those must be cancelled first.
func (d *Dispatcher) Delete(id string) error {
	t := d.queue.GetByID(id)
	if t == nil {
		return fmt.Errorf("not found: task %s", id)
	}
	if t.Status == StatusInProgress || t.Status == StatusPaused {
		return fmt.Errorf("conflict: cannot delete task %s while %s", id, t.Status)
	}

	if err := d.store.DeleteTask(id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	d.queue.Remove(id)

	if t.ProjectName != "" {
		if err := os.RemoveAll(workspacePath(t.ProjectName)); err != nil {
			log.Printf("[TASKS] best-effort workspace cleanup failed for %s: %v", t.ProjectName, err)
		}
	}
	d.publish(events.TaskDeleted, events.TaskTarget(id), map[string]any{"id": id})
	return nil
}

func workspacePath(projectName string) string {
	return "workspaces/" + projectName
}

// Cancel transitions a pending/in_progress/paused task to cancelled.
// Idempotent: cancelling an already-cancelled task is a no-op success
// rather than a conflict, so two identical cancel(id) calls produce
// exactly one task-cancelled event.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	t := d.queue.GetByID(id)
	if t == nil {
		return fmt.Errorf("not found: task %s", id)
	}
	if t.Status == StatusCancelled {
		return nil
	}

	wasInProgress := t.Status == StatusInProgress
	assignedTo := t.AssignedTo
	from := t.Status

	if err := t.Cancel(); err != nil {
		return err
	}

	if wasInProgress && assignedTo != "" {
		if entry, ok := d.roster.ByName(assignedTo); ok {
			if err := d.pane.Send(ctx, entry.PaneTarget, []string{"Ctrl+C"}); err != nil {
				log.Printf("[TASKS] failed to interrupt %s for cancel of %s: %v", assignedTo, id, err)
			}
		}
	}

	if err := d.persistAndRecord(t, from, ""); err != nil {
		return err
	}
	d.publish(events.TaskCancelled, events.TaskTarget(t.ID), t)
	go d.Dispatch(context.Background())
	return nil
}

// PersistPausedTask writes a task the usage-limit coordinator has
// already paused or resumed in-memory (§4.8). It exists so C8 can
// persist a generic Pause/Resume transition without the tasks package
// depending back on usagelimit for event types.
func (d *Dispatcher) PersistPausedTask(t *Task) error {
	if err := d.store.UpdateTask(t); err != nil {
		return fmt.Errorf("persist task: %w", err)
	}
	d.queue.Add(t)
	return nil
}

func (d *Dispatcher) persistAndRecord(t *Task, from Status, reason string) error {
	if err := d.store.UpdateTask(t); err != nil {
		return fmt.Errorf("persist task: %w", err)
	}
	if err := d.store.RecordTransition(t.ID, from, t.Status, reason); err != nil {
		log.Printf("[TASKS] failed to record transition for %s: %v", t.ID, err)
	}
	d.queue.Add(t)
	return nil
}

func (d *Dispatcher) publish(t events.Type, target string, payload any) {
	data, _ := toPayloadMap(payload)
	if err := d.bus.Publish(events.New(t, target, data)); err != nil {
		log.Printf("[TASKS] failed to publish %s: %v", t, err)
	}
}

func toPayloadMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	if t, ok := v.(*Task); ok {
		return map[string]any{
			"id":          t.ID,
			"title":       t.Title,
			"status":      string(t.Status),
			"assigned_to": t.AssignedTo,
		}, nil
	}
	return nil, nil
}

// Dispatch runs one pass of the dispatch loop (§4.7). It is safe to call
// concurrently from many goroutines: only one pass actually executes at
// a time, re-entry is a no-op, exactly mirroring the teacher's
// non-reentrant heartbeat convention.
func (d *Dispatcher) Dispatch(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&d.dispatching, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&d.dispatching, 0)

	if d.limiter != nil && d.limiter.IsActive() {
		return
	}

	next := d.queue.NextPending()
	if next == nil {
		return
	}

	if err := d.assignToPresident(ctx, next); err != nil {
		log.Printf("[TASKS] assignment of %s to president deferred: %v", next.ID, err)
		return
	}
}

// assignToPresident performs the three-step hand-off: clear the
// president's session, send the task payload, then mark the task
// in_progress. If any step fails the task remains pending.
func (d *Dispatcher) assignToPresident(ctx context.Context, t *Task) error {
	president := d.roster.President()

	if err := d.pane.Send(ctx, president.PaneTarget, []string{"/clear", "Enter"}); err != nil {
		return fmt.Errorf("clear president session: %w", err)
	}

	payload := formatTaskPayload(t)
	if err := d.pane.SendLiteral(ctx, president.PaneTarget, payload, true); err != nil {
		return fmt.Errorf("send task payload: %w", err)
	}

	from := t.Status
	if err := t.Start(president.Name); err != nil {
		return fmt.Errorf("transition to in_progress: %w", err)
	}
	if err := d.persistAndRecord(t, from, ""); err != nil {
		return err
	}

	d.publish(events.TaskAssigned, events.TaskTarget(t.ID), t)
	return nil
}

func formatTaskPayload(t *Task) string {
	if t.ProjectName != "" {
		return fmt.Sprintf("New task [%s] (project: %s): %s\n%s", t.ID, t.ProjectName, t.Title, t.Description)
	}
	return fmt.Sprintf("New task [%s]: %s\n%s", t.ID, t.Title, t.Description)
}
