package tasks

import (
	"sort"
	"sync"
)

// Queue is the in-memory cache of tasks (§4.7), refreshed on mutation and
// on a periodic timer owned by the scheduler. Adapted from the teacher's
// mutex-guarded slice+index Queue, with priority dropped (SPEC_FULL's
// Task has none) in favor of plain FIFO-by-CreatedAt ordering.
type Queue struct {
	mu    sync.RWMutex
	tasks []*Task
	index map[string]*Task
}

// NewQueue creates an empty task queue.
func NewQueue() *Queue {
	return &Queue{
		tasks: make([]*Task, 0),
		index: make(map[string]*Task),
	}
}

// Add inserts a task, or replaces it in place if the ID already exists.
func (q *Queue) Add(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[task.ID]; exists {
		q.replaceLocked(task)
		return
	}

	q.tasks = append(q.tasks, task)
	q.index[task.ID] = task
	q.sortLocked()
}

func (q *Queue) replaceLocked(task *Task) {
	q.index[task.ID] = task
	for i, t := range q.tasks {
		if t.ID == task.ID {
			q.tasks[i] = task
			break
		}
	}
	q.sortLocked()
}

// NextPending returns the oldest pending task without removing it, or
// nil if none is queued. This is what the dispatch loop acquires from.
func (q *Queue) NextPending() *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, t := range q.tasks {
		if t.Status == StatusPending {
			return t
		}
	}
	return nil
}

// GetByID returns a task by ID, or nil.
func (q *Queue) GetByID(id string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.index[id]
}

// GetByStatus returns every task with the given status.
func (q *Queue) GetByStatus(status Status) []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, t := range q.tasks {
		if t.Status == status {
			result = append(result, t)
		}
	}
	return result
}

// CountsByStatus returns the number of tasks in each status.
func (q *Queue) CountsByStatus() map[Status]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := make(map[Status]int)
	for _, t := range q.tasks {
		counts[t.Status]++
	}
	return counts
}

// Remove deletes a task by ID; reports whether it existed.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[id]; !exists {
		return false
	}

	delete(q.index, id)
	for i, t := range q.tasks {
		if t.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	return true
}

// All returns a snapshot of every task (for dashboard display). Callers
// receive an immutable slice of pointers into a copy, not the live
// backing array.
func (q *Queue) All() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Task, len(q.tasks))
	copy(result, q.tasks)
	return result
}

// Replace swaps the queue's full contents, used by the 30-second cache
// refresh after reading a fresh snapshot from the store.
func (q *Queue) Replace(all []*Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = make([]*Task, len(all))
	copy(q.tasks, all)
	q.index = make(map[string]*Task, len(all))
	for _, t := range q.tasks {
		q.index[t.ID] = t
	}
	q.sortLocked()
}

// Len reports how many tasks are cached.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

func (q *Queue) sortLocked() {
	sort.Slice(q.tasks, func(i, j int) bool {
		return q.tasks[i].CreatedAt.Before(q.tasks[j].CreatedAt)
	})
}
