// Package agentcache implements the Agent State Cache (C4): the
// in-memory, never-persisted latest AgentStatus per roster agent, with
// change-filtered, debounce-coalesced propagation to subscribers.
// Grounded in the teacher's internal/persistence/store.go
// scheduleSave() (package-level debounce via time.AfterFunc), applied
// per-agent here instead of globally, and internal/metrics/collector.go's
// bounded-history pruning and "return a copy not a pointer" snapshot
// idiom.
package agentcache

import (
	"sync"
	"time"

	"github.com/presidium/orchestrator/internal/classifier"
)

// Status is one of the fixed AgentStatus states (§3).
type Status string

const (
	StatusIdle        Status = "idle"
	StatusWorking     Status = "working"
	StatusOffline     Status = "offline"
	StatusError       Status = "error"
	StatusUnreachable Status = "unreachable"
)

const (
	debounceWindow = 500 * time.Millisecond
	ringSize       = 10
)

// AgentStatus is the cache's per-agent published value.
type AgentStatus struct {
	ID               string
	Name             string
	Status           Status
	CurrentActivity  string
	WorkingOnFile    string
	ExecutingCommand string
	LastActivity     time.Time
	TerminalOutput   string
}

func (a AgentStatus) changedFrom(b AgentStatus) bool {
	return a.Status != b.Status ||
		a.CurrentActivity != b.CurrentActivity ||
		a.WorkingOnFile != b.WorkingOnFile ||
		a.ExecutingCommand != b.ExecutingCommand
}

// PublishFunc delivers a coalesced status update to subscribers (C9).
type PublishFunc func(AgentStatus)

type agentEntry struct {
	mu       sync.Mutex
	current  AgentStatus
	pending  AgentStatus
	lastSent time.Time
	timer    *time.Timer
	history  []classifier.ActivityInfo
}

// Cache is the C4 store.
type Cache struct {
	mu      sync.RWMutex
	agents  map[string]*agentEntry
	publish PublishFunc
}

// New constructs a Cache that calls publish on every change-filtered,
// debounce-coalesced update.
func New(publish PublishFunc) *Cache {
	return &Cache{
		agents:  make(map[string]*agentEntry),
		publish: publish,
	}
}

func (c *Cache) entryFor(id string) *agentEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.agents[id]
	if !ok {
		e = &agentEntry{}
		c.agents[id] = e
	}
	return e
}

// Update applies a new status reading for an agent, subject to the
// change filter and debounce window.
func (c *Cache) Update(status AgentStatus) {
	e := c.entryFor(status.ID)

	e.mu.Lock()
	defer e.mu.Unlock()

	sinceLastSend := time.Since(e.lastSent)
	changed := status.changedFrom(e.current)
	e.current = status
	e.pending = status

	if !changed && sinceLastSend < debounceWindow {
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(debounceWindow, func() {
		e.mu.Lock()
		toSend := e.pending
		e.lastSent = time.Now()
		e.mu.Unlock()
		if c.publish != nil {
			c.publish(toSend)
		}
	})
}

// RecordActivity appends to the agent's bounded ring of recent
// ActivityInfo (used by "detailed status" broadcasts), keeping at most
// the last 10 entries.
func (c *Cache) RecordActivity(agentID string, info classifier.ActivityInfo) {
	e := c.entryFor(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, info)
	if len(e.history) > ringSize {
		e.history = e.history[len(e.history)-ringSize:]
	}
}

// Get returns a copy of the agent's current status, or zero value if
// unknown. Callers never receive a pointer into cache-owned state.
func (c *Cache) Get(agentID string) (AgentStatus, bool) {
	c.mu.RLock()
	e, ok := c.agents[agentID]
	c.mu.RUnlock()
	if !ok {
		return AgentStatus{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, true
}

// RecentActivity returns a copy of the agent's ring buffer.
func (c *Cache) RecentActivity(agentID string) []classifier.ActivityInfo {
	c.mu.RLock()
	e, ok := c.agents[agentID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]classifier.ActivityInfo, len(e.history))
	copy(out, e.history)
	return out
}

// Clear wipes every cached agent status, stopping any pending debounce
// timers first so a stale update can't land after the clear. Used by the
// emergency-stop and session-reset cleanup protocols (§4.10), which must
// not let pre-stop "working"/file/command state survive the reset.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.agents {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
		}
		e.mu.Unlock()
	}
	c.agents = make(map[string]*agentEntry)
}

// All returns a snapshot of every cached agent status.
func (c *Cache) All() []AgentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]AgentStatus, 0, len(c.agents))
	for _, e := range c.agents {
		e.mu.Lock()
		out = append(out, e.current)
		e.mu.Unlock()
	}
	return out
}
