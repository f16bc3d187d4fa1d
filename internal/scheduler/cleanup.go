package scheduler

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/presidium/orchestrator/internal/agentcache"
	"github.com/presidium/orchestrator/internal/events"
	"github.com/presidium/orchestrator/internal/health"
	"github.com/presidium/orchestrator/internal/pane"
	"github.com/presidium/orchestrator/internal/roster"
	"github.com/presidium/orchestrator/internal/tasks"
)

// Cleanup bundles the five terminal-state protocols (§4.10). It is
// intentionally separate from the ticker registry in scheduler.go: these run
// on-demand, not on a schedule.
type Cleanup struct {
	pane       *pane.Adapter
	roster     *roster.Roster
	dispatcher *tasks.Dispatcher
	cache      *agentcache.Cache
	health     *health.Supervisor
	bus        *events.Bus
}

// NewCleanup wires the cleanup protocols' dependencies.
func NewCleanup(p *pane.Adapter, r *roster.Roster, d *tasks.Dispatcher, c *agentcache.Cache, h *health.Supervisor, bus *events.Bus) *Cleanup {
	return &Cleanup{pane: p, roster: r, dispatcher: d, cache: c, health: h, bus: bus}
}

// ProjectStart clears every agent's session in parallel, then settles.
func (c *Cleanup) ProjectStart(ctx context.Context) {
	var wg sync.WaitGroup
	for _, entry := range c.roster.All() {
		wg.Add(1)
		go func(e roster.Entry) {
			defer wg.Done()
			if err := c.pane.Send(ctx, e.PaneTarget, []string{"Escape", "/clear", "Enter"}); err != nil {
				log.Printf("[SCHEDULER] project-start clear failed for %s: %v", e.Name, err)
			}
		}(entry)
	}
	wg.Wait()
	time.Sleep(1 * time.Second)
}

// TaskCompletion is intentionally a no-op: the spec names it as the
// "lightweight" protocol with no terminal operations.
func (c *Cleanup) TaskCompletion(ctx context.Context) {}

// ProjectCompletion repeats the project-start clear fan-out serially
// (a 2-second settle per pane), then best-effort removes ./tmp.
func (c *Cleanup) ProjectCompletion(ctx context.Context) {
	for _, entry := range c.roster.All() {
		if err := c.pane.Send(ctx, entry.PaneTarget, []string{"Escape", "/clear", "Enter"}); err != nil {
			log.Printf("[SCHEDULER] project-completion clear failed for %s: %v", entry.Name, err)
		}
		time.Sleep(2 * time.Second)
	}

	if err := os.RemoveAll("./tmp"); err != nil {
		log.Printf("[SCHEDULER] best-effort tmp cleanup failed: %v", err)
	}
}

// EmergencyStop interrupts every agent, reverts in-progress tasks to
// pending, clears the agent cache, and suppresses auto-recovery for
// every agent (cleared by an explicit start or a session reset).
func (c *Cleanup) EmergencyStop(ctx context.Context) {
	var wg sync.WaitGroup
	for _, entry := range c.roster.All() {
		wg.Add(1)
		go func(e roster.Entry) {
			defer wg.Done()
			if err := c.pane.Send(ctx, e.PaneTarget, []string{"Ctrl+C"}); err != nil {
				log.Printf("[SCHEDULER] emergency-stop interrupt failed for %s: %v", e.Name, err)
			}
			c.health.SuppressAutoRestart(e.Name)
		}(entry)
	}
	wg.Wait()

	for _, t := range c.dispatcher.ListTasks() {
		if t.Status != tasks.StatusInProgress {
			continue
		}
		from := t.Status
		t.Status = tasks.StatusPending
		if err := c.dispatcher.PersistPausedTask(t); err != nil {
			log.Printf("[SCHEDULER] emergency-stop revert failed for %s: %v", t.ID, err)
		}
		_ = from
	}

	c.cache.Clear()
	c.publish(events.EmergencyStopCompleted, nil)
}

// SessionReset tears down the multiplexer server entirely, clears
// tmp/, reinitializes sessions, clears the agent cache, and reverts
// in-progress tasks to pending with assignedTo cleared.
func (c *Cleanup) SessionReset(ctx context.Context) {
	if err := c.pane.KillServer(ctx); err != nil {
		log.Printf("[SCHEDULER] session-reset kill-server failed: %v", err)
	}
	if err := os.RemoveAll("./tmp"); err != nil {
		log.Printf("[SCHEDULER] session-reset tmp cleanup failed: %v", err)
	}

	for _, entry := range c.roster.All() {
		if err := c.pane.NewSession(ctx, entry.PaneTarget); err != nil {
			log.Printf("[SCHEDULER] session-reset new-session failed for %s: %v", entry.Name, err)
		}
		c.health.ClearSuppression(entry.Name)
	}
	c.health.ClearAllSuppressions()

	for _, t := range c.dispatcher.ListTasks() {
		if t.Status != tasks.StatusInProgress {
			continue
		}
		t.Status = tasks.StatusPending
		t.AssignedTo = ""
		if err := c.dispatcher.PersistPausedTask(t); err != nil {
			log.Printf("[SCHEDULER] session-reset revert failed for %s: %v", t.ID, err)
		}
	}

	c.cache.Clear()
	c.publish(events.SessionResetCompleted, nil)
}

func (c *Cleanup) publish(t events.Type, payload map[string]any) {
	if err := c.bus.Publish(events.New(t, events.TargetAll, payload)); err != nil {
		log.Printf("[SCHEDULER] failed to publish %s: %v", t, err)
	}
}
