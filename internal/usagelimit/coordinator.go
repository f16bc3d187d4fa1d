package usagelimit

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/presidium/orchestrator/internal/events"
	"github.com/presidium/orchestrator/internal/pane"
	"github.com/presidium/orchestrator/internal/roster"
	"github.com/presidium/orchestrator/internal/tasks"
)

// limitPhrases are the known rate-limit announcement strings C3 hands
// the coordinator's detection callback (§4.8, §9 resolved Open
// Question). Matched case-insensitively against a captured output line.
var limitPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)usage limit reached`),
	regexp.MustCompile(`(?i)you've hit your usage limit`),
	regexp.MustCompile(`(?i)rate limit exceeded`),
	regexp.MustCompile(`(?i)please try again later`),
}

// resumeTimePattern extracts an explicit resume time embedded in a
// limit message, e.g. "resets at 3:45 PM" or "try again at 14:05".
var resumeTimePattern = regexp.MustCompile(`(?i)(?:resets?|try again)\s+at\s+(\d{1,2}:\d{2}\s*(?:[AaPp][Mm])?)`)

// Coordinator is the Usage-Limit Coordinator (C8): detects an external
// rate-limit condition, pauses in-flight work, and resumes it once the
// window passes. Grounded in the teacher's heartbeat.go ticker-plus-flag
// pattern, generalized from liveness polling to limit-window polling.
type Coordinator struct {
	store      Store
	bus        *events.Bus
	dispatcher *tasks.Dispatcher
	pane       *pane.Adapter
	roster     *roster.Roster

	mu    sync.Mutex
	state State
}

// NewCoordinator wires the coordinator's dependencies and loads any
// persisted state (the process may have restarted mid-limit).
func NewCoordinator(store Store, bus *events.Bus, dispatcher *tasks.Dispatcher, p *pane.Adapter, r *roster.Roster) (*Coordinator, error) {
	c := &Coordinator{
		store:      store,
		bus:        bus,
		dispatcher: dispatcher,
		pane:       p,
		roster:     r,
	}

	st, err := store.GetUsageLimitState()
	if err != nil {
		return nil, fmt.Errorf("load usage limit state: %w", err)
	}
	c.state = *st
	return c, nil
}

// IsActive reports whether a usage limit is currently in effect. This is
// the narrow view the dispatcher consults each pass (§4.7 step 1); it
// satisfies tasks.UsageLimitChecker without tasks importing usagelimit.
func (c *Coordinator) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsLimited
}

// DetectFromOutput is C3's callback hook: it is given each newly
// captured line and returns whether it recognized a limit announcement.
func DetectFromOutput(line string) (matched bool, message string) {
	for _, p := range limitPhrases {
		if p.MatchString(line) {
			return true, line
		}
	}
	return false, ""
}

// OnLimitDetected runs the detection path (§4.8 steps 1-5).
func (c *Coordinator) OnLimitDetected(ctx context.Context, message string) error {
	c.mu.Lock()
	if c.state.IsLimited {
		c.mu.Unlock()
		return nil
	}

	now := time.Now()
	nextRetryAt := computeNextRetryAt(message, now)
	c.state = State{
		IsLimited:        true,
		PausedAt:         &now,
		NextRetryAt:      &nextRetryAt,
		RetryCount:       c.state.RetryCount + 1,
		LastErrorMessage: message,
	}
	snapshot := c.state
	c.mu.Unlock()

	if err := c.store.SaveUsageLimitState(&snapshot); err != nil {
		return fmt.Errorf("persist usage limit state: %w", err)
	}

	if err := c.pauseInProgressTasks(fmt.Sprintf("Usage limit reached: %s", message)); err != nil {
		log.Printf("[USAGELIMIT] failed to pause in-progress tasks: %v", err)
	}

	c.publish(events.UsageLimitReached, map[string]any{
		"next_retry_at": nextRetryAt,
		"message":       message,
	})
	return nil
}

func computeNextRetryAt(message string, now time.Time) time.Time {
	if m := resumeTimePattern.FindStringSubmatch(message); len(m) == 2 {
		if t, err := parseClockTime(m[1], now); err == nil {
			return t
		}
	}
	return now.Add(DefaultBackoff)
}

func parseClockTime(clock string, now time.Time) (time.Time, error) {
	layouts := []string{"3:04 PM", "3:04PM", "15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, clock); err == nil {
			candidate := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
			if candidate.Before(now) {
				candidate = candidate.Add(24 * time.Hour)
			}
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized clock time %q", clock)
}

func (c *Coordinator) pauseInProgressTasks(reason string) error {
	for _, t := range c.dispatcher.ListTasks() {
		if t.Status != tasks.StatusInProgress {
			continue
		}
		if err := t.Pause(reason); err != nil {
			continue
		}
		if err := c.dispatcher.PersistPausedTask(t); err != nil {
			log.Printf("[USAGELIMIT] failed to persist pause of %s: %v", t.ID, err)
		}
	}
	return nil
}

// ResolutionInterval is the cadence the scheduler should register Tick at.
const ResolutionInterval = time.Minute

// Tick runs one resolution check. Owned by the scheduler (C10).
func (c *Coordinator) Tick(ctx context.Context) {
	c.checkResolution(ctx)
}

func (c *Coordinator) checkResolution(ctx context.Context) {
	c.mu.Lock()
	if !c.state.IsLimited || c.state.NextRetryAt == nil {
		c.mu.Unlock()
		return
	}
	if time.Now().Before(*c.state.NextRetryAt) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.Resolve(ctx); err != nil {
		log.Printf("[USAGELIMIT] resolution failed: %v", err)
	}
}

// Resolve performs the resume path (§4.8 resolution steps 1-4). It is
// also what a manual "resume now" request calls directly, bypassing the
// cron gate checkResolution enforces for the automatic path.
func (c *Coordinator) Resolve(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.IsLimited {
		c.mu.Unlock()
		return nil
	}
	c.state = State{}
	c.mu.Unlock()

	if err := c.store.ClearUsageLimitState(); err != nil {
		return fmt.Errorf("clear usage limit state: %w", err)
	}

	if err := c.resumePausedTasks(); err != nil {
		log.Printf("[USAGELIMIT] failed to resume paused tasks: %v", err)
	}

	c.publish(events.UsageLimitCleared, nil)
	go c.dispatcher.Dispatch(ctx)
	c.nudgePresident(ctx)
	return nil
}

func (c *Coordinator) resumePausedTasks() error {
	var resumed []string
	for _, t := range c.dispatcher.ListTasks() {
		if t.Status != tasks.StatusPaused {
			continue
		}
		if err := t.Resume(); err != nil {
			continue
		}
		if err := c.dispatcher.PersistPausedTask(t); err != nil {
			log.Printf("[USAGELIMIT] failed to persist resume of %s: %v", t.ID, err)
			continue
		}
		resumed = append(resumed, t.ID)
	}
	if len(resumed) > 0 {
		c.publish(events.PausedTasksResumed, map[string]any{"task_ids": resumed})
	}
	return nil
}

func (c *Coordinator) nudgePresident(ctx context.Context) {
	president := c.roster.President()
	if err := c.pane.SendLiteral(ctx, president.PaneTarget, "Please check progress on your current task.", true); err != nil {
		log.Printf("[USAGELIMIT] failed to nudge president: %v", err)
	}
}

func (c *Coordinator) publish(t events.Type, payload map[string]any) {
	if err := c.bus.Publish(events.New(t, events.TargetAll, payload)); err != nil {
		log.Printf("[USAGELIMIT] failed to publish %s: %v", t, err)
	}
}
