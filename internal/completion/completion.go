// Package completion implements the Completion Detector (C6): a
// periodic task that infers task completion from free-form agent
// output. Grounded in the idiom of internal/classifier's pattern-table
// matching (reusing the same ordered-regex, first-match-wins shape) and
// the Terminal Monitor's new-suffix tracking; no direct teacher analog
// exists (the teacher's captain.go/supervisor.go manage agent lifecycle,
// not output-based task completion).
package completion

import (
	"context"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/presidium/orchestrator/internal/events"
	"github.com/presidium/orchestrator/internal/pane"
	"github.com/presidium/orchestrator/internal/roster"
	"github.com/presidium/orchestrator/internal/tasks"
)

const (
	minimumInProgress = 2 * time.Minute
	captureLines      = 100
)

// completionPatterns is the strict, closed set of canonical completion
// declarations the president must emit for its authority to count
// (§4.6, §GLOSSARY "Completion declaration").
var completionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^task (?:is )?complete\.?\s*$`),
	regexp.MustCompile(`(?im)^(?:i have |i've )?finished (?:the )?task\.?\s*$`),
	regexp.MustCompile(`(?im)^all (?:requirements|deliverables) (?:have been |are )?met\.?\s*$`),
}

// generalCompletionPatterns is the looser set accepted from non-president
// agents, still gated by the exclude guard and the 2-minute minimum.
var generalCompletionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(done|completed|finished)\b`),
}

// excludePatterns reject negations/questions that would otherwise false-
// positive against the general pattern set.
var excludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)not (?:yet )?(?:complete|done|finished)`),
	regexp.MustCompile(`(?i)planning to (?:complete|finish)`),
	regexp.MustCompile(`(?i)\?\s*$`),
}

// Detection is the event payload emitted on acceptance (§4.6 step 4).
type Detection struct {
	TaskID         string
	DetectedBy     string
	Excerpt        string
	ElapsedMinutes float64
}

// ProjectCompleter is the narrow slice of the Scheduler's cleanup
// protocols (§4.10) the detector needs to trigger on a president
// completion declaration. Defined here, not imported from scheduler, to
// keep this package free of any dependency on C10 — mirroring the
// tasks package's own UsageLimitChecker seam.
type ProjectCompleter interface {
	ProjectCompletion(ctx context.Context)
}

// Detector is C6.
type Detector struct {
	pane       *pane.Adapter
	roster     *roster.Roster
	dispatcher *tasks.Dispatcher
	bus        *events.Bus
	cleanup    ProjectCompleter

	mu        sync.Mutex
	lastCheck map[string]string // agent name -> last captured text
}

// New wires the detector's dependencies. cleanup may be nil until the
// scheduler's cleanup protocols are constructed; AttachCleanup wires it
// once bootstrap completes that cycle.
func New(p *pane.Adapter, r *roster.Roster, dispatcher *tasks.Dispatcher, bus *events.Bus) *Detector {
	return &Detector{
		pane:       p,
		roster:     r,
		dispatcher: dispatcher,
		bus:        bus,
		lastCheck:  make(map[string]string),
	}
}

// AttachCleanup wires the project-completion cleanup trigger, late in
// bootstrap, avoiding a completion->scheduler import at construction time.
func (d *Detector) AttachCleanup(cleanup ProjectCompleter) {
	d.cleanup = cleanup
}

// Tick runs one completion-detection pass (§4.6).
func (d *Detector) Tick(ctx context.Context) {
	inProgress := inProgressTasks(d.dispatcher)
	if len(inProgress) == 0 {
		return
	}

	president := d.roster.President()
	presidentText, err := d.pane.Capture(ctx, president.PaneTarget, captureLines)
	if err == nil {
		if task, excerpt, ok := d.matchPresident(presidentText, inProgress); ok {
			d.accept(ctx, task, president.Name, excerpt, true)
			return
		}
	}

	for _, entry := range d.roster.NonPresident() {
		task := taskAssignedTo(inProgress, entry.Name)
		if task == nil {
			continue
		}
		text, err := d.pane.Capture(ctx, entry.PaneTarget, captureLines)
		if err != nil {
			continue
		}
		suffix := d.newSince(entry.Name, text)
		if suffix == "" {
			continue
		}
		if excludeMatches(suffix) {
			continue
		}
		if !generalMatches(suffix) {
			continue
		}
		if time.Since(taskStartedAt(task)) < minimumInProgress {
			continue
		}
		d.accept(ctx, task, entry.Name, suffix, false)
		return
	}
}

func (d *Detector) matchPresident(text string, inProgress []*tasks.Task) (*tasks.Task, string, bool) {
	for _, pat := range completionPatterns {
		loc := pat.FindStringIndex(text)
		if loc == nil {
			continue
		}
		for _, t := range inProgress {
			if t.AssignedTo != d.roster.President().Name {
				continue
			}
			if time.Since(taskStartedAt(t)) < minimumInProgress {
				continue
			}
			return t, text[loc[0]:loc[1]], true
		}
	}
	return nil, "", false
}

func (d *Detector) newSince(agentName, text string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.lastCheck[agentName]
	d.lastCheck[agentName] = text

	if prev == "" {
		return text
	}
	if idx := strings.Index(text, prev); idx >= 0 {
		return text[idx+len(prev):]
	}
	return text
}

// accept transitions task to completed, persists and publishes it, then
// (§4.6 step 2) schedules the project-completion cleanup when the
// president's own authority accepted it, before kicking the next dispatch.
func (d *Detector) accept(ctx context.Context, task *tasks.Task, detectedBy, excerpt string, presidentPath bool) {
	elapsed := time.Since(taskStartedAt(task)).Minutes()

	from := task.Status
	if err := task.Complete(); err != nil {
		log.Printf("[COMPLETION] failed to complete task %s: %v", task.ID, err)
		return
	}
	_ = from

	if err := d.dispatcher.PersistPausedTask(task); err != nil {
		log.Printf("[COMPLETION] failed to persist completion of %s: %v", task.ID, err)
	}

	payload := map[string]any{
		"task_id":         task.ID,
		"detected_by":     detectedBy,
		"excerpt":         strings.TrimSpace(excerpt),
		"elapsed_minutes": elapsed,
	}
	if err := d.bus.Publish(events.New(events.TaskCompleted, events.TaskTarget(task.ID), payload)); err != nil {
		log.Printf("[COMPLETION] failed to publish task-completed: %v", err)
	}

	if presidentPath && d.cleanup != nil {
		// Detached from the tick's own bounded context: the fan-out's
		// per-pane settle alone can outlast the completion ticker's
		// interval-bound deadline, which expires the instant Tick returns.
		go d.cleanup.ProjectCompletion(context.Background())
	}

	time.AfterFunc(2*time.Second, func() {
		d.dispatcher.Dispatch(ctx)
	})
}

func inProgressTasks(d *tasks.Dispatcher) []*tasks.Task {
	var out []*tasks.Task
	for _, t := range d.ListTasks() {
		if t.Status == tasks.StatusInProgress {
			out = append(out, t)
		}
	}
	return out
}

func taskAssignedTo(inProgress []*tasks.Task, agentName string) *tasks.Task {
	for _, t := range inProgress {
		if t.AssignedTo == agentName {
			return t
		}
	}
	return nil
}

func taskStartedAt(t *tasks.Task) time.Time {
	if t.LastAttemptAt != nil {
		return *t.LastAttemptAt
	}
	return t.UpdatedAt
}

func excludeMatches(text string) bool {
	for _, p := range excludePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func generalMatches(text string) bool {
	for _, p := range generalCompletionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
