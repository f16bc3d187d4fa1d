// Package monitor implements the Terminal Monitor (C3): it captures
// each roster agent's pane output every tick, diffs against the last
// capture, classifies the new suffix, and surfaces a usage-limit
// detection callback. Grounded in the teacher's internal/server
// heartbeat.go collect-under-lock/process-outside-lock shape and
// internal/metrics/collector.go's snapshot-then-process idiom.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/presidium/orchestrator/internal/agentcache"
	"github.com/presidium/orchestrator/internal/classifier"
	"github.com/presidium/orchestrator/internal/pane"
	"github.com/presidium/orchestrator/internal/roster"
)

const (
	captureLines       = 100
	captureTimeout     = 5 * time.Second
	failureStreakAlert = 5
	pollInterval       = 3 * time.Second
)

// Result is the per-agent outcome of one monitor pass.
type Result struct {
	AgentName      string
	HasNewActivity bool
	Activity       classifier.ActivityInfo
	IsIdle         bool
	LastOutput     string
	Timestamp      time.Time
}

// UsageLimitCallback is invoked at most once per detection window when
// a captured suffix matches a known rate-limit phrase (§4.8).
type UsageLimitCallback func(ctx context.Context, message string)

type agentState struct {
	mu              sync.Mutex
	lastCapture     string
	lastTimestamp   time.Time
	failureStreak   int
	limitDetectedAt time.Time
}

// Monitor fans out captures across the roster every tick.
type Monitor struct {
	pane             *pane.Adapter
	roster           *roster.Roster
	cache            *classifier.Cache
	onUsageLimit     UsageLimitCallback
	detectLimit      func(line string) (bool, string)
	detectionWindow  time.Duration

	mu     sync.Mutex
	states map[string]*agentState
}

// New constructs a Monitor. detectLimit is the usage-limit phrase
// matcher (usagelimit.DetectFromOutput), injected to avoid monitor
// depending on the usagelimit package.
func New(p *pane.Adapter, r *roster.Roster, onUsageLimit UsageLimitCallback, detectLimit func(string) (bool, string)) *Monitor {
	return &Monitor{
		pane:            p,
		roster:          r,
		cache:           classifier.NewCache(500),
		onUsageLimit:    onUsageLimit,
		detectLimit:     detectLimit,
		detectionWindow: 10 * time.Minute,
		states:          make(map[string]*agentState),
	}
}

func (m *Monitor) stateFor(name string) *agentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[name]
	if !ok {
		s = &agentState{}
		m.states[name] = s
	}
	return s
}

// FailureStreak reports the given agent's consecutive capture-failure
// count, consulted by the Health Supervisor's degraded-mode check.
func (m *Monitor) FailureStreak(name string) int {
	s := m.stateFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureStreak
}

// MonitorAll runs one pass across every roster agent in parallel.
func (m *Monitor) MonitorAll(ctx context.Context) map[string]Result {
	entries := m.roster.All()
	results := make(chan struct {
		name string
		res  Result
	}, len(entries))

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(e roster.Entry) {
			defer wg.Done()
			res := m.monitorOne(ctx, e)
			results <- struct {
				name string
				res  Result
			}{e.Name, res}
		}(entry)
	}

	wg.Wait()
	close(results)

	out := make(map[string]Result, len(entries))
	for r := range results {
		out[r.name] = r.res
	}
	return out
}

func (m *Monitor) monitorOne(ctx context.Context, entry roster.Entry) Result {
	state := m.stateFor(entry.Name)
	captureCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	text, err := m.pane.Capture(captureCtx, entry.PaneTarget, captureLines)

	state.mu.Lock()
	defer state.mu.Unlock()

	if err != nil {
		state.failureStreak++
		return Result{AgentName: entry.Name, IsIdle: true, Timestamp: time.Now()}
	}
	state.failureStreak = 0

	suffix := newSuffix(state.lastCapture, text)
	state.lastCapture = text
	state.lastTimestamp = time.Now()

	if suffix == "" {
		return Result{AgentName: entry.Name, HasNewActivity: false, LastOutput: text, IsIdle: true, Timestamp: time.Now()}
	}

	m.checkUsageLimit(ctx, state, suffix)

	info, cached := m.cache.Get(suffix)
	if !cached {
		info = classifier.Classify(suffix)
		m.cache.Put(suffix, info)
	}

	return Result{
		AgentName:      entry.Name,
		HasNewActivity: true,
		Activity:       info,
		IsIdle:         info.Type == classifier.TypeIdle,
		LastOutput:     suffix,
		Timestamp:      time.Now(),
	}
}

func (m *Monitor) checkUsageLimit(ctx context.Context, state *agentState, suffix string) {
	if m.detectLimit == nil || m.onUsageLimit == nil {
		return
	}
	if time.Since(state.limitDetectedAt) < m.detectionWindow {
		return
	}
	for _, line := range strings.Split(suffix, "\n") {
		if matched, message := m.detectLimit(line); matched {
			state.limitDetectedAt = time.Now()
			go m.onUsageLimit(ctx, message)
			return
		}
	}
}

// newSuffix computes the text appended to prev to produce cur, at line
// granularity. If prev doesn't occur inside cur (the pane scrolled), the
// longest run of trailing prev lines that also opens cur is taken as
// already seen and only the lines after it are returned; with no such
// overlap the whole of cur is treated as new.
func newSuffix(prev, cur string) string {
	if prev == "" {
		return cur
	}
	if cur == prev {
		return ""
	}
	if idx := strings.Index(cur, prev); idx >= 0 {
		return cur[idx+len(prev):]
	}

	prevLines := strings.Split(prev, "\n")
	curLines := strings.Split(cur, "\n")

	overlap := 0
	max := len(prevLines)
	if len(curLines) < max {
		max = len(curLines)
	}
	for n := max; n > 0; n-- {
		if linesEqual(prevLines[len(prevLines)-n:], curLines[:n]) {
			overlap = n
			break
		}
	}
	if overlap == 0 {
		return cur
	}
	return strings.Join(curLines[overlap:], "\n")
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FailureStreakAlertThreshold is the consecutive-failure count past
// which the Health Supervisor should enter degraded mode (§4.3).
const FailureStreakAlertThreshold = failureStreakAlert

// PollInterval is the cadence the scheduler should register Tick at.
const PollInterval = pollInterval

// Tick runs one monitor pass, feeding each agent's classified activity
// into the Agent State Cache (C4). Owned by the scheduler (C10).
func (m *Monitor) Tick(ctx context.Context, cache *agentcache.Cache) {
	for name, res := range m.MonitorAll(ctx) {
		cache.Update(agentStatusFromResult(name, res))
		if res.HasNewActivity {
			cache.RecordActivity(name, res.Activity)
		}
	}
}

func agentStatusFromResult(name string, res Result) agentcache.AgentStatus {
	status := agentcache.AgentStatus{
		ID:             name,
		Name:           name,
		LastActivity:   res.Timestamp,
		TerminalOutput: res.LastOutput,
	}

	switch {
	case res.IsIdle:
		status.Status = agentcache.StatusIdle
	case res.Activity.HasError:
		status.Status = agentcache.StatusError
	default:
		status.Status = agentcache.StatusWorking
	}

	status.CurrentActivity = string(res.Activity.Type)
	status.WorkingOnFile = res.Activity.WorkingOnFile
	status.ExecutingCommand = res.Activity.ExecutingCommand
	return status
}
