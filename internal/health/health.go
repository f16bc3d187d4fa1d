// Package health implements the Health Supervisor (C5): a periodic
// liveness check over the roster, overall-health computation, and
// auto-recovery of offline agents. Grounded in the teacher's
// internal/server/heartbeat.go (StartHeartbeatChecker, checkStaleAgents'
// collect-then-dispatch pattern, handleStaleAgent's PID-liveness-then-
// respawn decision tree and its approved-stop-request short-circuit).
package health

import (
	"context"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/presidium/orchestrator/internal/agentcache"
	"github.com/presidium/orchestrator/internal/events"
	"github.com/presidium/orchestrator/internal/monitor"
	"github.com/presidium/orchestrator/internal/pane"
	"github.com/presidium/orchestrator/internal/roster"
)

const (
	activeInterval       = 10 * time.Second
	idleInterval         = 30 * time.Second
	degradedInterval     = 60 * time.Second
	recoveryCooldown     = 5 * time.Minute
	interStartDelay      = 2 * time.Second
	recoveryRecheckDelay = 30 * time.Second
)

// InitialInterval is the cadence the scheduler should register Tick at
// before its first adaptive return value is known.
const InitialInterval = idleInterval

var aliveOutputPattern = regexp.MustCompile(`(?i)(>\s*$|\$\s*$|tokens? remaining|welcome to)`)

// Overall is the system-wide health rollup (§3 SystemHealth).
type Overall string

const (
	OverallHealthy  Overall = "healthy"
	OverallDegraded Overall = "degraded"
	OverallCritical Overall = "critical"
)

// Supervisor is C5.
type Supervisor struct {
	pane    *pane.Adapter
	roster  *roster.Roster
	cache   *agentcache.Cache
	monitor *monitor.Monitor
	bus     *events.Bus

	mu                  sync.Mutex
	recovering          bool
	lastRecoveryAttempt time.Time
	suppressRestart     map[string]bool
	degraded            bool
}

// New wires the supervisor's dependencies.
func New(p *pane.Adapter, r *roster.Roster, cache *agentcache.Cache, mon *monitor.Monitor, bus *events.Bus) *Supervisor {
	return &Supervisor{
		pane:            p,
		roster:          r,
		cache:           cache,
		monitor:         mon,
		bus:             bus,
		suppressRestart: make(map[string]bool),
	}
}

// SuppressAutoRestart marks an agent as not eligible for auto-recovery
// until an explicit operator start or a session reset clears the flag
// (§9 resolved Open Question — emergency-stopped agents must not be
// silently respawned).
func (s *Supervisor) SuppressAutoRestart(agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressRestart[agentName] = true
}

// ClearSuppression clears the no-auto-restart flag for an agent.
func (s *Supervisor) ClearSuppression(agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.suppressRestart, agentName)
}

// ClearAllSuppressions is called on session reset.
func (s *Supervisor) ClearAllSuppressions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressRestart = make(map[string]bool)
}

// Tick runs one health check pass, returning the interval the next tick
// should use (§4.5 adaptive interval).
func (s *Supervisor) Tick(ctx context.Context) time.Duration {
	sessions, err := s.pane.ListSessions(ctx)
	if err != nil {
		log.Printf("[HEALTH] failed to list sessions: %v", err)
		sessions = nil
	}
	sessionNames := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		sessionNames[sess.Name] = true
	}

	entries := s.roster.All()
	anyWorking := false
	onlineCount := 0

	totalFailureStreak := 0
	for _, entry := range entries {
		totalFailureStreak += s.monitor.FailureStreak(entry.Name)
	}
	s.mu.Lock()
	s.degraded = totalFailureStreak >= monitor.FailureStreakAlertThreshold
	degraded := s.degraded
	s.mu.Unlock()

	for _, entry := range entries {
		var status agentcache.AgentStatus
		if degraded {
			// Skip the classification work evaluateAgent would otherwise do
			// (a liveness capture per agent): the monitor loop is already
			// failing broadly, so another round of captures just adds load
			// without new signal.
			status = s.degradedStatus(entry)
		} else {
			status = s.evaluateAgent(ctx, entry, sessionNames)
		}
		s.cache.Update(status)
		if status.Status == agentcache.StatusWorking {
			anyWorking = true
		}
		if status.Status != agentcache.StatusOffline && status.Status != agentcache.StatusUnreachable {
			onlineCount++
		}
	}

	overall := s.computeOverall(sessionNames, onlineCount, len(entries))
	s.publishSystemHealth(sessionNames, overall)

	if overall == OverallCritical && (len(sessionNames) == 0 || onlineCount <= 1) {
		go s.attemptAutoRecovery(ctx, entries, sessionNames)
	}

	switch {
	case degraded:
		return degradedInterval
	case anyWorking:
		return activeInterval
	default:
		return idleInterval
	}
}

// degradedStatus reports an agent as unreachable without touching the
// pane (§4.3 degraded mode: "skips classification"). Used once the
// monitor loop's roster-wide failure streak has crossed the alert
// threshold, so the supervisor stops piling more captures onto an
// already-failing terminal layer.
func (s *Supervisor) degradedStatus(entry roster.Entry) agentcache.AgentStatus {
	return agentcache.AgentStatus{
		ID:           entry.Name,
		Name:         entry.Name,
		Status:       agentcache.StatusUnreachable,
		LastActivity: time.Now(),
	}
}

func (s *Supervisor) evaluateAgent(ctx context.Context, entry roster.Entry, sessionNames map[string]bool) agentcache.AgentStatus {
	status := agentcache.AgentStatus{ID: entry.Name, Name: entry.Name, LastActivity: time.Now()}

	exists, err := s.pane.PaneExists(ctx, entry.PaneTarget)
	if err != nil || !exists {
		status.Status = agentcache.StatusOffline
		return status
	}

	alive := s.checkLiveness(ctx, entry)
	if !alive {
		status.Status = agentcache.StatusOffline
		return status
	}

	streak := s.monitor.FailureStreak(entry.Name)
	if streak >= monitor.FailureStreakAlertThreshold {
		status.Status = agentcache.StatusUnreachable
		return status
	}

	status.Status = agentcache.StatusIdle
	return status
}

// checkLiveness applies a two-signal rule to the pane's last 20 captured
// lines: (a) the text contains the entry's interpreter name, OR (b) the
// text matches an "alive" pattern. Either is sufficient. The command
// running in the pane is not queried.
func (s *Supervisor) checkLiveness(ctx context.Context, entry roster.Entry) bool {
	text, err := s.pane.Capture(ctx, entry.PaneTarget, 20)
	if err != nil {
		return false
	}
	if strings.Contains(text, entry.Interpreter) {
		return true
	}
	return aliveOutputPattern.MatchString(text)
}

func (s *Supervisor) computeOverall(sessionNames map[string]bool, onlineCount, total int) Overall {
	sessionsUp := len(sessionNames) > 0
	switch {
	case sessionsUp && onlineCount == total:
		return OverallHealthy
	case sessionsUp && onlineCount >= 3:
		return OverallDegraded
	default:
		return OverallCritical
	}
}

func (s *Supervisor) publishSystemHealth(sessionNames map[string]bool, overall Overall) {
	agents := make(map[string]bool)
	for _, status := range s.cache.All() {
		agents[status.Name] = status.Status != agentcache.StatusOffline
	}

	payload := map[string]any{
		"sessions":      sessionNames,
		"agents":        agents,
		"overallHealth": string(overall),
		"timestamp":     time.Now(),
	}
	if err := s.bus.Publish(events.New(events.SystemHealth, events.TargetAll, payload)); err != nil {
		log.Printf("[HEALTH] failed to publish system-health: %v", err)
	}
}

func (s *Supervisor) attemptAutoRecovery(ctx context.Context, entries []roster.Entry, sessionNames map[string]bool) {
	s.mu.Lock()
	if s.recovering || time.Since(s.lastRecoveryAttempt) < recoveryCooldown {
		s.mu.Unlock()
		return
	}
	s.recovering = true
	s.lastRecoveryAttempt = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.recovering = false
		s.mu.Unlock()
	}()

	// The scheduler cancels Tick's context as soon as Tick returns, so
	// recovery keeps only its values.
	ctx = context.WithoutCancel(ctx)

	log.Printf("[HEALTH] auto-recovery triggered")
	s.publishRecoveryEvent(events.AutoRecoveryPerformed, "starting recovery")

	if !sessionNames["main"] {
		if err := s.pane.NewSession(ctx, "main"); err != nil {
			log.Printf("[HEALTH] failed to create main session: %v", err)
		}
	}

	for _, entry := range entries {
		s.mu.Lock()
		suppressed := s.suppressRestart[entry.Name]
		s.mu.Unlock()
		if suppressed {
			continue
		}

		status, ok := s.cache.Get(entry.Name)
		if ok && status.Status != agentcache.StatusOffline {
			continue
		}

		if err := s.pane.SendLiteral(ctx, entry.PaneTarget, entry.Interpreter, true); err != nil {
			log.Printf("[HEALTH] failed to start %s: %v", entry.Name, err)
			continue
		}
		time.Sleep(interStartDelay)
	}

	s.publishRecoveryEvent(events.AutoRecoveryStatus, "recovery in progress")

	time.Sleep(recoveryRecheckDelay)
	s.Tick(ctx)
	s.publishRecoveryEvent(events.AutoRecoveryStatus, "recovery recheck complete")
}

func (s *Supervisor) publishRecoveryEvent(t events.Type, message string) {
	if err := s.bus.Publish(events.New(t, events.TargetAll, map[string]any{"message": message})); err != nil {
		log.Printf("[HEALTH] failed to publish %s: %v", t, err)
	}
}
