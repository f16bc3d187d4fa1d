// Package orchestrator wires every component (C1-C10 plus the ambient
// transport and notification layers) into the explicit
// dependency-injected construction SPEC_FULL.md §4.10 requires, and
// owns the process's start/shutdown sequence. Grounded in the teacher's
// cmd/cliaimonitor/main.go init order (store -> spawner -> captain ->
// server -> background tickers) and internal/server/server.go's
// NewServer-receives-everything shape, generalized to this system's
// ten named components.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/presidium/orchestrator/internal/agentcache"
	"github.com/presidium/orchestrator/internal/completion"
	"github.com/presidium/orchestrator/internal/config"
	"github.com/presidium/orchestrator/internal/events"
	"github.com/presidium/orchestrator/internal/health"
	"github.com/presidium/orchestrator/internal/monitor"
	"github.com/presidium/orchestrator/internal/notify"
	"github.com/presidium/orchestrator/internal/pane"
	"github.com/presidium/orchestrator/internal/roster"
	"github.com/presidium/orchestrator/internal/scheduler"
	"github.com/presidium/orchestrator/internal/store"
	"github.com/presidium/orchestrator/internal/tasks"
	transporthttp "github.com/presidium/orchestrator/internal/transport/http"
	"github.com/presidium/orchestrator/internal/usagelimit"
)

// Orchestrator is the assembled, running system.
type Orchestrator struct {
	cfg *config.Config

	store       *store.SQLStore
	bus         *events.Bus
	pane        *pane.Adapter
	roster      *roster.Roster
	cache       *agentcache.Cache
	monitor     *monitor.Monitor
	supervisor  *health.Supervisor
	detector    *completion.Detector
	dispatcher  *tasks.Dispatcher
	coordinator *usagelimit.Coordinator
	cleanup     *scheduler.Cleanup
	scheduler   *scheduler.Scheduler
	notifier    *notify.Notifier
	server      *transporthttp.Server
}

// New assembles every component in dependency order. No background work
// starts until Run is called.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	r, err := roster.Load(cfg.RosterPath)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.HealthCheck(); err != nil {
		return nil, fmt.Errorf("store preflight health check: %w", err)
	}

	bus, err := events.NewBus(events.TransportConfig{Port: cfg.NATSPort})
	if err != nil {
		return nil, fmt.Errorf("start event bus: %w", err)
	}

	paneAdapter := pane.Get()

	agentCache := agentcache.New(func(status agentcache.AgentStatus) {
		payload := map[string]any{
			"name":              status.Name,
			"status":            string(status.Status),
			"current_activity":  status.CurrentActivity,
			"working_on_file":   status.WorkingOnFile,
			"executing_command": status.ExecutingCommand,
		}
		if err := bus.Publish(events.New(events.AgentStatusUpdated, events.AgentTarget(status.Name), payload)); err != nil {
			log.Printf("[ORCHESTRATOR] failed to publish agent status for %s: %v", status.Name, err)
		}
	})

	dispatcher := tasks.NewDispatcher(st, bus, paneAdapter, r)

	var coordinator *usagelimit.Coordinator
	mon := monitor.New(paneAdapter, r,
		func(ctx context.Context, message string) {
			if coordinator == nil {
				return
			}
			if err := coordinator.OnLimitDetected(ctx, message); err != nil {
				log.Printf("[ORCHESTRATOR] usage-limit detection failed: %v", err)
			}
		},
		usagelimit.DetectFromOutput,
	)

	coordinator, err = usagelimit.NewCoordinator(st, bus, dispatcher, paneAdapter, r)
	if err != nil {
		return nil, fmt.Errorf("create usage-limit coordinator: %w", err)
	}
	dispatcher.AttachLimiter(coordinator)

	supervisor := health.New(paneAdapter, r, agentCache, mon, bus)
	detector := completion.New(paneAdapter, r, dispatcher, bus)
	cleanupProtocols := scheduler.NewCleanup(paneAdapter, r, dispatcher, agentCache, supervisor, bus)
	detector.AttachCleanup(cleanupProtocols)

	sched := scheduler.New(ctx)

	httpServer, err := transporthttp.New(fmt.Sprintf(":%d", cfg.HTTPPort), transporthttp.Deps{
		Store:       st,
		Bus:         bus,
		Dispatcher:  dispatcher,
		Coordinator: coordinator,
		Cache:       agentCache,
		Roster:      r,
		Supervisor:  supervisor,
		Cleanup:     cleanupProtocols,
	})
	if err != nil {
		return nil, fmt.Errorf("create http transport: %w", err)
	}

	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.New(cfg.Notify.AppID, cfg.Notify.DashboardURL)
	}

	o := &Orchestrator{
		cfg:         cfg,
		store:       st,
		bus:         bus,
		pane:        paneAdapter,
		roster:      r,
		cache:       agentCache,
		monitor:     mon,
		supervisor:  supervisor,
		detector:    detector,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		cleanup:     cleanupProtocols,
		scheduler:   sched,
		notifier:    notifier,
		server:      httpServer,
	}
	if err := dispatcher.Refresh(); err != nil {
		return nil, fmt.Errorf("load task cache: %w", err)
	}
	return o, nil
}

// Run registers every periodic job onto the scheduler, starts the HTTP
// transport, and blocks until ctx is cancelled, then tears everything
// down in reverse order.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.cleanup.ProjectStart(ctx)

	// Every periodic job in the process is a named, scheduler-owned
	// ticker, so Shutdown has exactly one place to wait on in-flight
	// callbacks. The health supervisor's interval is adaptive: its own
	// Tick call reschedules itself onto the next interval it returns.
	o.scheduler.Register("cache-refresh", 30*time.Second, func(ctx context.Context) {
		if err := o.dispatcher.Refresh(); err != nil {
			log.Printf("[ORCHESTRATOR] periodic cache refresh failed: %v", err)
		}
	})
	o.scheduler.Register("dispatch", 30*time.Second, o.dispatcher.Dispatch)
	o.scheduler.Register("completion", 45*time.Second, o.detector.Tick)
	o.scheduler.Register("terminal-monitor", monitor.PollInterval, func(ctx context.Context) {
		o.monitor.Tick(ctx, o.cache)
	})
	o.scheduler.Register("usage-limit", usagelimit.ResolutionInterval, o.coordinator.Tick)
	o.scheduler.Register("health", health.InitialInterval, func(ctx context.Context) {
		next := o.supervisor.Tick(ctx)
		o.scheduler.Reschedule("health", next)
	})

	if o.notifier != nil {
		go func() {
			if err := o.notifier.Run(ctx, o.bus); err != nil {
				log.Printf("[ORCHESTRATOR] notifier stopped: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.server.Run(ctx)
	}()

	select {
	case err := <-errCh:
		o.shutdown()
		return err
	case <-ctx.Done():
		err := <-errCh
		o.shutdown()
		return err
	}
}

func (o *Orchestrator) shutdown() {
	log.Printf("[ORCHESTRATOR] shutting down")
	o.scheduler.Shutdown()
	o.bus.Shutdown()
	if err := o.store.Disconnect(); err != nil {
		log.Printf("[ORCHESTRATOR] store disconnect: %v", err)
	}
}
