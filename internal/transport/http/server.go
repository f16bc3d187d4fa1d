// Package http is the client RPC + WebSocket transport (§6): task CRUD,
// manual resume, the terminal-state cleanup triggers, and the live
// agent/event feed. Grounded in the teacher's internal/server/server.go
// route table and its gorilla/mux + SecurityHeadersMiddleware shape.
package http

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/presidium/orchestrator/internal/agentcache"
	"github.com/presidium/orchestrator/internal/events"
	"github.com/presidium/orchestrator/internal/health"
	"github.com/presidium/orchestrator/internal/roster"
	"github.com/presidium/orchestrator/internal/scheduler"
	"github.com/presidium/orchestrator/internal/store"
	"github.com/presidium/orchestrator/internal/tasks"
	"github.com/presidium/orchestrator/internal/usagelimit"
)

// maxPayloadSize bounds request bodies, mirroring the teacher's
// MaxPayloadSize DoS guard.
const maxPayloadSize = 1 * 1024 * 1024

// Server is the HTTP+WebSocket transport.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *events.Hub
	bus        *events.Bus
	store      *store.SQLStore
	startTime  time.Time
}

// Deps bundles every component the transport routes into.
type Deps struct {
	Store       *store.SQLStore
	Bus         *events.Bus
	Dispatcher  *tasks.Dispatcher
	Coordinator *usagelimit.Coordinator
	Cache       *agentcache.Cache
	Roster      *roster.Roster
	Supervisor  *health.Supervisor
	Cleanup     *scheduler.Cleanup
}

// New builds the router and wraps it in an *http.Server bound to addr.
func New(addr string, d Deps) (*Server, error) {
	hub, err := events.NewHub(d.Bus)
	if err != nil {
		return nil, fmt.Errorf("create websocket hub: %w", err)
	}

	s := &Server{hub: hub, bus: d.Bus, store: d.Store, startTime: time.Now()}
	s.router = mux.NewRouter()
	s.router.Use(securityHeadersMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	newTasksHandler(d.Dispatcher).registerRoutes(api)
	newAgentsHandler(d.Cache, d.Roster).registerRoutes(api)
	newControlHandler(d.Coordinator, d.Cleanup, d.Supervisor).registerRoutes(api)

	s.router.HandleFunc("/ws", hub.ServeWS)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": humanize.RelTime(s.startTime, time.Now(), "ago", ""),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":    time.Since(s.startTime).Seconds(),
		"uptime":            humanize.RelTime(s.startTime, time.Now(), "ago", ""),
		"websocket_clients": s.hub.ClientCount(),
		"dropped_events":    s.bus.DroppedEventCount(),
		"database_size":     humanize.Bytes(uint64(s.store.DatabaseSize())),
	})
}

// Run starts serving and blocks until ctx is cancelled, then gracefully
// shuts down within 10 seconds.
func (s *Server) Run(ctx context.Context) error {
	stop := make(chan struct{})
	go s.hub.Run(stop)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[HTTP] listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		close(stop)
		return err
	case <-ctx.Done():
		close(stop)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
