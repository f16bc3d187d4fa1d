package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/presidium/orchestrator/internal/health"
	"github.com/presidium/orchestrator/internal/scheduler"
	"github.com/presidium/orchestrator/internal/usagelimit"
)

// controlHandler exposes the manual resume path and the terminal-state
// cleanup protocols (§6 Client RPC) as POST-only admin actions.
type controlHandler struct {
	coordinator *usagelimit.Coordinator
	cleanup     *scheduler.Cleanup
	supervisor  *health.Supervisor
}

func newControlHandler(c *usagelimit.Coordinator, cl *scheduler.Cleanup, h *health.Supervisor) *controlHandler {
	return &controlHandler{coordinator: c, cleanup: cl, supervisor: h}
}

func (h *controlHandler) registerRoutes(api *mux.Router) {
	api.HandleFunc("/usage-limit/resume", h.handleResume).Methods(http.MethodPost)
	api.HandleFunc("/control/emergency-stop", h.handleEmergencyStop).Methods(http.MethodPost)
	api.HandleFunc("/control/session-reset", h.handleSessionReset).Methods(http.MethodPost)
	api.HandleFunc("/control/project-start", h.handleProjectStart).Methods(http.MethodPost)
	api.HandleFunc("/control/project-completion", h.handleProjectCompletion).Methods(http.MethodPost)
}

// handleResume lets an operator resolve a usage-limit pause early,
// bypassing the 1-minute resolution ticker.
func (h *controlHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.Resolve(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resumed": true})
}

func (h *controlHandler) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.cleanup.EmergencyStop(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"emergency_stop": "completed"})
}

func (h *controlHandler) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	h.cleanup.SessionReset(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"session_reset": "completed"})
}

func (h *controlHandler) handleProjectStart(w http.ResponseWriter, r *http.Request) {
	h.cleanup.ProjectStart(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"project_start": "completed"})
}

func (h *controlHandler) handleProjectCompletion(w http.ResponseWriter, r *http.Request) {
	h.cleanup.ProjectCompletion(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"project_completion": "completed"})
}
