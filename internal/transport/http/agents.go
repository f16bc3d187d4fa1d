package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/presidium/orchestrator/internal/agentcache"
	"github.com/presidium/orchestrator/internal/roster"
)

// agentsHandler exposes the live agent-status snapshot (§4.4 C4) and the
// static roster (§4.3).
type agentsHandler struct {
	cache  *agentcache.Cache
	roster *roster.Roster
}

func newAgentsHandler(c *agentcache.Cache, r *roster.Roster) *agentsHandler {
	return &agentsHandler{cache: c, roster: r}
}

func (h *agentsHandler) registerRoutes(api *mux.Router) {
	api.HandleFunc("/agents", h.handleList).Methods(http.MethodGet)
	api.HandleFunc("/agents/{name}", h.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/agents/{name}/activity", h.handleActivity).Methods(http.MethodGet)
}

func (h *agentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"roster": h.roster.All(),
		"status": h.cache.All(),
	})
}

func (h *agentsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	status, ok := h.cache.Get(name)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *agentsHandler) handleActivity(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	writeJSON(w, http.StatusOK, map[string]any{"activity": h.cache.RecentActivity(name)})
}
