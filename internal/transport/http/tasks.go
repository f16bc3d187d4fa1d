package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/presidium/orchestrator/internal/tasks"
)

// tasksHandler exposes task CRUD plus the lifecycle operations (retry,
// clone, cancel) over HTTP, grounded in the teacher's
// internal/handlers/tasks.go TasksHandler.
type tasksHandler struct {
	dispatcher *tasks.Dispatcher
}

func newTasksHandler(d *tasks.Dispatcher) *tasksHandler {
	return &tasksHandler{dispatcher: d}
}

func (h *tasksHandler) registerRoutes(api *mux.Router) {
	api.HandleFunc("/tasks", h.handleList).Methods(http.MethodGet)
	api.HandleFunc("/tasks", h.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/tasks/counts", h.handleCounts).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", h.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/retry", h.handleRetry).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/clone", h.handleClone).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/cancel", h.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", h.handleDelete).Methods(http.MethodDelete)
}

func (h *tasksHandler) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	all := h.dispatcher.ListTasks()
	if status == "" {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": all})
		return
	}

	filtered := make([]*tasks.Task, 0, len(all))
	for _, t := range all {
		if string(t.Status) == status {
			filtered = append(filtered, t)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": filtered})
}

func (h *tasksHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)

	var req struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		ProjectName  string   `json:"project_name"`
		Deliverables []string `json:"deliverables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	t, err := h.dispatcher.CreateTask(req.Title, req.Description, req.ProjectName, req.Deliverables)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *tasksHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t := h.dispatcher.GetTask(id)
	if t == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *tasksHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := h.dispatcher.Retry(id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *tasksHandler) handleClone(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	clone, err := h.dispatcher.CloneAsNew(id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

func (h *tasksHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.dispatcher.Cancel(r.Context(), id); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "cancelled"})
}

func (h *tasksHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.dispatcher.Delete(id); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *tasksHandler) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts := h.dispatcher.CountsByStatus()
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	writeJSON(w, http.StatusOK, out)
}

// writeTaskError maps a dispatcher error to a status code. The
// dispatcher distinguishes "not found" from "conflict" only by message
// prefix (no sentinel error type), so the mapping matches its wording.
func writeTaskError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case len(msg) >= 9 && msg[:9] == "not found":
		http.Error(w, msg, http.StatusNotFound)
	case len(msg) >= 8 && msg[:8] == "conflict":
		http.Error(w, msg, http.StatusConflict)
	default:
		http.Error(w, msg, http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already started; nothing more to do but note it.
		_ = err
	}
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
}
