package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shiro-booru/shiro/internal/jobs"
	"github.com/shiro-booru/shiro/internal/store"
)

// JobsHandler exposes the job engine.
type JobsHandler struct {
	Engine *jobs.Engine
}

// List handles GET /api/jobs — the registered job descriptors.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Descriptors())
}

// Active handles GET /api/jobs/active.
func (h *JobsHandler) Active(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Active())
}

// Start handles POST /api/jobs/{key}/start?mode=missing|all.
func (h *JobsHandler) Start(w http.ResponseWriter, r *http.Request) {
	mode, err := jobs.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	execID, err := h.Engine.Start(r.Context(), chi.URLParam(r, "key"), mode)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"execution_id": execID,
		"status":       "running",
	})
}

// Cancel handles POST /api/jobs/executions/{id}/cancel. Idempotent.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	h.Engine.Cancel(id)
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/jobs/history?page=&page_size=.
func (h *JobsHandler) History(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePaging(r)
	items, total, err := h.Engine.History(r.Context(), page, pageSize)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.JobExecution]{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}
