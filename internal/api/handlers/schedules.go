package handlers

import (
	"net/http"

	"github.com/shiro-booru/shiro/internal/apperr"
	"github.com/shiro-booru/shiro/internal/jobs"
	"github.com/shiro-booru/shiro/internal/scheduler"
	"github.com/shiro-booru/shiro/internal/store"
)

// SchedulesHandler manages cron launch rules. Changes take effect at the
// next process start; the scheduler reads its rules once at startup.
type SchedulesHandler struct {
	Store  *store.Store
	Engine *jobs.Engine
}

// List handles GET /api/schedules.
func (h *SchedulesHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListSchedules(r.Context(), false)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Create handles POST /api/schedules.
func (h *SchedulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobName        string `json:"job_name"`
		CronExpression string `json:"cron_expression"`
		IsEnabled      bool   `json:"is_enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.validate(req.JobName, req.CronExpression); err != nil {
		writeAppError(w, err)
		return
	}
	sj, err := h.Store.CreateSchedule(r.Context(), req.JobName, req.CronExpression, req.IsEnabled)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sj)
}

// Update handles PATCH /api/schedules/{id}.
func (h *SchedulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req struct {
		CronExpression string `json:"cron_expression"`
		IsEnabled      bool   `json:"is_enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := scheduler.ValidateExpression(req.CronExpression); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Store.UpdateSchedule(r.Context(), id, req.CronExpression, req.IsEnabled); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/schedules/{id}.
func (h *SchedulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Store.DeleteSchedule(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SchedulesHandler) validate(jobName, cronExpression string) error {
	if err := scheduler.ValidateExpression(cronExpression); err != nil {
		return err
	}
	for _, d := range h.Engine.Descriptors() {
		if d.Key == jobName {
			return nil
		}
	}
	return apperr.Invalid("unknown job %q", jobName)
}
