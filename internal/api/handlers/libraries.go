package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shiro-booru/shiro/internal/apperr"
	"github.com/shiro-booru/shiro/internal/store"
	"github.com/shiro-booru/shiro/internal/syncer"
)

// LibrariesHandler manages library CRUD and manual scans.
type LibrariesHandler struct {
	Store *store.Store
	Sync  *syncer.Syncer
}

// List handles GET /api/libraries.
func (h *LibrariesHandler) List(w http.ResponseWriter, r *http.Request) {
	libs, err := h.Store.ListLibraries(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, libs)
}

// Get handles GET /api/libraries/{id}.
func (h *LibrariesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	lib, err := h.Store.GetLibrary(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

// Create handles POST /api/libraries.
func (h *LibrariesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name              string `json:"name"`
		Path              string `json:"path"`
		ScanIntervalHours int    `json:"scan_interval_hours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	lib, err := h.Store.CreateLibrary(r.Context(), req.Name, req.Path, req.ScanIntervalHours)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lib)
}

// Update handles PATCH /api/libraries/{id}.
func (h *LibrariesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req struct {
		Name              string `json:"name"`
		ScanIntervalHours int    `json:"scan_interval_hours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Store.UpdateLibrary(r.Context(), id, req.Name, req.ScanIntervalHours); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/libraries/{id}.
func (h *LibrariesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Store.DeleteLibrary(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Scan handles POST /api/libraries/{id}/scan — launches a one-library sync
// in the background and returns immediately.
func (h *LibrariesHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	lib, err := h.Store.GetLibrary(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}

	go func() {
		res, err := h.Sync.SyncLibrary(context.Background(), lib, nil, nil)
		if err != nil {
			slog.Error("manual library scan failed", "library", lib.Name, "error", err)
			return
		}
		slog.Info("manual library scan finished", "library", lib.Name,
			"scanned", res.Scanned, "added", res.Added, "removed", res.Removed)
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"library_id": id, "status": "scanning"})
}

// AddIgnoredPrefix handles POST /api/libraries/{id}/ignored-prefixes.
func (h *LibrariesHandler) AddIgnoredPrefix(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req struct {
		Prefix string `json:"prefix"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if _, err := h.Store.GetLibrary(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Store.AddIgnoredPrefix(r.Context(), id, req.Prefix); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveIgnoredPrefix handles DELETE /api/libraries/{id}/ignored-prefixes?prefix=.
func (h *LibrariesHandler) RemoveIgnoredPrefix(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeAppError(w, apperr.Invalid("prefix query parameter is required"))
		return
	}
	if err := h.Store.RemoveIgnoredPrefix(r.Context(), id, prefix); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
