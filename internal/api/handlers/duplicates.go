package handlers

import (
	"net/http"

	"github.com/shiro-booru/shiro/internal/dupes"
)

// DuplicatesHandler exposes duplicate review and resolution.
type DuplicatesHandler struct {
	Svc *dupes.Service
}

// List handles GET /api/duplicates?resolved=true|false.
func (h *DuplicatesHandler) List(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	switch r.URL.Query().Get("resolved") {
	case "true":
		v := true
		resolved = &v
	case "false":
		v := false
		resolved = &v
	}
	groups, err := h.Svc.ListGroups(r.Context(), resolved)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// Get handles GET /api/duplicates/{id}.
func (h *DuplicatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	g, err := h.Svc.GetGroup(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// SameFolder handles GET /api/duplicates/same-folder?exact_only=.
func (h *DuplicatesHandler) SameFolder(w http.ResponseWriter, r *http.Request) {
	parts, err := h.Svc.SameFolderPartitions(r.Context(), r.URL.Query().Get("exact_only") == "true")
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

type postIDRequest struct {
	PostID int64 `json:"post_id"`
}

// Keep handles POST /api/duplicates/{id}/keep.
func (h *DuplicatesHandler) Keep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req postIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Svc.KeepOne(r.Context(), id, req.PostID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Exclude handles POST /api/duplicates/{id}/exclude.
func (h *DuplicatesHandler) Exclude(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req postIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Svc.ExcludeOne(r.Context(), id, req.PostID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteFile handles POST /api/duplicates/{id}/delete-file.
func (h *DuplicatesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req postIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Svc.DeleteOneWithFile(r.Context(), id, req.PostID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveFolder handles POST /api/duplicates/{id}/resolve-folder.
func (h *DuplicatesHandler) ResolveFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req struct {
		LibraryID int64  `json:"library_id"`
		Folder    string `json:"folder"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Svc.ResolveSameFolder(r.Context(), id, req.LibraryID, req.Folder); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KeepAll handles POST /api/duplicates/{id}/keep-all.
func (h *DuplicatesHandler) KeepAll(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Svc.KeepAll(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unresolve handles POST /api/duplicates/{id}/unresolve.
func (h *DuplicatesHandler) Unresolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Svc.MarkUnresolved(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveAll handles POST /api/duplicates/resolve-all?exact_only=.
func (h *DuplicatesHandler) ResolveAll(w http.ResponseWriter, r *http.Request) {
	var n int
	var err error
	if r.URL.Query().Get("exact_only") == "true" {
		n, err = h.Svc.ResolveAllExact(r.Context())
	} else {
		n, err = h.Svc.ResolveAll(r.Context())
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": n})
}

// ResolveAllSameFolder handles POST /api/duplicates/resolve-same-folder?exact_only=.
func (h *DuplicatesHandler) ResolveAllSameFolder(w http.ResponseWriter, r *http.Request) {
	n, err := h.Svc.ResolveAllSameFolder(r.Context(), r.URL.Query().Get("exact_only") == "true")
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": n})
}

// UnresolveAll handles POST /api/duplicates/unresolve-all.
func (h *DuplicatesHandler) UnresolveAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Svc.MarkAllUnresolved(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reopened": n})
}
