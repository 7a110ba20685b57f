package handlers

import (
	"net/http"
	"strconv"

	"github.com/shiro-booru/shiro/internal/store"
)

// PostsHandler exposes read-only post details.
type PostsHandler struct {
	Store *store.Store
}

// Get handles GET /api/posts/{id}.
func (h *PostsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	p, err := h.Store.GetPost(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Audit handles GET /api/posts/{id}/audit?limit= — the trigger-written
// change history of a post, newest first.
func (h *PostsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Store.AuditForPost(r.Context(), id, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
