package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/shiro-booru/shiro/internal/jobs"
	"github.com/shiro-booru/shiro/internal/store"
)

// StatusHandler reports service health and catalog totals.
type StatusHandler struct {
	Store   *store.Store
	Engine  *jobs.Engine
	Version string
	Started time.Time
}

// ServeHTTP handles GET /api/status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Store.CountPosts(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	var totalBytes sql.NullInt64
	if err := h.Store.DB().QueryRowContext(r.Context(),
		`SELECT SUM(size_bytes) FROM posts`).Scan(&totalBytes); err != nil {
		writeAppError(w, err)
		return
	}

	var libraries, unresolvedGroups int64
	if err := h.Store.DB().QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM libraries`).Scan(&libraries); err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.Store.DB().QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM duplicate_groups WHERE is_resolved = 0`).Scan(&unresolvedGroups); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":           h.Version,
		"uptime":            time.Since(h.Started).Round(time.Second).String(),
		"libraries":         libraries,
		"posts":             posts,
		"total_size":        humanize.Bytes(uint64(totalBytes.Int64)),
		"total_size_bytes":  totalBytes.Int64,
		"unresolved_groups": unresolvedGroups,
		"active_jobs":       len(h.Engine.Active()),
	})
}
