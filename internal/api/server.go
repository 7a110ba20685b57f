// Package api wires the HTTP surface: job control, library CRUD, duplicate
// review and resolution, schedules, and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shiro-booru/shiro/internal/api/handlers"
	"github.com/shiro-booru/shiro/internal/dupes"
	"github.com/shiro-booru/shiro/internal/jobs"
	"github.com/shiro-booru/shiro/internal/store"
	"github.com/shiro-booru/shiro/internal/syncer"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(
	addr string,
	st *store.Store,
	engine *jobs.Engine,
	svc *dupes.Service,
	sy *syncer.Syncer,
	version string,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Store: st, Engine: engine, Version: version, Started: time.Now()}
	jobsH := &handlers.JobsHandler{Engine: engine}
	libsH := &handlers.LibrariesHandler{Store: st, Sync: sy}
	dupesH := &handlers.DuplicatesHandler{Svc: svc}
	schedH := &handlers.SchedulesHandler{Store: st, Engine: engine}
	postsH := &handlers.PostsHandler{Store: st}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Get("/jobs", jobsH.List)
		r.Get("/jobs/active", jobsH.Active)
		r.Get("/jobs/history", jobsH.History)
		r.Post("/jobs/{key}/start", jobsH.Start)
		r.Post("/jobs/executions/{id}/cancel", jobsH.Cancel)

		r.Get("/libraries", libsH.List)
		r.Post("/libraries", libsH.Create)
		r.Get("/libraries/{id}", libsH.Get)
		r.Patch("/libraries/{id}", libsH.Update)
		r.Delete("/libraries/{id}", libsH.Delete)
		r.Post("/libraries/{id}/scan", libsH.Scan)
		r.Post("/libraries/{id}/ignored-prefixes", libsH.AddIgnoredPrefix)
		r.Delete("/libraries/{id}/ignored-prefixes", libsH.RemoveIgnoredPrefix)

		r.Get("/duplicates", dupesH.List)
		r.Get("/duplicates/same-folder", dupesH.SameFolder)
		r.Post("/duplicates/resolve-all", dupesH.ResolveAll)
		r.Post("/duplicates/resolve-same-folder", dupesH.ResolveAllSameFolder)
		r.Post("/duplicates/unresolve-all", dupesH.UnresolveAll)
		r.Get("/duplicates/{id}", dupesH.Get)
		r.Post("/duplicates/{id}/keep", dupesH.Keep)
		r.Post("/duplicates/{id}/exclude", dupesH.Exclude)
		r.Post("/duplicates/{id}/delete-file", dupesH.DeleteFile)
		r.Post("/duplicates/{id}/resolve-folder", dupesH.ResolveFolder)
		r.Post("/duplicates/{id}/keep-all", dupesH.KeepAll)
		r.Post("/duplicates/{id}/unresolve", dupesH.Unresolve)

		r.Get("/schedules", schedH.List)
		r.Post("/schedules", schedH.Create)
		r.Patch("/schedules/{id}", schedH.Update)
		r.Delete("/schedules/{id}", schedH.Delete)

		r.Get("/posts/{id}", postsH.Get)
		r.Get("/posts/{id}/audit", postsH.Audit)
	})

	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
