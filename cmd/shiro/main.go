package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shiro-booru/shiro/internal/api"
	"github.com/shiro-booru/shiro/internal/config"
	"github.com/shiro-booru/shiro/internal/db"
	"github.com/shiro-booru/shiro/internal/dupes"
	"github.com/shiro-booru/shiro/internal/jobs"
	"github.com/shiro-booru/shiro/internal/scheduler"
	"github.com/shiro-booru/shiro/internal/store"
	"github.com/shiro-booru/shiro/internal/syncer"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial — overridden below once config is loaded) ─────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("shiro starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"thumbnail_path", cfg.ThumbnailPath)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	st := store.New(database)

	// Mark any executions left 'running' by a previous process as failed.
	if err := st.MarkStaleJobExecutionsFailed(context.Background()); err != nil {
		slog.Warn("mark stale job executions", "error", err)
	}

	// ── Job engine ─────────────────────────────────────────────────────────
	sy := syncer.New(st, syncer.Options{Parallelism: cfg.Scanner.Parallelism})
	engine := jobs.NewEngine(st)
	jobs.RegisterAll(engine, st, sy, cfg)
	defer engine.Shutdown()

	// ── Scheduler ──────────────────────────────────────────────────────────
	if *cfg.Processing.RunScheduler {
		sched := scheduler.New(st, engine)
		if err := sched.Start(context.Background()); err != nil {
			slog.Error("start scheduler", "error", err)
			os.Exit(1)
		}
		defer sched.Stop()
	} else {
		slog.Info("scheduler disabled by configuration")
	}

	// ── HTTP server ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := dupes.NewService(st)
	srv := api.New(cfg.HTTPAddr, st, engine, svc, sy, version)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("shiro stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
