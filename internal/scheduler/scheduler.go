// Package scheduler launches background jobs from cron expressions stored in
// the database.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shiro-booru/shiro/internal/apperr"
	"github.com/shiro-booru/shiro/internal/jobs"
	"github.com/shiro-booru/shiro/internal/store"
)

// parser accepts the standard 5-field cron dialect with an optional leading
// seconds field.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateExpression rejects malformed cron expressions with an invalid-input
// error, used by the schedule CRUD handlers.
func ValidateExpression(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return apperr.Invalid("invalid cron expression %q: %v", expr, err)
	}
	return nil
}

// Scheduler drives Engine.Start from enabled scheduled_jobs rows.
type Scheduler struct {
	st     *store.Store
	engine *jobs.Engine
	cron   *cron.Cron
}

// New builds a stopped scheduler. Call Start to load schedules and begin.
func New(st *store.Store, engine *jobs.Engine) *Scheduler {
	return &Scheduler{
		st:     st,
		engine: engine,
		cron:   cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
	}
}

// Start loads enabled schedules and begins firing them. Rows with a
// malformed expression are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.st.ListSchedules(ctx, true)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	for _, sj := range schedules {
		sj := sj
		_, err := s.cron.AddFunc(sj.CronExpression, func() { s.fire(sj) })
		if err != nil {
			slog.Error("skipping schedule with bad cron expression",
				"schedule", sj.ID, "job", sj.JobName, "expr", sj.CronExpression, "error", err)
			continue
		}
		slog.Info("schedule registered", "job", sj.JobName, "expr", sj.CronExpression)
	}

	s.cron.Start()
	return nil
}

// Stop halts firing; already-started jobs keep running under the engine.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// fire launches one scheduled job in missing mode. A Conflict (the job is
// already running) is logged and not retried before the next occurrence.
func (s *Scheduler) fire(sj store.ScheduledJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if _, err := s.engine.Start(ctx, sj.JobName, jobs.ModeMissing); err != nil {
		if apperr.IsConflict(err) {
			slog.Warn("scheduled job still running, skipping launch", "job", sj.JobName)
		} else {
			slog.Error("scheduled job launch failed", "job", sj.JobName, "error", err)
		}
		return
	}

	next := now
	if sched, err := parser.Parse(sj.CronExpression); err == nil {
		next = sched.Next(now)
	}
	if err := s.st.TouchScheduleRun(ctx, sj.ID, now, next); err != nil {
		slog.Error("record schedule run", "schedule", sj.ID, "error", err)
	}
}
