package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shiro-booru/shiro/internal/apperr"
)

// CreateSchedule inserts a cron launch rule. The expression is validated by
// the scheduler before this is called.
func (s *Store) CreateSchedule(ctx context.Context, jobName, cronExpression string, enabled bool) (*ScheduledJob, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (job_name, cron_expression, is_enabled)
		VALUES (?, ?, ?)`, jobName, cronExpression, enabled)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	id, _ := res.LastInsertId()
	return &ScheduledJob{ID: id, JobName: jobName, CronExpression: cronExpression, IsEnabled: enabled}, nil
}

// GetSchedule loads one schedule.
func (s *Store) GetSchedule(ctx context.Context, id int64) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_name, cron_expression, is_enabled, last_run, next_run
		FROM scheduled_jobs WHERE id = ?`, id)
	sj, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("schedule %d not found", id)
	}
	return sj, err
}

// ListSchedules returns all schedules; enabledOnly restricts to enabled rows.
func (s *Store) ListSchedules(ctx context.Context, enabledOnly bool) ([]ScheduledJob, error) {
	q := `SELECT id, job_name, cron_expression, is_enabled, last_run, next_run FROM scheduled_jobs`
	if enabledOnly {
		q += ` WHERE is_enabled = 1`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var items []ScheduledJob
	for rows.Next() {
		sj, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *sj)
	}
	return items, rows.Err()
}

// UpdateSchedule changes the expression and enabled flag of a schedule.
func (s *Store) UpdateSchedule(ctx context.Context, id int64, cronExpression string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET cron_expression = ?, is_enabled = ? WHERE id = ?`,
		cronExpression, enabled, id)
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("schedule %d not found", id)
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("schedule %d not found", id)
	}
	return nil
}

// TouchScheduleRun records a launch: last_run = now, next_run as computed by
// the cron parser. Written in one statement so both move together.
func (s *Store) TouchScheduleRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_run = ?, next_run = ? WHERE id = ?`,
		lastRun.Unix(), nextRun.Unix(), id)
	if err != nil {
		return fmt.Errorf("touch schedule %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*ScheduledJob, error) {
	var sj ScheduledJob
	var last, next sql.NullInt64
	if err := row.Scan(&sj.ID, &sj.JobName, &sj.CronExpression, &sj.IsEnabled, &last, &next); err != nil {
		return nil, err
	}
	if last.Valid {
		t := time.Unix(last.Int64, 0).UTC()
		sj.LastRun = &t
	}
	if next.Valid {
		t := time.Unix(next.Int64, 0).UTC()
		sj.NextRun = &t
	}
	return &sj, nil
}
