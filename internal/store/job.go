package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// InsertJobExecution records a job run in the running state and returns its id.
func (s *Store) InsertJobExecution(ctx context.Context, jobName string, startTime time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_executions (job_name, status, start_time)
		VALUES (?, 'running', ?)`, jobName, startTime.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert job execution: %w", err)
	}
	return res.LastInsertId()
}

// FinishJobExecution transitions an execution to its terminal status.
// errMsg is empty for completed and cancelled runs.
func (s *Store) FinishJobExecution(ctx context.Context, id int64, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_executions SET status = ?, end_time = ?, error_message = ?
		WHERE id = ?`, status, time.Now().Unix(), nullStr(errMsg), id)
	if err != nil {
		return fmt.Errorf("finish job execution %d: %w", id, err)
	}
	return nil
}

// JobHistory pages executions by most-recent start. Pages are 1-based.
func (s *Store) JobHistory(ctx context.Context, page, pageSize int) ([]JobExecution, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_executions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count job executions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_name, status, start_time, end_time, error_message
		FROM job_executions
		ORDER BY start_time DESC, id DESC
		LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("job history: %w", err)
	}
	defer rows.Close()

	var items []JobExecution
	for rows.Next() {
		var e JobExecution
		var start int64
		var end sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.JobName, &e.Status, &start, &end, &errMsg); err != nil {
			return nil, 0, err
		}
		e.StartTime = time.Unix(start, 0).UTC()
		if end.Valid {
			t := time.Unix(end.Int64, 0).UTC()
			e.EndTime = &t
		}
		e.ErrorMessage = strOrEmpty(errMsg)
		items = append(items, e)
	}
	return items, total, rows.Err()
}

// MarkStaleJobExecutionsFailed marks any rows still 'running' as failed.
// Called once at startup in case a previous process crashed mid-job.
func (s *Store) MarkStaleJobExecutionsFailed(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_executions
		SET status = 'failed', end_time = ?, error_message = 'interrupted by shutdown'
		WHERE status = 'running'`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale job executions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale job executions as failed", "count", n)
	}
	return nil
}
