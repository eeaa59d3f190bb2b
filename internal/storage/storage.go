// Package storage is the Postgres adapter behind the job store: write-through
// upserts keyed by job_id, plus read-side listing for the API.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"exportd/internal/job"
	"exportd/shared/postgresql"

	"github.com/jmoiron/sqlx"
)

// Storage implements job.Store on PostgreSQL.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a Storage on an established client.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// Save writes the record through, inserting on first reference and otherwise
// replacing the row. Returns only after the write is durable.
func (s *Storage) Save(ctx context.Context, rec *job.Record) error {
	query := `
		INSERT INTO export_jobs (
			job_id, project_ref, job_type, status, progress, progress_message,
			input_ref, output_ref, params, error_message, retry_count,
			external_worker_ref, last_signal, created_at, started_at,
			completed_at, updated_at
		) VALUES (
			:job_id, :project_ref, :job_type, :status, :progress, :progress_message,
			:input_ref, :output_ref, :params, :error_message, :retry_count,
			:external_worker_ref, :last_signal, :created_at, :started_at,
			:completed_at, :updated_at
		)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			progress_message = EXCLUDED.progress_message,
			output_ref = EXCLUDED.output_ref,
			error_message = EXCLUDED.error_message,
			retry_count = EXCLUDED.retry_count,
			external_worker_ref = EXCLUDED.external_worker_ref,
			last_signal = EXCLUDED.last_signal,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.ID, err)
	}
	return nil
}

// Load reads the record for jobID, or job.ErrJobNotFound.
func (s *Storage) Load(ctx context.Context, jobID string) (*job.Record, error) {
	query := `
		SELECT
			job_id, project_ref, job_type, status, progress, progress_message,
			input_ref, output_ref, params, error_message, retry_count,
			external_worker_ref, last_signal, created_at, started_at,
			completed_at, updated_at
		FROM export_jobs
		WHERE job_id = $1
	`

	var rec job.Record
	if err := s.db.GetContext(ctx, &rec, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return &rec, nil
}

// Delete removes the record for jobID, or job.ErrJobNotFound.
func (s *Storage) Delete(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// JobFilter narrows a listing query.
type JobFilter struct {
	ProjectRef string
	JobType    string
	Status     string
	PageSize   int
	Cursor     *JobCursor
}

// JobCursor is a keyset pagination position over (created_at, job_id).
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 records matching the filter, newest
// first; the extra record tells the caller another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]job.Record, error) {
	query := `
		SELECT
			job_id, project_ref, job_type, status, progress, progress_message,
			input_ref, output_ref, params, error_message, retry_count,
			external_worker_ref, last_signal, created_at, started_at,
			completed_at, updated_at
		FROM export_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.ProjectRef != "" {
		query += fmt.Sprintf(" AND project_ref = $%d", argIdx)
		args = append(args, filter.ProjectRef)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for stable keyset pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []job.Record
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
