package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/models"
)

const jobColumns = `id, user_id, project_id, kind, status, provider, operation_name, prompt, params,
	asset_id, progress, error_message, created_at, updated_at, completed_at`

const activeStatuses = `('pending', 'processing')`

func scanJob(row scanner) (*models.ProcessingJob, error) {
	var j models.ProcessingJob
	var params []byte
	err := row.Scan(
		&j.ID, &j.UserID, &j.ProjectID, &j.Kind, &j.Status, &j.Provider, &j.OperationName, &j.Prompt, &params,
		&j.AssetID, &j.Progress, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Params = json.RawMessage(params)
	return &j, nil
}

func (d *DatabaseClient) CreateJob(ctx context.Context, j *models.ProcessingJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = models.JobStatusPending
	}
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO processing_jobs (id, user_id, project_id, kind, status, provider, operation_name, prompt, params, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, j.ID, j.UserID, j.ProjectID, j.Kind, j.Status, j.Provider, j.OperationName, j.Prompt, jsonArg(j.Params), j.Progress,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ProcessingJob, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return j, nil
}

func (d *DatabaseClient) ListJobsByProject(ctx context.Context, projectID uuid.UUID) ([]models.ProcessingJob, error) {
	return d.listJobs(ctx, `
		SELECT `+jobColumns+` FROM processing_jobs
		WHERE project_id = $1
		ORDER BY created_at DESC
	`, projectID)
}

func (d *DatabaseClient) ListJobsByUser(ctx context.Context, userID uuid.UUID) ([]models.ProcessingJob, error) {
	return d.listJobs(ctx, `
		SELECT `+jobColumns+` FROM processing_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
}

// ListActiveJobs returns up to limit unfinished jobs, least recently checked first.
func (d *DatabaseClient) ListActiveJobs(ctx context.Context, limit int) ([]models.ProcessingJob, error) {
	return d.listJobs(ctx, `
		SELECT `+jobColumns+` FROM processing_jobs
		WHERE status IN `+activeStatuses+`
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
}

// ListStaleJobs returns unfinished jobs created before cutoff.
func (d *DatabaseClient) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]models.ProcessingJob, error) {
	return d.listJobs(ctx, `
		SELECT `+jobColumns+` FROM processing_jobs
		WHERE status IN `+activeStatuses+` AND created_at < $1
		ORDER BY created_at ASC
	`, cutoff)
}

func (d *DatabaseClient) listJobs(ctx context.Context, query string, args ...any) ([]models.ProcessingJob, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.ProcessingJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// UpdateJobProgress moves an unfinished job to processing with the given
// progress. It reports false when the job had already finished.
func (d *DatabaseClient) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, progress int) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = 'processing', progress = GREATEST(progress, $1), updated_at = NOW()
		WHERE id = $2 AND status IN `+activeStatuses, progress, jobID)
	return affected("update job progress", res, err)
}

// CompleteJob finishes a job with its produced asset.
func (d *DatabaseClient) CompleteJob(ctx context.Context, jobID, assetID uuid.UUID) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = 'completed', progress = 100, asset_id = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status IN `+activeStatuses, assetID, jobID)
	return affected("complete job", res, err)
}

func (d *DatabaseClient) FailJob(ctx context.Context, jobID uuid.UUID, message string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = 'failed', error_message = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status IN `+activeStatuses, message, jobID)
	return affected("fail job", res, err)
}

func (d *DatabaseClient) CancelJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = 'canceled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN `+activeStatuses, jobID)
	return affected("cancel job", res, err)
}

// TouchJob bumps updated_at so the poller rotates through active jobs.
func (d *DatabaseClient) TouchJob(ctx context.Context, jobID uuid.UUID) error {
	_, err := d.db.ExecContext(ctx, `UPDATE processing_jobs SET updated_at = NOW() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}
	return nil
}

func affected(op string, res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n > 0, nil
}
