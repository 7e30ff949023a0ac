package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/models"
)

const projectColumns = `id, user_id, title, timeline, created_at, updated_at`

func scanProject(row scanner) (*models.Project, error) {
	var p models.Project
	var timeline []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.Title, &timeline, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Timeline = json.RawMessage(timeline)
	return &p, nil
}

// CreateProject inserts p unless the user already owns maxProjects projects.
// A negative maxProjects never rejects.
func (d *DatabaseClient) CreateProject(ctx context.Context, p *models.Project, maxProjects int) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, user_id, title, timeline)
		SELECT $1::uuid, $2::uuid, $3::text, $4::jsonb
		WHERE $5::int < 0 OR (SELECT COUNT(*) FROM projects WHERE user_id = $2::uuid) < $5::int
		RETURNING created_at, updated_at
	`, p.ID, p.UserID, p.Title, jsonArg(p.Timeline), maxProjects).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("project limit of %d reached: %w", maxProjects, models.ErrQuotaExceeded)
	}
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	p, err := scanProject(row)
	if err != nil {
		return nil, wrapErr("get project", err)
	}
	return p, nil
}

// ListProjects returns the user's projects, most recently edited first.
// Timelines are only loaded when withTimeline is set.
func (d *DatabaseClient) ListProjects(ctx context.Context, userID uuid.UUID, withTimeline bool) ([]models.Project, error) {
	timelineCol := "NULL::jsonb"
	if withTimeline {
		timelineCol = "timeline"
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, title, `+timelineCol+`, created_at, updated_at
		FROM projects
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (d *DatabaseClient) CountProjects(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return n, nil
}

func (d *DatabaseClient) UpdateProjectTitle(ctx context.Context, projectID uuid.UUID, title string) (time.Time, error) {
	var updatedAt time.Time
	err := d.db.QueryRowContext(ctx, `
		UPDATE projects SET title = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING updated_at
	`, title, projectID).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, wrapErr("update project title", err)
	}
	return updatedAt, nil
}

// UpdateProjectTimeline replaces the timeline. A non-zero ifUpdatedAt makes
// the write conditional: it fails with ErrConflict when the row changed since.
func (d *DatabaseClient) UpdateProjectTimeline(ctx context.Context, projectID uuid.UUID, timeline json.RawMessage, ifUpdatedAt time.Time) (time.Time, error) {
	var expected sql.NullTime
	if !ifUpdatedAt.IsZero() {
		expected = sql.NullTime{Time: ifUpdatedAt, Valid: true}
	}
	var updatedAt time.Time
	err := d.db.QueryRowContext(ctx, `
		UPDATE projects SET timeline = $1, updated_at = NOW()
		WHERE id = $2 AND ($3::timestamptz IS NULL OR updated_at = $3)
		RETURNING updated_at
	`, jsonArg(timeline), projectID, expected).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) && expected.Valid {
		var exists bool
		if err := d.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, projectID).Scan(&exists); err != nil {
			return time.Time{}, fmt.Errorf("failed to update project timeline: %w", err)
		}
		if exists {
			return time.Time{}, fmt.Errorf("project %s changed since it was read: %w", projectID, models.ErrConflict)
		}
	}
	if err != nil {
		return time.Time{}, wrapErr("update project timeline", err)
	}
	return updatedAt, nil
}

// DeleteProject removes the project; assets and jobs follow by cascade.
func (d *DatabaseClient) DeleteProject(ctx context.Context, projectID uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	return expectOne("delete project", res, err)
}
