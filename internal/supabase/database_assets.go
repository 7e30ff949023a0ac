package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/models"
)

const assetColumns = `id, user_id, project_id, type, source, filename, storage_path, storage_url,
	mime_type, file_size, metadata, created_at`

func scanAsset(row scanner) (*models.Asset, error) {
	var a models.Asset
	var metadata []byte
	err := row.Scan(
		&a.ID, &a.UserID, &a.ProjectID, &a.Type, &a.Source, &a.Filename, &a.StoragePath, &a.StorageURL,
		&a.MimeType, &a.FileSize, &metadata, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Metadata = json.RawMessage(metadata)
	return &a, nil
}

func (d *DatabaseClient) CreateAsset(ctx context.Context, a *models.Asset) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO assets (id, user_id, project_id, type, source, filename, storage_path, storage_url, mime_type, file_size, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, a.ID, a.UserID, a.ProjectID, a.Type, a.Source, a.Filename, a.StoragePath, a.StorageURL,
		a.MimeType, a.FileSize, jsonArg(a.Metadata)).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetAsset(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, assetID)
	a, err := scanAsset(row)
	if err != nil {
		return nil, wrapErr("get asset", err)
	}
	return a, nil
}

func (d *DatabaseClient) ListAssetsByProject(ctx context.Context, projectID uuid.UUID) ([]models.Asset, error) {
	return d.listAssets(ctx, `WHERE project_id = $1`, projectID)
}

func (d *DatabaseClient) ListAssetsByUser(ctx context.Context, userID uuid.UUID) ([]models.Asset, error) {
	return d.listAssets(ctx, `WHERE user_id = $1`, userID)
}

func (d *DatabaseClient) listAssets(ctx context.Context, where string, id uuid.UUID) ([]models.Asset, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets `+where+` ORDER BY created_at DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	assets := []models.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// SumAssetBytes returns the stored size of every asset in a project.
func (d *DatabaseClient) SumAssetBytes(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var total int64
	err := d.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(file_size), 0) FROM assets WHERE project_id = $1`, projectID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum asset sizes: %w", err)
	}
	return total, nil
}

func (d *DatabaseClient) DeleteAsset(ctx context.Context, assetID uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, assetID)
	return expectOne("delete asset", res, err)
}
