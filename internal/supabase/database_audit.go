package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/models"
)

func (d *DatabaseClient) InsertAuditLog(ctx context.Context, e *models.AuditLogEntry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID, e.IPAddress, e.UserAgent, jsonArg(e.Metadata), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns the user's most recent entries, newest first.
func (d *DatabaseClient) ListAuditLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditLogEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, action, resource_type, resource_id, ip_address, user_agent, metadata, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditLogEntry{}
	for rows.Next() {
		var e models.AuditLogEntry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.IPAddress, &e.UserAgent, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.Metadata = json.RawMessage(metadata)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
