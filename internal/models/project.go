package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Project struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     string
	Timeline  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnedBy reports whether userID owns the project.
func (p *Project) OwnedBy(userID uuid.UUID) bool {
	return p != nil && p.UserID == userID
}
