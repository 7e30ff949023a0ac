package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobKindVideo JobKind = "video"
	JobKindImage JobKind = "image"
	JobKindAudio JobKind = "audio"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobKindVideo, JobKindImage, JobKindAudio:
		return true
	}
	return false
}

// AssetType is the type of asset a finished job produces.
func (k JobKind) AssetType() AssetType {
	return AssetType(k)
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

type ProcessingJob struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	ProjectID     uuid.UUID
	Kind          JobKind
	Status        JobStatus
	Provider      string
	OperationName string
	Prompt        string
	Params        json.RawMessage
	AssetID       uuid.NullUUID
	Progress      int
	ErrorMessage  sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   sql.NullTime
}
