package models

import (
	"encoding/json"
	"time"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type ProjectResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Timeline  json.RawMessage `json:"timeline,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type TimelineResponse struct {
	ProjectID       string          `json:"project_id"`
	Timeline        json.RawMessage `json:"timeline"`
	DurationSeconds float64         `json:"duration_seconds"`
	Duration        string          `json:"duration"`
	Timecode        string          `json:"timecode"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ClipResponse struct {
	ClipID     string          `json:"clip_id"`
	Position   float64         `json:"position"`
	TrackIndex int             `json:"track_index"`
	Timeline   json.RawMessage `json:"timeline"`
}

type AssetResponse struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Type       AssetType       `json:"type"`
	Source     AssetSource     `json:"source"`
	Filename   string          `json:"filename"`
	StorageURL string          `json:"storage_url"`
	MimeType   string          `json:"mime_type"`
	FileSize   int64           `json:"file_size"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AssetListResponse struct {
	Assets []AssetResponse `json:"assets"`
}

type SignedURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

type JobResponse struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Kind         JobKind    `json:"kind"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Prompt       string     `json:"prompt"`
	AssetID      string     `json:"asset_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ProfileResponse struct {
	UserID             string    `json:"user_id"`
	Email              string    `json:"email"`
	Tier               Tier      `json:"tier"`
	SubscriptionStatus string    `json:"subscription_status,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type UsageCounter struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

type UsageResponse struct {
	Tier              Tier                     `json:"tier"`
	Generations       map[JobKind]UsageCounter `json:"generations"`
	Projects          UsageCounter             `json:"projects"`
	StorageBytesUsed  int64                    `json:"storage_bytes_used"`
	StorageQuotaBytes int64                    `json:"storage_quota_bytes"`
	StoragePercent    int                      `json:"storage_percent"`
	Storage           string                   `json:"storage"`
	ResetAt           time.Time                `json:"reset_at"`
}

type BundleResponse struct {
	Project ProjectResponse `json:"project"`
	Assets  []AssetResponse `json:"assets"`
	Jobs    []JobResponse   `json:"jobs"`
}

type ExportResponse struct {
	Profile    ProfileResponse   `json:"profile"`
	Projects   []ProjectResponse `json:"projects"`
	Assets     []AssetResponse   `json:"assets"`
	ExportedAt time.Time         `json:"exported_at"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

func NewProjectResponse(p *Project, withTimeline bool) ProjectResponse {
	resp := ProjectResponse{
		ID:        p.ID.String(),
		Title:     p.Title,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if withTimeline {
		resp.Timeline = p.Timeline
	}
	return resp
}

func NewAssetResponse(a *Asset) AssetResponse {
	return AssetResponse{
		ID:         a.ID.String(),
		ProjectID:  a.ProjectID.String(),
		Type:       a.Type,
		Source:     a.Source,
		Filename:   a.Filename,
		StorageURL: a.StorageURL,
		MimeType:   a.MimeType,
		FileSize:   a.FileSize,
		Metadata:   a.Metadata,
		CreatedAt:  a.CreatedAt,
	}
}

func NewAssetResponses(assets []Asset) []AssetResponse {
	out := make([]AssetResponse, len(assets))
	for i := range assets {
		out[i] = NewAssetResponse(&assets[i])
	}
	return out
}

func NewJobResponse(j *ProcessingJob) JobResponse {
	resp := JobResponse{
		ID:        j.ID.String(),
		ProjectID: j.ProjectID.String(),
		Kind:      j.Kind,
		Status:    j.Status,
		Progress:  j.Progress,
		Prompt:    j.Prompt,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.AssetID.Valid {
		resp.AssetID = j.AssetID.UUID.String()
	}
	if j.ErrorMessage.Valid {
		resp.ErrorMessage = j.ErrorMessage.String
	}
	if j.CompletedAt.Valid {
		t := j.CompletedAt.Time
		resp.CompletedAt = &t
	}
	return resp
}

func NewJobResponses(jobs []ProcessingJob) []JobResponse {
	out := make([]JobResponse, len(jobs))
	for i := range jobs {
		out[i] = NewJobResponse(&jobs[i])
	}
	return out
}

func NewProfileResponse(p *UserProfile) ProfileResponse {
	resp := ProfileResponse{
		UserID:    p.UserID.String(),
		Email:     p.Email,
		Tier:      p.Tier,
		CreatedAt: p.CreatedAt,
	}
	if p.SubscriptionStatus.Valid {
		resp.SubscriptionStatus = p.SubscriptionStatus.String
	}
	return resp
}
