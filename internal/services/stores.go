package services

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/billing"
	"nonlinear-editor-backend/internal/generation"
	"nonlinear-editor-backend/internal/models"
)

// The store interfaces are satisfied by *supabase.DatabaseClient.

type ProfileStore interface {
	EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.UserProfile, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	GetProfileByStripeCustomer(ctx context.Context, customerID string) (*models.UserProfile, error)
	SetTier(ctx context.Context, userID uuid.UUID, tier models.Tier) error
	UpdateSubscription(ctx context.Context, userID uuid.UUID, customerID, subscriptionID, status string, tier models.Tier) error
	ConsumeGeneration(ctx context.Context, userID uuid.UUID, kind models.JobKind, limit int) (int, error)
	RefundGeneration(ctx context.Context, userID uuid.UUID, kind models.JobKind) error
	ReserveStorage(ctx context.Context, userID uuid.UUID, bytes, quota int64) error
	AddStorageBytes(ctx context.Context, userID uuid.UUID, delta int64) error
	ResetUsageIfDue(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error)
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}

type ProjectStore interface {
	CreateProject(ctx context.Context, p *models.Project, maxProjects int) error
	GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, userID uuid.UUID, withTimeline bool) ([]models.Project, error)
	CountProjects(ctx context.Context, userID uuid.UUID) (int, error)
	UpdateProjectTitle(ctx context.Context, projectID uuid.UUID, title string) (time.Time, error)
	UpdateProjectTimeline(ctx context.Context, projectID uuid.UUID, timeline json.RawMessage, ifUpdatedAt time.Time) (time.Time, error)
	DeleteProject(ctx context.Context, projectID uuid.UUID) error
}

type AssetStore interface {
	CreateAsset(ctx context.Context, a *models.Asset) error
	GetAsset(ctx context.Context, assetID uuid.UUID) (*models.Asset, error)
	ListAssetsByProject(ctx context.Context, projectID uuid.UUID) ([]models.Asset, error)
	ListAssetsByUser(ctx context.Context, userID uuid.UUID) ([]models.Asset, error)
	SumAssetBytes(ctx context.Context, projectID uuid.UUID) (int64, error)
	DeleteAsset(ctx context.Context, assetID uuid.UUID) error
}

type JobStore interface {
	CreateJob(ctx context.Context, j *models.ProcessingJob) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.ProcessingJob, error)
	ListJobsByProject(ctx context.Context, projectID uuid.UUID) ([]models.ProcessingJob, error)
	ListActiveJobs(ctx context.Context, limit int) ([]models.ProcessingJob, error)
	ListStaleJobs(ctx context.Context, cutoff time.Time) ([]models.ProcessingJob, error)
	UpdateJobProgress(ctx context.Context, jobID uuid.UUID, progress int) (bool, error)
	CompleteJob(ctx context.Context, jobID, assetID uuid.UUID) (bool, error)
	FailJob(ctx context.Context, jobID uuid.UUID, message string) (bool, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) (bool, error)
	TouchJob(ctx context.Context, jobID uuid.UUID) error
}

// Store is everything the services persist.
type Store interface {
	ProfileStore
	ProjectStore
	AssetStore
	JobStore
}

// ObjectStore is satisfied by *supabase.StorageClient.
type ObjectStore interface {
	Upload(ctx context.Context, storagePath, contentType string, body io.Reader) error
	Delete(ctx context.Context, storagePaths ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	SignedURL(ctx context.Context, storagePath string, expiresInSeconds int) (string, error)
	PublicURL(storagePath string) string
}

// Auditor is satisfied by *audit.Logger.
type Auditor interface {
	LogAsync(ctx context.Context, entry models.AuditLogEntry)
}

// GenerationGateway is satisfied by *generation.Client.
type GenerationGateway interface {
	Submit(ctx context.Context, req generation.SubmitRequest) (*generation.Operation, error)
	GetOperation(ctx context.Context, name string) (*generation.Operation, error)
	Cancel(ctx context.Context, name string) error
	Download(ctx context.Context, uri string) (*generation.Media, error)
	RetryWithBackoff(ctx context.Context, fn func(ctx context.Context) error, maxAttempts int) error
}

// BillingGateway is satisfied by *billing.StripeGateway.
type BillingGateway interface {
	CreateCheckoutSession(ctx context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	ParseWebhook(payload []byte, signature string) (*billing.Event, error)
}

type nopAuditor struct{}

func (nopAuditor) LogAsync(context.Context, models.AuditLogEntry) {}
