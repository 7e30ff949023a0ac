package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditAuthLogin           AuditAction = "auth.login"
	AuditAccountDelete       AuditAction = "account.delete"
	AuditAccountExport       AuditAction = "account.export"
	AuditProjectCreate       AuditAction = "project.create"
	AuditProjectUpdate       AuditAction = "project.update"
	AuditProjectDelete       AuditAction = "project.delete"
	AuditAssetUpload         AuditAction = "asset.upload"
	AuditAssetDelete         AuditAction = "asset.delete"
	AuditGenerationStart     AuditAction = "generation.start"
	AuditGenerationComplete  AuditAction = "generation.complete"
	AuditGenerationFail      AuditAction = "generation.fail"
	AuditGenerationCancel    AuditAction = "generation.cancel"
	AuditBillingCheckout     AuditAction = "billing.checkout"
	AuditSubscriptionChanged AuditAction = "billing.subscription_changed"
	AuditAdminTierChange     AuditAction = "admin.tier_change"
	AuditRateLimitExceeded   AuditAction = "security.rate_limit_exceeded"
)

type AuditLogEntry struct {
	ID           uuid.UUID
	UserID       uuid.NullUUID
	Action       AuditAction
	ResourceType string
	ResourceID   string
	IPAddress    string
	UserAgent    string
	Metadata     json.RawMessage
	CreatedAt    time.Time
}
