package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierAdmin   Tier = "admin"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierAdmin:
		return true
	}
	return false
}

// Unlimited marks a limit that is never enforced.
const Unlimited = -1

type TierLimits struct {
	MaxProjects              int
	MaxUploadBytes           int64
	StorageQuotaBytes        int64
	VideoGenerationsPerMonth int
	ImageGenerationsPerMonth int
	AudioGenerationsPerMonth int
}

var TierConfigs = map[Tier]TierLimits{
	TierFree: {
		MaxProjects:              3,
		MaxUploadBytes:           100 << 20,
		StorageQuotaBytes:        1 << 30,
		VideoGenerationsPerMonth: 2,
		ImageGenerationsPerMonth: 20,
		AudioGenerationsPerMonth: 10,
	},
	TierPremium: {
		MaxProjects:              Unlimited,
		MaxUploadBytes:           2 << 30,
		StorageQuotaBytes:        50 << 30,
		VideoGenerationsPerMonth: 50,
		ImageGenerationsPerMonth: 500,
		AudioGenerationsPerMonth: 200,
	},
	TierAdmin: {
		MaxProjects:              Unlimited,
		MaxUploadBytes:           5 << 30,
		StorageQuotaBytes:        Unlimited,
		VideoGenerationsPerMonth: Unlimited,
		ImageGenerationsPerMonth: Unlimited,
		AudioGenerationsPerMonth: Unlimited,
	},
}

// MaxUploadBytes is the largest single upload any tier allows.
func MaxUploadBytes() int64 {
	var largest int64
	for _, l := range TierConfigs {
		largest = max(largest, l.MaxUploadBytes)
	}
	return largest
}

// LimitsFor falls back to the free tier for unknown values.
func LimitsFor(t Tier) TierLimits {
	if l, ok := TierConfigs[t]; ok {
		return l
	}
	return TierConfigs[TierFree]
}

// GenerationLimit returns the monthly allowance for a job kind.
func (l TierLimits) GenerationLimit(kind JobKind) int {
	switch kind {
	case JobKindVideo:
		return l.VideoGenerationsPerMonth
	case JobKindImage:
		return l.ImageGenerationsPerMonth
	case JobKindAudio:
		return l.AudioGenerationsPerMonth
	}
	return 0
}

type UserProfile struct {
	UserID               uuid.UUID
	Email                string
	Tier                 Tier
	StripeCustomerID     sql.NullString
	StripeSubscriptionID sql.NullString
	SubscriptionStatus   sql.NullString
	VideoGenerationsUsed int
	ImageGenerationsUsed int
	AudioGenerationsUsed int
	StorageBytesUsed     int64
	UsageResetAt         time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// GenerationsUsed returns the counter that tracks the given job kind.
func (p *UserProfile) GenerationsUsed(kind JobKind) int {
	switch kind {
	case JobKindVideo:
		return p.VideoGenerationsUsed
	case JobKindImage:
		return p.ImageGenerationsUsed
	case JobKindAudio:
		return p.AudioGenerationsUsed
	}
	return 0
}

// NextUsageReset returns the first instant of the month after t, in UTC.
func NextUsageReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
