// Package ratelimit implements fixed-window request counting per identifier.
package ratelimit

import (
	"context"
	"time"
)

// Tier is a named limit: at most Limit hits per Window.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	TierAuthPayment      = Tier{Name: "auth_payment", Limit: 10, Window: time.Minute}
	TierResourceCreation = Tier{Name: "resource_creation", Limit: 10, Window: time.Minute}
	TierStatusRead       = Tier{Name: "status_read", Limit: 30, Window: time.Minute}
	TierGeneral          = Tier{Name: "general", Limit: 60, Window: time.Minute}
	// TierWebhook only guards against floods: providers deliver bursts from
	// a handful of addresses.
	TierWebhook = Tier{Name: "webhook", Limit: 1000, Window: time.Minute}
)

// Unlimited reports whether the tier never rejects.
func (t Tier) Unlimited() bool {
	return t.Limit <= 0 || t.Window <= 0
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, id string, tier Tier) (Result, error)
}

func unlimitedResult(now time.Time) Result {
	return Result{Allowed: true, ResetAt: now}
}

// resultFor builds the outcome of the count-th hit in a window ending at reset.
func resultFor(tier Tier, count int, reset, now time.Time) Result {
	res := Result{
		Allowed: count <= tier.Limit,
		Limit:   tier.Limit,
		ResetAt: reset,
	}
	if remaining := tier.Limit - count; remaining > 0 {
		res.Remaining = remaining
	}
	if !res.Allowed {
		res.RetryAfter = reset.Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res
}
