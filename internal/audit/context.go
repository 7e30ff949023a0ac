package audit

import (
	"context"

	"nonlinear-editor-backend/internal/models"
)

type requestInfoKey struct{}

type requestInfo struct {
	ip        string
	userAgent string
}

// WithRequestInfo attaches the client address and user agent to ctx so
// entries logged further down the call chain carry them.
func WithRequestInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{ip: ip, userAgent: truncate(userAgent, 512)})
}

func fillFromContext(ctx context.Context, e *models.AuditLogEntry) {
	info, ok := ctx.Value(requestInfoKey{}).(requestInfo)
	if !ok {
		return
	}
	if e.IPAddress == "" {
		e.IPAddress = info.ip
	}
	if e.UserAgent == "" {
		e.UserAgent = info.userAgent
	}
}
