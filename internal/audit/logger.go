// Package audit records security and billing relevant actions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/metrics"
	"nonlinear-editor-backend/internal/models"
)

const (
	DefaultMaxAttempts = 3
	defaultBackoff     = 100 * time.Millisecond
	asyncTimeout       = 10 * time.Second
)

// Store persists audit rows.
type Store interface {
	InsertAuditLog(ctx context.Context, entry *models.AuditLogEntry) error
}

type Logger struct {
	store       Store
	log         *zap.Logger
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLogger(store Store, log *zap.Logger, maxAttempts int) *Logger {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{
		store:       store,
		log:         log,
		maxAttempts: maxAttempts,
		backoff:     defaultBackoff,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Log inserts entry, retrying retryable failures with exponential backoff.
func (l *Logger) Log(ctx context.Context, entry models.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Metadata) == 0 {
		entry.Metadata = json.RawMessage(`{}`)
	}
	fillFromContext(ctx, &entry)

	backoff := l.backoff
	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = l.store.InsertAuditLog(ctx, &entry)
		if err == nil {
			metrics.AuditWrites.WithLabelValues("ok").Inc()
			return nil
		}

		class := Classify(err)
		if !class.Retryable {
			metrics.AuditWrites.WithLabelValues("rejected").Inc()
			return fmt.Errorf("audit insert %s (code %s): %w", entry.Action, class.Code, err)
		}
		if attempt == l.maxAttempts {
			break
		}

		l.log.Debug("audit insert failed, retrying",
			zap.String("action", string(entry.Action)),
			zap.String("code", class.Code),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		if sleepErr := l.sleep(ctx, backoff); sleepErr != nil {
			metrics.AuditWrites.WithLabelValues("canceled").Inc()
			return fmt.Errorf("audit insert %s: %w", entry.Action, sleepErr)
		}
		backoff *= 2
	}

	metrics.AuditWrites.WithLabelValues("exhausted").Inc()
	return fmt.Errorf("audit insert %s failed after %d attempts: %w", entry.Action, l.maxAttempts, err)
}

// LogAsync writes entry in the background, detached from ctx cancellation.
// Failures are logged and otherwise dropped.
func (l *Logger) LogAsync(ctx context.Context, entry models.AuditLogEntry) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Warn("audit logger closed, dropping entry", zap.String("action", string(entry.Action)))
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
		defer cancel()
		if err := l.Log(ctx, entry); err != nil {
			l.log.Warn("audit log write failed",
				zap.String("action", string(entry.Action)),
				zap.String("resource_type", entry.ResourceType),
				zap.String("resource_id", entry.ResourceID),
				zap.Error(err),
			)
		}
	}()
}

// Close stops accepting async entries and waits for in-flight writes.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain: %w", ctx.Err())
	}
}

// Entry builds an entry for action on a resource.
func Entry(userID uuid.UUID, action models.AuditAction, resourceType, resourceID string, metadata map[string]any) models.AuditLogEntry {
	e := models.AuditLogEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if userID != uuid.Nil {
		e.UserID = uuid.NullUUID{UUID: userID, Valid: true}
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			e.Metadata = raw
		}
	}
	return e
}

// FromRequest fills the client address and user agent of e from c.
func FromRequest(c *gin.Context, e models.AuditLogEntry) models.AuditLogEntry {
	if c == nil || c.Request == nil {
		return e
	}
	e.IPAddress = c.ClientIP()
	e.UserAgent = truncate(c.Request.UserAgent(), 512)
	return e
}

// truncate cuts s to at most n bytes on a rune boundary. Invalid UTF-8 is
// replaced first since Postgres rejects it.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
