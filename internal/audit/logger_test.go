package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nonlinear-editor-backend/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	entries []models.AuditLogEntry
	block   chan struct{}
}

func (f *fakeStore) InsertAuditLog(ctx context.Context, entry *models.AuditLogEntry) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestLogger(store Store, attempts int) (*Logger, *[]time.Duration) {
	l := NewLogger(store, nil, attempts)
	var slept []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return l, &slept
}

func TestLog_FillsDefaults(t *testing.T) {
	store := &fakeStore{}
	l, _ := newTestLogger(store, 3)

	err := l.Log(context.Background(), models.AuditLogEntry{Action: models.AuditProjectCreate})
	require.NoError(t, err)
	require.Len(t, store.entries, 1)

	got := store.entries[0]
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.JSONEq(t, `{}`, string(got.Metadata))
}

func TestLog_RetriesRetryableWithBackoff(t *testing.T) {
	store := &fakeStore{errs: []error{
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "08006"},
		nil,
	}}
	l, slept := newTestLogger(store, 3)

	err := l.Log(context.Background(), models.AuditLogEntry{Action: models.AuditAssetUpload})
	require.NoError(t, err)
	assert.Equal(t, 3, store.Calls())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestLog_StopsOnNonRetryable(t *testing.T) {
	store := &fakeStore{errs: []error{&pq.Error{Code: "23505"}}}
	l, slept := newTestLogger(store, 5)

	err := l.Log(context.Background(), models.AuditLogEntry{Action: models.AuditAssetUpload})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "23505")
	assert.Equal(t, 1, store.Calls())
	assert.Empty(t, *slept)

	var pqErr *pq.Error
	assert.True(t, errors.As(err, &pqErr))
}

func TestLog_GivesUpAfterMaxAttempts(t *testing.T) {
	retryable := &pq.Error{Code: "57P01"}
	store := &fakeStore{errs: []error{retryable, retryable, retryable, retryable}}
	l, slept := newTestLogger(store, 3)

	err := l.Log(context.Background(), models.AuditLogEntry{Action: models.AuditAssetDelete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, store.Calls())
	assert.Len(t, *slept, 2)
}

func TestLog_StopsWhenContextDone(t *testing.T) {
	store := &fakeStore{errs: []error{&pq.Error{Code: "40001"}, &pq.Error{Code: "40001"}}}
	l, _ := newTestLogger(store, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Log(ctx, models.AuditLogEntry{Action: models.AuditAssetDelete})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.Calls())
}

func TestLogAsync_SurvivesRequestCancellation(t *testing.T) {
	store := &fakeStore{block: make(chan struct{})}
	l, _ := newTestLogger(store, 3)

	ctx, cancel := context.WithCancel(context.Background())
	l.LogAsync(ctx, models.AuditLogEntry{Action: models.AuditProjectDelete})
	cancel()
	close(store.block)

	require.NoError(t, l.Close(context.Background()))
	assert.Equal(t, 1, store.Calls())
	assert.Len(t, store.entries, 1)
}

func TestClose_DropsLateEntries(t *testing.T) {
	store := &fakeStore{}
	l, _ := newTestLogger(store, 3)
	require.NoError(t, l.Close(context.Background()))

	l.LogAsync(context.Background(), models.AuditLogEntry{Action: models.AuditProjectDelete})
	assert.Equal(t, 0, store.Calls())
}

func TestClose_TimesOut(t *testing.T) {
	store := &fakeStore{block: make(chan struct{})}
	defer close(store.block)
	l, _ := newTestLogger(store, 1)

	l.LogAsync(context.Background(), models.AuditLogEntry{Action: models.AuditProjectDelete})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Close(ctx), context.DeadlineExceeded)
}

func TestEntryAndFromRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()

	e := Entry(userID, models.AuditProjectUpdate, "project", "p-1", map[string]any{"title": "New"})
	assert.True(t, e.UserID.Valid)
	assert.Equal(t, userID, e.UserID.UUID)
	assert.JSONEq(t, `{"title":"New"}`, string(e.Metadata))

	anon := Entry(uuid.Nil, models.AuditRateLimitExceeded, "route", "/x", nil)
	assert.False(t, anon.UserID.Valid)
	assert.Nil(t, anon.Metadata)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.RemoteAddr = "203.0.113.7:5000"
	c.Request.Header.Set("User-Agent", "editor-test/1.0")

	e = FromRequest(c, e)
	assert.Equal(t, "203.0.113.7", e.IPAddress)
	assert.Equal(t, "editor-test/1.0", e.UserAgent)
}

func TestLog_FillsRequestInfoFromContext(t *testing.T) {
	store := &fakeStore{}
	l, _ := newTestLogger(store, 1)

	ctx := WithRequestInfo(context.Background(), "198.51.100.4", "cli/2.0")
	require.NoError(t, l.Log(ctx, models.AuditLogEntry{Action: models.AuditAuthLogin}))
	require.NoError(t, l.Log(ctx, models.AuditLogEntry{Action: models.AuditAuthLogin, IPAddress: "192.0.2.1"}))

	require.Len(t, store.entries, 2)
	assert.Equal(t, "198.51.100.4", store.entries[0].IPAddress)
	assert.Equal(t, "cli/2.0", store.entries[0].UserAgent)
	assert.Equal(t, "192.0.2.1", store.entries[1].IPAddress)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "curl/8.0", 512, "curl/8.0"},
		{"ascii", "abcdef", 3, "abc"},
		{"splits before multibyte rune", "ab€", 4, "ab"},
		{"exact rune boundary", "ab€", 5, "ab€"},
		{"invalid input", "ok\xff", 512, "ok�"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.n))
		})
	}

	got := truncate(strings.Repeat("€", 200), 512)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, 510)
}
