package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/billing"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/generation"
	"nonlinear-editor-backend/internal/models"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory Store with the same conditional semantics as the
// SQL implementation.
type memStore struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.UserProfile
	projects map[uuid.UUID]*models.Project
	assets   map[uuid.UUID]*models.Asset
	jobs     map[uuid.UUID]*models.ProcessingJob

	deletedAccounts []uuid.UUID
	failCreateAsset error
	// beforeTimelineWrite runs under the lock ahead of a timeline update.
	beforeTimelineWrite func(p *models.Project)
}

func newMemStore() *memStore {
	return &memStore{
		profiles: make(map[uuid.UUID]*models.UserProfile),
		projects: make(map[uuid.UUID]*models.Project),
		assets:   make(map[uuid.UUID]*models.Asset),
		jobs:     make(map[uuid.UUID]*models.ProcessingJob),
	}
}

func (m *memStore) addProfile(userID uuid.UUID, tier models.Tier) *models.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.UserProfile{
		UserID:       userID,
		Email:        "user@example.com",
		Tier:         tier,
		UsageResetAt: models.NextUsageReset(testNow),
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	m.profiles[userID] = p
	return p
}

func (m *memStore) profile(userID uuid.UUID) models.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.profiles[userID]
}

func (m *memStore) EnsureProfile(_ context.Context, userID uuid.UUID, email string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = &models.UserProfile{
			UserID:       userID,
			Email:        email,
			Tier:         models.TierFree,
			UsageResetAt: models.NextUsageReset(testNow),
			CreatedAt:    testNow,
		}
		m.profiles[userID] = p
	} else if email != "" {
		p.Email = email
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetProfile(_ context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetProfileByStripeCustomer(_ context.Context, customerID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.StripeCustomerID.Valid && p.StripeCustomerID.String == customerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("customer %s: %w", customerID, models.ErrNotFound)
}

func (m *memStore) SetTier(_ context.Context, userID uuid.UUID, tier models.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return models.ErrNotFound
	}
	p.Tier = tier
	return nil
}

func (m *memStore) UpdateSubscription(_ context.Context, userID uuid.UUID, customerID, subscriptionID, status string, tier models.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return models.ErrNotFound
	}
	p.StripeCustomerID = sql.NullString{String: customerID, Valid: customerID != ""}
	p.StripeSubscriptionID = sql.NullString{String: subscriptionID, Valid: subscriptionID != ""}
	p.SubscriptionStatus = sql.NullString{String: status, Valid: status != ""}
	p.Tier = tier
	return nil
}

func counter(p *models.UserProfile, kind models.JobKind) *int {
	switch kind {
	case models.JobKindVideo:
		return &p.VideoGenerationsUsed
	case models.JobKindImage:
		return &p.ImageGenerationsUsed
	}
	return &p.AudioGenerationsUsed
}

func (m *memStore) ConsumeGeneration(_ context.Context, userID uuid.UUID, kind models.JobKind, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return 0, models.ErrNotFound
	}
	c := counter(p, kind)
	if limit >= 0 && *c >= limit {
		return 0, fmt.Errorf("%s generations: %w", kind, models.ErrQuotaExceeded)
	}
	*c++
	return *c, nil
}

func (m *memStore) RefundGeneration(_ context.Context, userID uuid.UUID, kind models.JobKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := counter(m.profiles[userID], kind)
	*c = max(*c-1, 0)
	return nil
}

func (m *memStore) ReserveStorage(_ context.Context, userID uuid.UUID, bytes, quota int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	if quota >= 0 && p.StorageBytesUsed+bytes > quota {
		return models.ErrQuotaExceeded
	}
	p.StorageBytesUsed += bytes
	return nil
}

func (m *memStore) AddStorageBytes(_ context.Context, userID uuid.UUID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	p.StorageBytesUsed = max(p.StorageBytesUsed+delta, 0)
	return nil
}

func (m *memStore) ResetUsageIfDue(_ context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	if now.Before(p.UsageResetAt) {
		return false, nil
	}
	p.VideoGenerationsUsed, p.ImageGenerationsUsed, p.AudioGenerationsUsed = 0, 0, 0
	p.UsageResetAt = models.NextUsageReset(now)
	return true, nil
}

func (m *memStore) DeleteAccount(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		if j.UserID == userID {
			delete(m.jobs, id)
		}
	}
	for id, a := range m.assets {
		if a.UserID == userID {
			delete(m.assets, id)
		}
	}
	for id, p := range m.projects {
		if p.UserID == userID {
			delete(m.projects, id)
		}
	}
	delete(m.profiles, userID)
	m.deletedAccounts = append(m.deletedAccounts, userID)
	return nil
}

func (m *memStore) CreateProject(_ context.Context, p *models.Project, maxProjects int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxProjects >= 0 && m.countProjects(p.UserID) >= maxProjects {
		return fmt.Errorf("project limit of %d: %w", maxProjects, models.ErrQuotaExceeded)
	}
	p.CreatedAt, p.UpdatedAt = testNow, testNow
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memStore) countProjects(userID uuid.UUID) int {
	n := 0
	for _, p := range m.projects {
		if p.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memStore) GetProject(_ context.Context, projectID uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListProjects(_ context.Context, userID uuid.UUID, withTimeline bool) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Project{}
	for _, p := range m.projects {
		if p.UserID == userID {
			cp := *p
			if !withTimeline {
				cp.Timeline = nil
			}
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *memStore) CountProjects(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countProjects(userID), nil
}

func (m *memStore) UpdateProjectTitle(_ context.Context, projectID uuid.UUID, title string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return time.Time{}, models.ErrNotFound
	}
	p.Title = title
	p.UpdatedAt = testNow.Add(time.Minute)
	return p.UpdatedAt, nil
}

func (m *memStore) UpdateProjectTimeline(_ context.Context, projectID uuid.UUID, timeline json.RawMessage, ifUpdatedAt time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return time.Time{}, models.ErrNotFound
	}
	if m.beforeTimelineWrite != nil {
		m.beforeTimelineWrite(p)
	}
	if !ifUpdatedAt.IsZero() && !p.UpdatedAt.Equal(ifUpdatedAt) {
		return time.Time{}, fmt.Errorf("project %s: %w", projectID, models.ErrConflict)
	}
	p.Timeline = timeline
	p.UpdatedAt = p.UpdatedAt.Add(time.Second)
	return p.UpdatedAt, nil
}

func (m *memStore) DeleteProject(_ context.Context, projectID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; !ok {
		return models.ErrNotFound
	}
	delete(m.projects, projectID)
	for id, a := range m.assets {
		if a.ProjectID == projectID {
			delete(m.assets, id)
		}
	}
	for id, j := range m.jobs {
		if j.ProjectID == projectID {
			delete(m.jobs, id)
		}
	}
	return nil
}

func (m *memStore) CreateAsset(_ context.Context, a *models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateAsset != nil {
		return m.failCreateAsset
	}
	a.CreatedAt = testNow
	cp := *a
	m.assets[a.ID] = &cp
	return nil
}

func (m *memStore) GetAsset(_ context.Context, assetID uuid.UUID) (*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, models.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) listAssets(match func(*models.Asset) bool) []models.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Asset{}
	for _, a := range m.assets {
		if match(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

func (m *memStore) ListAssetsByProject(_ context.Context, projectID uuid.UUID) ([]models.Asset, error) {
	return m.listAssets(func(a *models.Asset) bool { return a.ProjectID == projectID }), nil
}

func (m *memStore) ListAssetsByUser(_ context.Context, userID uuid.UUID) ([]models.Asset, error) {
	return m.listAssets(func(a *models.Asset) bool { return a.UserID == userID }), nil
}

func (m *memStore) SumAssetBytes(_ context.Context, projectID uuid.UUID) (int64, error) {
	var total int64
	for _, a := range m.listAssets(func(a *models.Asset) bool { return a.ProjectID == projectID }) {
		total += a.FileSize
	}
	return total, nil
}

func (m *memStore) DeleteAsset(_ context.Context, assetID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[assetID]; !ok {
		return models.ErrNotFound
	}
	delete(m.assets, assetID)
	return nil
}

func (m *memStore) CreateJob(_ context.Context, j *models.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.CreatedAt, j.UpdatedAt = testNow, testNow
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, jobID uuid.UUID) (*models.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) listJobs(match func(*models.ProcessingJob) bool) []models.ProcessingJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ProcessingJob{}
	for _, j := range m.jobs {
		if match(j) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

func (m *memStore) ListJobsByProject(_ context.Context, projectID uuid.UUID) ([]models.ProcessingJob, error) {
	return m.listJobs(func(j *models.ProcessingJob) bool { return j.ProjectID == projectID }), nil
}

func (m *memStore) ListActiveJobs(_ context.Context, limit int) ([]models.ProcessingJob, error) {
	out := m.listJobs(func(j *models.ProcessingJob) bool { return !j.Status.Terminal() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListStaleJobs(_ context.Context, cutoff time.Time) ([]models.ProcessingJob, error) {
	return m.listJobs(func(j *models.ProcessingJob) bool {
		return !j.Status.Terminal() && j.UpdatedAt.Before(cutoff)
	}), nil
}

// transition applies fn to an active job and reports whether it was active.
func (m *memStore) transition(jobID uuid.UUID, fn func(*models.ProcessingJob)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	fn(j)
	j.UpdatedAt = testNow.Add(time.Second)
	return true, nil
}

func (m *memStore) UpdateJobProgress(_ context.Context, jobID uuid.UUID, progress int) (bool, error) {
	return m.transition(jobID, func(j *models.ProcessingJob) {
		j.Status = models.JobStatusProcessing
		j.Progress = progress
	})
}

func (m *memStore) CompleteJob(_ context.Context, jobID, assetID uuid.UUID) (bool, error) {
	return m.transition(jobID, func(j *models.ProcessingJob) {
		j.Status = models.JobStatusCompleted
		j.Progress = 100
		j.AssetID = uuid.NullUUID{UUID: assetID, Valid: true}
		j.CompletedAt = sql.NullTime{Time: testNow, Valid: true}
	})
}

func (m *memStore) FailJob(_ context.Context, jobID uuid.UUID, message string) (bool, error) {
	return m.transition(jobID, func(j *models.ProcessingJob) {
		j.Status = models.JobStatusFailed
		j.ErrorMessage = sql.NullString{String: message, Valid: true}
		j.CompletedAt = sql.NullTime{Time: testNow, Valid: true}
	})
}

func (m *memStore) CancelJob(_ context.Context, jobID uuid.UUID) (bool, error) {
	return m.transition(jobID, func(j *models.ProcessingJob) {
		j.Status = models.JobStatusCanceled
		j.CompletedAt = sql.NullTime{Time: testNow, Valid: true}
	})
}

func (m *memStore) TouchJob(_ context.Context, jobID uuid.UUID) error {
	_, err := m.transition(jobID, func(*models.ProcessingJob) {})
	return err
}

type memObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleteErr error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (o *memObjects) has(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[path]
	return ok
}

func (o *memObjects) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

func (o *memObjects) Upload(_ context.Context, storagePath, _ string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.uploadErr != nil {
		return o.uploadErr
	}
	o.objects[storagePath] = data
	return nil
}

func (o *memObjects) Delete(_ context.Context, storagePaths ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleteErr != nil {
		return o.deleteErr
	}
	for _, p := range storagePaths {
		delete(o.objects, p)
	}
	return nil
}

func (o *memObjects) DeletePrefix(_ context.Context, prefix string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleteErr != nil {
		return 0, o.deleteErr
	}
	n := 0
	for p := range o.objects {
		if strings.HasPrefix(p, prefix) {
			delete(o.objects, p)
			n++
		}
	}
	return n, nil
}

func (o *memObjects) SignedURL(_ context.Context, storagePath string, expiresIn int) (string, error) {
	return fmt.Sprintf("https://storage.test/sign/%s?expires=%d", storagePath, expiresIn), nil
}

func (o *memObjects) PublicURL(storagePath string) string {
	return "https://storage.test/public/" + storagePath
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
}

func (a *recordingAuditor) LogAsync(_ context.Context, e models.AuditLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAuditor) actions() []models.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.AuditAction, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

func (a *recordingAuditor) last() models.AuditLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

type fakeGateway struct {
	mu         sync.Mutex
	submitErrs []error
	submits    []generation.SubmitRequest
	ops        map[string]*generation.Operation
	opErr      error
	canceled   []string
	downloads  map[string][]byte
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		ops:       make(map[string]*generation.Operation),
		downloads: make(map[string][]byte),
	}
}

func (g *fakeGateway) Submit(_ context.Context, req generation.SubmitRequest) (*generation.Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, req)
	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	op := &generation.Operation{Name: fmt.Sprintf("operations/op-%d", len(g.submits)), Provider: "test"}
	g.ops[op.Name] = op
	return op, nil
}

func (g *fakeGateway) setOperation(op *generation.Operation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ops[op.Name] = op
}

func (g *fakeGateway) GetOperation(_ context.Context, name string) (*generation.Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.opErr != nil {
		return nil, g.opErr
	}
	op, ok := g.ops[name]
	if !ok {
		return nil, &generation.APIError{Op: "get operation", StatusCode: 404, Body: "not found"}
	}
	cp := *op
	return &cp, nil
}

func (g *fakeGateway) Cancel(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, name)
	return nil
}

func (g *fakeGateway) Download(_ context.Context, uri string) (*generation.Media, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.downloads[uri]
	if !ok {
		return nil, &generation.APIError{Op: "download", StatusCode: 404}
	}
	return &generation.Media{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: "application/octet-stream",
		Size:        int64(len(data)),
	}, nil
}

// RetryWithBackoff retries without sleeping.
func (g *fakeGateway) RetryWithBackoff(ctx context.Context, fn func(ctx context.Context) error, maxAttempts int) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = fn(ctx); err == nil || !generation.Retryable(err) {
			return err
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxAttempts, err)
}

type fakeBilling struct {
	event       *billing.Event
	parseErr    error
	checkouts   []billing.CheckoutParams
	canceled    []string
	checkoutErr error
}

func (b *fakeBilling) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error) {
	if b.checkoutErr != nil {
		return nil, b.checkoutErr
	}
	b.checkouts = append(b.checkouts, p)
	return &billing.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.test/cs_test_1"}, nil
}

func (b *fakeBilling) CancelSubscription(_ context.Context, subscriptionID string) error {
	b.canceled = append(b.canceled, subscriptionID)
	return nil
}

func (b *fakeBilling) ParseWebhook(_ []byte, _ string) (*billing.Event, error) {
	if b.parseErr != nil {
		return nil, b.parseErr
	}
	return b.event, nil
}

// harness wires every service over the in-memory fakes.
type harness struct {
	store      *memStore
	objects    *memObjects
	gateway    *fakeGateway
	billingGW  *fakeBilling
	auditor    *recordingAuditor
	cache      *cache.Cache
	usage      *UsageService
	projects   *ProjectService
	assets     *AssetService
	generation *GenerationService
	account    *AccountService
	billing    *BillingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := cache.New(cache.Options{Name: "test", MaxEntries: 100})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	h := &harness{
		store:     newMemStore(),
		objects:   newMemObjects(),
		gateway:   newFakeGateway(),
		billingGW: &fakeBilling{},
		auditor:   &recordingAuditor{},
		cache:     c,
	}
	logger := zap.NewNop()
	h.usage = NewUsageService(h.store, h.store, c, logger)
	h.usage.now = func() time.Time { return testNow }
	h.projects = NewProjectService(h.store, h.objects, h.usage, c, h.auditor, logger)
	h.assets = NewAssetService(h.store, h.objects, h.projects, h.usage, c, h.auditor, logger)
	h.generation = NewGenerationService(h.store, h.objects, h.gateway, h.projects, h.usage, c, h.auditor, logger, time.Hour)
	h.generation.now = func() time.Time { return testNow }
	h.account = NewAccountService(h.store, h.objects, h.billingGW, h.usage, c, h.auditor, logger)
	h.account.now = func() time.Time { return testNow }
	h.billing = NewBillingService(h.store, h.billingGW, h.usage, h.auditor, logger)
	return h
}

func (h *harness) newUser(tier models.Tier) uuid.UUID {
	id := uuid.New()
	h.store.addProfile(id, tier)
	return id
}

func (h *harness) newProject(t *testing.T, userID uuid.UUID) *models.Project {
	t.Helper()
	p, err := h.projects.Create(context.Background(), userID, "Project "+uuid.NewString()[:6])
	require.NoError(t, err)
	return p
}
