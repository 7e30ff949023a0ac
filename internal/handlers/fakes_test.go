package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/middleware"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/services"
)

// projectStore keeps profiles and projects in memory. Methods it does not
// override panic through the nil embedded Store.
type projectStore struct {
	services.Store

	mu       sync.Mutex
	profiles map[uuid.UUID]*models.UserProfile
	projects map[uuid.UUID]*models.Project
}

func newProjectStore() *projectStore {
	return &projectStore{
		profiles: make(map[uuid.UUID]*models.UserProfile),
		projects: make(map[uuid.UUID]*models.Project),
	}
}

func (s *projectStore) EnsureProfile(_ context.Context, userID uuid.UUID, email string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = &models.UserProfile{
			UserID:       userID,
			Email:        email,
			Tier:         models.TierFree,
			UsageResetAt: models.NextUsageReset(time.Now()),
			CreatedAt:    time.Now(),
		}
		s.profiles[userID] = p
	}
	cp := *p
	return &cp, nil
}

func (s *projectStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	return s.EnsureProfile(ctx, userID, "")
}

func (s *projectStore) ResetUsageIfDue(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func (s *projectStore) CreateProject(_ context.Context, p *models.Project, maxProjects int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, existing := range s.projects {
		if existing.UserID == p.UserID {
			n++
		}
	}
	if maxProjects >= 0 && n >= maxProjects {
		return fmt.Errorf("project limit of %d: %w", maxProjects, models.ErrQuotaExceeded)
	}
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *projectStore) GetProject(_ context.Context, projectID uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *projectStore) ListProjects(_ context.Context, userID uuid.UUID, _ bool) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *projectStore) UpdateProjectTitle(_ context.Context, projectID uuid.UUID, title string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return time.Time{}, models.ErrNotFound
	}
	p.Title = title
	p.UpdatedAt = time.Now()
	return p.UpdatedAt, nil
}

func (s *projectStore) UpdateProjectTimeline(_ context.Context, projectID uuid.UUID, raw json.RawMessage, ifUpdatedAt time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return time.Time{}, models.ErrNotFound
	}
	if !ifUpdatedAt.IsZero() && !p.UpdatedAt.Equal(ifUpdatedAt) {
		return time.Time{}, models.ErrConflict
	}
	p.Timeline = append(json.RawMessage(nil), raw...)
	p.UpdatedAt = p.UpdatedAt.Add(time.Millisecond)
	return p.UpdatedAt, nil
}

type testServer struct {
	router *gin.Engine
	store  *projectStore
	cache  *cache.Cache
	assets *AssetsHandler
}

// newTestServer mounts the handlers the way cmd/server does, with the
// authenticated user taken from the X-Test-User header.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c, err := cache.New(cache.Options{Name: "handlers-test", MaxEntries: 100})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	logger := zap.NewNop()
	store := newProjectStore()
	usage := services.NewUsageService(store, store, c, logger)
	projects := services.NewProjectService(store, nil, usage, c, nil, logger)
	assets := services.NewAssetService(store, nil, projects, usage, c, nil, logger)
	generation := services.NewGenerationService(store, nil, nil, projects, usage, c, nil, logger, time.Minute)
	account := services.NewAccountService(store, nil, nil, usage, c, nil, logger)
	billing := services.NewBillingService(store, nil, usage, nil, logger)

	router := gin.New()
	api := router.Group("/api/v1")
	api.POST("/webhooks/stripe", NewBillingHandler(billing).StripeWebhook)

	authed := api.Group("", func(c *gin.Context) {
		if raw := c.GetHeader("X-Test-User"); raw != "" {
			c.Set(middleware.UserIDKey, uuid.MustParse(raw))
			c.Set(middleware.EmailKey, "user@example.com")
		}
		c.Next()
	})

	ph := NewProjectsHandler(projects)
	authed.POST("/projects", ph.CreateProject)
	authed.GET("/projects", ph.ListProjects)
	authed.GET("/projects/:project_id", ph.GetProject)
	authed.PATCH("/projects/:project_id", ph.UpdateProject)
	authed.GET("/projects/:project_id/timeline", ph.GetTimeline)
	authed.PUT("/projects/:project_id/timeline", ph.SaveTimeline)
	authed.POST("/projects/:project_id/timeline/clips", ph.AddClip)
	authed.DELETE("/projects/:project_id/timeline/clips/:clip_id", ph.RemoveClip)
	authed.POST("/projects/:project_id/timeline/clips/:clip_id/move", ph.MoveClip)
	authed.POST("/projects/:project_id/timeline/clips/:clip_id/split", ph.SplitClip)

	ah := NewAssetsHandler(assets, 1<<20)
	authed.POST("/projects/:project_id/assets", ah.UploadAsset)
	authed.GET("/assets/:asset_id/url", ah.GetAssetURL)

	gh := NewGenerationHandler(generation)
	authed.POST("/projects/:project_id/generate/:kind", gh.Generate)

	acc := NewAccountHandler(account)
	authed.GET("/account", acc.GetAccount)

	bh := NewBillingHandler(billing)
	authed.POST("/billing/checkout", bh.Checkout)

	adm := NewAdminHandler(account, c, logger)
	authed.GET("/admin/cache/stats", adm.CacheStats)
	authed.DELETE("/admin/cache", adm.ClearCache)

	return &testServer{router: router, store: store, cache: c, assets: ah}
}
