package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nonlinear-editor-backend/internal/audit"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/supabase"
	"nonlinear-editor-backend/internal/timeline"
	"nonlinear-editor-backend/internal/validation"
)

type ProjectService struct {
	store   Store
	objects ObjectStore
	usage   *UsageService
	cache   *cache.Cache
	audit   Auditor
	logger  *zap.Logger
}

func NewProjectService(store Store, objects ObjectStore, usage *UsageService, c *cache.Cache, auditor Auditor, logger *zap.Logger) *ProjectService {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &ProjectService{
		store:   store,
		objects: objects,
		usage:   usage,
		cache:   c,
		audit:   auditor,
		logger:  logger,
	}
}

func (s *ProjectService) invalidate(userID, projectID uuid.UUID) {
	s.cache.Delete(cache.ProjectKey(userID, projectID))
	s.cache.Delete(cache.ProjectListKey(userID))
}

func (s *ProjectService) Create(ctx context.Context, userID uuid.UUID, title string) (*models.Project, error) {
	title, err := validation.Title(title)
	if err != nil {
		return nil, err
	}
	limits, _, err := s.usage.Limits(ctx, userID)
	if err != nil {
		return nil, err
	}
	empty, err := timeline.Empty().Marshal()
	if err != nil {
		return nil, err
	}

	p := &models.Project{
		ID:       uuid.New(),
		UserID:   userID,
		Title:    title,
		Timeline: empty,
	}
	if err := s.store.CreateProject(ctx, p, limits.MaxProjects); err != nil {
		return nil, err
	}
	s.cache.Delete(cache.ProjectListKey(userID))

	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditProjectCreate, "project", p.ID.String(), map[string]any{"title": title}))
	return p, nil
}

func (s *ProjectService) List(ctx context.Context, userID uuid.UUID) ([]models.Project, error) {
	return cache.Load(ctx, s.cache, cache.ProjectListKey(userID), cache.ProjectListTTL, func(ctx context.Context) ([]models.Project, error) {
		return s.store.ListProjects(ctx, userID, false)
	})
}

// Get returns the project if userID owns it. Other users get ErrForbidden.
func (s *ProjectService) Get(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error) {
	p, err := cache.Load(ctx, s.cache, cache.ProjectKey(userID, projectID), cache.ProjectTTL, func(ctx context.Context) (*models.Project, error) {
		p, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if !p.OwnedBy(userID) {
			return nil, fmt.Errorf("project %s: %w", projectID, models.ErrForbidden)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) Rename(ctx context.Context, userID, projectID uuid.UUID, title string) (*models.Project, error) {
	title, err := validation.Title(title)
	if err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	updatedAt, err := s.store.UpdateProjectTitle(ctx, projectID, title)
	if err != nil {
		return nil, err
	}
	s.invalidate(userID, projectID)

	renamed := *p
	renamed.Title = title
	renamed.UpdatedAt = updatedAt
	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditProjectUpdate, "project", projectID.String(), map[string]any{"title": title}))
	return &renamed, nil
}

func (s *ProjectService) GetTimeline(ctx context.Context, userID, projectID uuid.UUID) (*timeline.Timeline, *models.Project, error) {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, nil, err
	}
	t, err := timeline.Parse(p.Timeline)
	if err != nil {
		return nil, nil, err
	}
	return t, p, nil
}

// SaveTimeline replaces the project's timeline. The document is normalized
// and rejected when it is invalid, when clips overlap on a track, or when it
// references assets the user does not own.
func (s *ProjectService) SaveTimeline(ctx context.Context, userID, projectID uuid.UUID, raw json.RawMessage) (*timeline.Timeline, *models.Project, error) {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, nil, err
	}
	t, err := timeline.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	timeline.Normalize(t)
	if err := timeline.Validate(t); err != nil {
		return nil, nil, err
	}
	if pairs := timeline.Overlapping(t); len(pairs) > 0 {
		return nil, nil, fmt.Errorf("%w: clips %q and %q overlap on the same track",
			models.ErrInvalidInput, pairs[0][0], pairs[0][1])
	}
	if err := s.checkClipAssets(ctx, userID, t); err != nil {
		return nil, nil, err
	}

	return s.persistTimeline(ctx, p, t, time.Time{})
}

func (s *ProjectService) checkClipAssets(ctx context.Context, userID uuid.UUID, t *timeline.Timeline) error {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, c := range t.Clips {
		if c.AssetID == "" {
			continue
		}
		id, err := validation.ParseUUID("assetId", c.AssetID)
		if err != nil {
			return err
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	_, err := fetchAssets(ctx, s.store, userID, ids)
	return err
}

// persistTimeline stores t. A non-zero ifUpdatedAt makes the write
// conditional on the row being unchanged since it was read.
func (s *ProjectService) persistTimeline(ctx context.Context, p *models.Project, t *timeline.Timeline, ifUpdatedAt time.Time) (*timeline.Timeline, *models.Project, error) {
	raw, err := t.Marshal()
	if err != nil {
		return nil, nil, err
	}
	updatedAt, err := s.store.UpdateProjectTimeline(ctx, p.ID, raw, ifUpdatedAt)
	s.invalidate(p.UserID, p.ID)
	if err != nil {
		return nil, nil, err
	}

	saved := *p
	saved.Timeline = raw
	saved.UpdatedAt = updatedAt
	return t, &saved, nil
}

// editTimeline applies edit to the stored timeline. The project is read
// past the cache and written back only if nobody saved it in between.
func (s *ProjectService) editTimeline(ctx context.Context, userID, projectID uuid.UUID, edit func(t *timeline.Timeline) error) (*timeline.Timeline, *models.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if !p.OwnedBy(userID) {
		return nil, nil, fmt.Errorf("project %s: %w", projectID, models.ErrForbidden)
	}
	t, err := timeline.Parse(p.Timeline)
	if err != nil {
		return nil, nil, err
	}
	if err := edit(t); err != nil {
		return nil, nil, err
	}
	timeline.Normalize(t)
	return s.persistTimeline(ctx, p, t, p.UpdatedAt)
}

// ClipEdit is the outcome of a single-clip timeline edit.
type ClipEdit struct {
	Clip     timeline.Clip
	Timeline *timeline.Timeline
	Project  *models.Project
}

func clipEdit(t *timeline.Timeline, p *models.Project, clipID string) (*ClipEdit, error) {
	c, ok := t.Clip(clipID)
	if !ok {
		return nil, fmt.Errorf("clip %q: %w", clipID, models.ErrNotFound)
	}
	return &ClipEdit{Clip: *c, Timeline: t, Project: p}, nil
}

func snapOptions(disabled bool, playhead *float64) timeline.SnapOptions {
	opts := timeline.SnapOptions{Disabled: disabled}
	if playhead != nil {
		opts.Extra = append(opts.Extra, *playhead)
	}
	return opts
}

// MoveClip places a clip at the safe position nearest the requested one.
// The clip stays on its track unless req names another.
func (s *ProjectService) MoveClip(ctx context.Context, userID, projectID uuid.UUID, clipID string, req models.MoveClipRequest) (*ClipEdit, error) {
	t, p, err := s.editTimeline(ctx, userID, projectID, func(t *timeline.Timeline) error {
		clip, ok := t.Clip(clipID)
		if !ok {
			return fmt.Errorf("clip %q: %w", clipID, models.ErrNotFound)
		}
		track := clip.TrackIndex
		if req.TrackIndex != nil {
			track = *req.TrackIndex
		}
		_, err := timeline.MoveClip(t, clipID, req.Position, track, snapOptions(req.DisableSnap, req.Playhead))
		return err
	})
	if err != nil {
		return nil, err
	}
	return clipEdit(t, p, clipID)
}

// AddClip places a new clip for one of the user's assets at the free
// position nearest the requested one.
func (s *ProjectService) AddClip(ctx context.Context, userID, projectID uuid.UUID, req models.AddClipRequest) (*ClipEdit, error) {
	assetID, err := validation.ParseUUID("asset_id", req.AssetID)
	if err != nil {
		return nil, err
	}
	assets, err := fetchAssets(ctx, s.store, userID, []uuid.UUID{assetID})
	if err != nil {
		return nil, err
	}
	asset := assets[0]
	if asset.ProjectID != projectID {
		return nil, fmt.Errorf("%w: asset belongs to another project", models.ErrInvalidInput)
	}

	var clipID string
	t, p, err := s.editTimeline(ctx, userID, projectID, func(t *timeline.Timeline) error {
		added, err := timeline.AddClip(t, timeline.Clip{
			AssetID:          asset.ID.String(),
			Mime:             asset.MimeType,
			Start:            req.Start,
			End:              req.End,
			TimelinePosition: req.Position,
			TrackIndex:       req.TrackIndex,
		}, snapOptions(req.DisableSnap, req.Playhead))
		if err != nil {
			return err
		}
		clipID = added.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditProjectUpdate, "project", projectID.String(), map[string]any{
		"clip_added": clipID,
		"asset_id":   asset.ID.String(),
	}))
	return clipEdit(t, p, clipID)
}

func (s *ProjectService) RemoveClip(ctx context.Context, userID, projectID uuid.UUID, clipID string) (*timeline.Timeline, *models.Project, error) {
	return s.editTimeline(ctx, userID, projectID, func(t *timeline.Timeline) error {
		return timeline.RemoveClip(t, clipID)
	})
}

// SplitClip cuts a clip at timeline time at and returns the right-hand piece.
func (s *ProjectService) SplitClip(ctx context.Context, userID, projectID uuid.UUID, clipID string, at float64) (*ClipEdit, error) {
	var rightID string
	t, p, err := s.editTimeline(ctx, userID, projectID, func(t *timeline.Timeline) error {
		right, err := timeline.SplitClip(t, clipID, at)
		if err != nil {
			return err
		}
		rightID = right.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clipEdit(t, p, rightID)
}

// Delete removes the project, its stored objects and, by cascade, its assets
// and jobs. Storage failures are logged and do not block the deletion.
func (s *ProjectService) Delete(ctx context.Context, userID, projectID uuid.UUID) error {
	if _, err := s.Get(ctx, userID, projectID); err != nil {
		return err
	}
	storedBytes, err := s.store.SumAssetBytes(ctx, projectID)
	if err != nil {
		return err
	}

	removed, err := s.objects.DeletePrefix(ctx, supabase.ProjectPrefix(userID, projectID))
	if err != nil {
		s.logger.Warn("failed to delete project objects",
			zap.String("project_id", projectID.String()),
			zap.Int("removed", removed),
			zap.Error(err),
		)
	}

	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.usage.ReleaseStorage(ctx, userID, storedBytes)
	s.invalidate(userID, projectID)
	s.cache.Delete(cache.AssetListKey(userID, projectID))

	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditProjectDelete, "project", projectID.String(), map[string]any{
		"objects_removed": removed,
		"bytes_released":  storedBytes,
	}))
	return nil
}

// Bundle loads a project with its assets and jobs, fetched in parallel.
func (s *ProjectService) Bundle(ctx context.Context, userID, projectID uuid.UUID) (*models.BundleResponse, error) {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	var (
		assets []models.Asset
		jobs   []models.ProcessingJob
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		assets, err = s.store.ListAssetsByProject(gctx, projectID)
		return err
	})
	g.Go(func() error {
		var err error
		jobs, err = s.store.ListJobsByProject(gctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.BundleResponse{
		Project: models.NewProjectResponse(p, true),
		Assets:  models.NewAssetResponses(assets),
		Jobs:    models.NewJobResponses(jobs),
	}, nil
}
