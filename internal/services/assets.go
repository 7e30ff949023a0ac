package services

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nonlinear-editor-backend/internal/audit"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/supabase"
	"nonlinear-editor-backend/internal/validation"
)

const (
	// DefaultSignedURLExpiry is how long a signed asset URL stays valid, in seconds.
	DefaultSignedURLExpiry = 3600
	maxSignedURLExpiry     = 7 * 24 * 3600

	assetFetchConcurrency = 8
)

type AssetService struct {
	store    Store
	objects  ObjectStore
	projects *ProjectService
	usage    *UsageService
	cache    *cache.Cache
	audit    Auditor
	logger   *zap.Logger
}

func NewAssetService(store Store, objects ObjectStore, projects *ProjectService, usage *UsageService, c *cache.Cache, auditor Auditor, logger *zap.Logger) *AssetService {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &AssetService{
		store:    store,
		objects:  objects,
		projects: projects,
		usage:    usage,
		cache:    c,
		audit:    auditor,
		logger:   logger,
	}
}

// UploadInput describes a file to store. Body must yield exactly Size bytes.
type UploadInput struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
}

// Upload stores a file under the project and records it as an asset. The
// storage reservation and the object are rolled back when a later step fails.
func (s *AssetService) Upload(ctx context.Context, userID, projectID uuid.UUID, in UploadInput) (*models.Asset, error) {
	assetType, err := validation.AssetTypeFromMime(in.ContentType)
	if err != nil {
		return nil, err
	}
	if _, err := s.projects.Get(ctx, userID, projectID); err != nil {
		return nil, err
	}

	size := in.Size
	if err := s.usage.CheckUpload(ctx, userID, size); err != nil {
		return nil, err
	}

	filename := validation.SanitizeFilename(in.Filename)
	a := &models.Asset{
		ID:        uuid.New(),
		UserID:    userID,
		ProjectID: projectID,
		Type:      assetType,
		Source:    models.AssetSourceUpload,
		Filename:  filename,
		MimeType:  in.ContentType,
		FileSize:  size,
	}
	a.StoragePath = supabase.AssetPath(userID, projectID, a.ID, filename)
	a.StorageURL = s.objects.PublicURL(a.StoragePath)

	body := &countingReader{r: io.LimitReader(in.Body, size+1)}
	if err := s.objects.Upload(ctx, a.StoragePath, in.ContentType, body); err != nil {
		s.usage.ReleaseStorage(ctx, userID, size)
		return nil, err
	}
	if body.n != size {
		s.removeObject(ctx, a.StoragePath)
		s.usage.ReleaseStorage(ctx, userID, size)
		return nil, fmt.Errorf("%w: file is %d bytes, expected %d", models.ErrInvalidInput, body.n, size)
	}
	if err := s.store.CreateAsset(ctx, a); err != nil {
		s.removeObject(ctx, a.StoragePath)
		s.usage.ReleaseStorage(ctx, userID, size)
		return nil, err
	}
	s.cache.Delete(cache.AssetListKey(userID, projectID))

	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditAssetUpload, "asset", a.ID.String(), map[string]any{
		"project_id": projectID.String(),
		"type":       string(assetType),
		"size":       size,
	}))
	return a, nil
}

// countingReader records how many bytes were read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *AssetService) removeObject(ctx context.Context, storagePath string) {
	if err := s.objects.Delete(context.WithoutCancel(ctx), storagePath); err != nil {
		s.logger.Warn("failed to remove stored object",
			zap.String("path", storagePath),
			zap.Error(err),
		)
	}
}

func (s *AssetService) List(ctx context.Context, userID, projectID uuid.UUID) ([]models.Asset, error) {
	if _, err := s.projects.Get(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return cache.Load(ctx, s.cache, cache.AssetListKey(userID, projectID), cache.AssetListTTL, func(ctx context.Context) ([]models.Asset, error) {
		return s.store.ListAssetsByProject(ctx, projectID)
	})
}

func (s *AssetService) Get(ctx context.Context, userID, assetID uuid.UUID) (*models.Asset, error) {
	return getOwnedAsset(ctx, s.store, userID, assetID)
}

// SignedURL returns a time-limited download URL for the asset.
func (s *AssetService) SignedURL(ctx context.Context, userID, assetID uuid.UUID, expiresIn int) (string, int, error) {
	if expiresIn <= 0 {
		expiresIn = DefaultSignedURLExpiry
	}
	if expiresIn > maxSignedURLExpiry {
		return "", 0, fmt.Errorf("%w: expires_in exceeds %d seconds", models.ErrInvalidInput, maxSignedURLExpiry)
	}
	a, err := s.Get(ctx, userID, assetID)
	if err != nil {
		return "", 0, err
	}
	u, err := s.objects.SignedURL(ctx, a.StoragePath, expiresIn)
	if err != nil {
		return "", 0, err
	}
	return u, expiresIn, nil
}

// Delete removes the asset row, then its object. A failed object removal is
// logged and leaves an orphan rather than a dangling row.
func (s *AssetService) Delete(ctx context.Context, userID, assetID uuid.UUID) error {
	a, err := s.Get(ctx, userID, assetID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAsset(ctx, assetID); err != nil {
		return err
	}
	s.removeObject(ctx, a.StoragePath)
	s.usage.ReleaseStorage(ctx, userID, a.FileSize)
	s.cache.Delete(cache.AssetListKey(userID, a.ProjectID))

	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditAssetDelete, "asset", assetID.String(), map[string]any{
		"project_id": a.ProjectID.String(),
		"size":       a.FileSize,
	}))
	return nil
}

func getOwnedAsset(ctx context.Context, store AssetStore, userID, assetID uuid.UUID) (*models.Asset, error) {
	a, err := store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, fmt.Errorf("asset %s: %w", assetID, models.ErrForbidden)
	}
	return a, nil
}

// fetchAssets loads assets concurrently and returns them in input order.
func fetchAssets(ctx context.Context, store AssetStore, userID uuid.UUID, ids []uuid.UUID) ([]*models.Asset, error) {
	out := make([]*models.Asset, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(assetFetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			a, err := getOwnedAsset(gctx, store, userID, id)
			if err != nil {
				return err
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
