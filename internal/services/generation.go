package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nonlinear-editor-backend/internal/audit"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/generation"
	"nonlinear-editor-backend/internal/metrics"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/supabase"
	"nonlinear-editor-backend/internal/validation"
)

const (
	DefaultJobTimeout = 20 * time.Minute

	submitAttempts    = 3
	pollConcurrency   = 4
	DefaultPollBatch  = 50
	imageURLExpiresIn = 3600
)

type GenerationService struct {
	store      Store
	objects    ObjectStore
	gateway    GenerationGateway
	projects   *ProjectService
	usage      *UsageService
	cache      *cache.Cache
	audit      Auditor
	logger     *zap.Logger
	jobTimeout time.Duration
	now        func() time.Time
}

// NewGenerationService builds the service. A nil gateway disables generation
// and every call returns ErrUnavailable.
func NewGenerationService(store Store, objects ObjectStore, gateway GenerationGateway, projects *ProjectService, usage *UsageService, c *cache.Cache, auditor Auditor, logger *zap.Logger, jobTimeout time.Duration) *GenerationService {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &GenerationService{
		store:      store,
		objects:    objects,
		gateway:    gateway,
		projects:   projects,
		usage:      usage,
		cache:      c,
		audit:      auditor,
		logger:     logger,
		jobTimeout: jobTimeout,
		now:        time.Now,
	}
}

func (s *GenerationService) enabled() error {
	if s.gateway == nil {
		return fmt.Errorf("generation gateway is not configured: %w", models.ErrUnavailable)
	}
	return nil
}

// Start consumes one generation from the user's allowance, submits the
// request to the gateway and records a pending job. The allowance is refunded
// if the submission fails.
func (s *GenerationService) Start(ctx context.Context, userID, projectID uuid.UUID, kind models.JobKind, req models.GenerateRequest) (*models.ProcessingJob, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown generation kind %q", models.ErrInvalidInput, kind)
	}
	prompt, err := validation.Prompt(req.Prompt)
	if err != nil {
		return nil, err
	}
	if _, err := s.projects.Get(ctx, userID, projectID); err != nil {
		return nil, err
	}

	submit := generation.SubmitRequest{
		Kind:            kind,
		Prompt:          prompt,
		NegativePrompt:  req.NegativePrompt,
		Model:           req.Model,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
		Voice:           req.Voice,
		Seed:            req.Seed,
	}
	if req.ImageAssetID != "" {
		if kind != models.JobKindVideo {
			return nil, fmt.Errorf("%w: image_asset_id is only supported for video", models.ErrInvalidInput)
		}
		submit.ImageURL, err = s.seedImageURL(ctx, userID, req.ImageAssetID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.usage.ConsumeGeneration(ctx, userID, kind); err != nil {
		return nil, err
	}

	var op *generation.Operation
	err = s.gateway.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		op, err = s.gateway.Submit(ctx, submit)
		return err
	}, submitAttempts)
	if err != nil {
		s.usage.Refund(ctx, userID, kind)
		metrics.GenerationJobs.WithLabelValues(string(kind), "rejected").Inc()
		s.logger.Warn("generation submit failed",
			zap.String("user_id", userID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil, gatewayError(err)
	}

	params, err := json.Marshal(submit)
	if err != nil {
		return nil, err
	}
	job := &models.ProcessingJob{
		ID:            uuid.New(),
		UserID:        userID,
		ProjectID:     projectID,
		Kind:          kind,
		Status:        models.JobStatusPending,
		Provider:      op.Provider,
		OperationName: op.Name,
		Prompt:        prompt,
		Params:        params,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.cancelOperation(ctx, op.Name)
		s.usage.Refund(ctx, userID, kind)
		return nil, err
	}

	metrics.GenerationJobs.WithLabelValues(string(kind), "submitted").Inc()
	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditGenerationStart, "job", job.ID.String(), map[string]any{
		"project_id": projectID.String(),
		"kind":       string(kind),
		"operation":  op.Name,
	}))
	return job, nil
}

func (s *GenerationService) seedImageURL(ctx context.Context, userID uuid.UUID, rawID string) (string, error) {
	assetID, err := validation.ParseUUID("image_asset_id", rawID)
	if err != nil {
		return "", err
	}
	a, err := getOwnedAsset(ctx, s.store, userID, assetID)
	if err != nil {
		return "", err
	}
	if a.Type != models.AssetTypeImage {
		return "", fmt.Errorf("%w: asset %s is not an image", models.ErrInvalidInput, assetID)
	}
	return s.objects.SignedURL(ctx, a.StoragePath, imageURLExpiresIn)
}

// gatewayError maps a gateway failure onto the service's error kinds.
func gatewayError(err error) error {
	var apiErr *generation.APIError
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("generation gateway: %w", models.ErrUpstreamTimeout)
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: generation request rejected: %s", models.ErrInvalidInput, apiErr.Body)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("generation gateway: %w", models.ErrUpstreamTimeout)
	}
	return fmt.Errorf("generation gateway: %w: %v", models.ErrUnavailable, err)
}

func (s *GenerationService) cancelOperation(ctx context.Context, name string) {
	if err := s.gateway.Cancel(context.WithoutCancel(ctx), name); err != nil {
		s.logger.Warn("failed to cancel generation operation",
			zap.String("operation", name),
			zap.Error(err),
		)
	}
}

func (s *GenerationService) Get(ctx context.Context, userID, jobID uuid.UUID) (*models.ProcessingJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrForbidden)
	}
	return job, nil
}

// Poll syncs an active job with its operation and returns the job as stored
// afterwards. Terminal jobs are returned as is.
func (s *GenerationService) Poll(ctx context.Context, userID, jobID uuid.UUID) (*models.ProcessingJob, error) {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() || s.gateway == nil {
		return job, nil
	}
	if err := s.sync(ctx, job); err != nil {
		return nil, err
	}
	return s.store.GetJob(ctx, jobID)
}

func (s *GenerationService) sync(ctx context.Context, job *models.ProcessingJob) error {
	if s.now().Sub(job.CreatedAt) > s.jobTimeout {
		s.cancelOperation(ctx, job.OperationName)
		s.fail(ctx, job, fmt.Sprintf("generation timed out after %s", s.jobTimeout))
		return fmt.Errorf("job %s: %w", job.ID, models.ErrUpstreamTimeout)
	}

	op, err := s.gateway.GetOperation(ctx, job.OperationName)
	if err != nil {
		if generation.Retryable(err) {
			s.logger.Warn("generation status check failed, will retry",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			return s.store.TouchJob(ctx, job.ID)
		}
		var apiErr *generation.APIError
		if errors.As(err, &apiErr) {
			s.fail(ctx, job, fmt.Sprintf("generation status unavailable: status %d", apiErr.StatusCode))
			return nil
		}
		return err
	}

	switch {
	case !op.Done:
		progress := min(max(op.Progress, 0), 99)
		_, err := s.store.UpdateJobProgress(ctx, job.ID, progress)
		return err
	case op.Failed():
		s.fail(ctx, job, op.FailureMessage())
		return nil
	}
	return s.complete(ctx, job, op.Result)
}

// fail marks the job failed and refunds the generation. A job that already
// reached a terminal state is left alone.
func (s *GenerationService) fail(ctx context.Context, job *models.ProcessingJob, message string) {
	ok, err := s.store.FailJob(ctx, job.ID, message)
	if err != nil {
		s.logger.Error("failed to mark job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	s.usage.Refund(ctx, job.UserID, job.Kind)
	metrics.GenerationJobs.WithLabelValues(string(job.Kind), string(models.JobStatusFailed)).Inc()
	s.audit.LogAsync(ctx, audit.Entry(job.UserID, models.AuditGenerationFail, "job", job.ID.String(), map[string]any{
		"error": message,
	}))
}

// complete downloads the result, stores it as a generated asset and marks the
// job completed. If another caller finished the job first the new asset is
// removed again.
func (s *GenerationService) complete(ctx context.Context, job *models.ProcessingJob, result *generation.OperationResult) error {
	media, err := s.gateway.Download(ctx, result.URI)
	if err != nil {
		return fmt.Errorf("failed to download generation result: %w", err)
	}
	defer media.Body.Close()
	mimeType := result.MimeType
	if mimeType == "" {
		mimeType = media.ContentType
	}

	a := &models.Asset{
		ID:        uuid.New(),
		UserID:    job.UserID,
		ProjectID: job.ProjectID,
		Type:      job.Kind.AssetType(),
		Source:    models.AssetSourceGenerated,
		Filename:  fmt.Sprintf("%s-%s%s", job.Kind, job.ID.String()[:8], extensionFor(mimeType)),
		MimeType:  mimeType,
	}
	a.StoragePath = supabase.AssetPath(job.UserID, job.ProjectID, a.ID, a.Filename)
	a.StorageURL = s.objects.PublicURL(a.StoragePath)
	a.Metadata, err = json.Marshal(map[string]any{
		"job_id":    job.ID.String(),
		"prompt":    job.Prompt,
		"provider":  job.Provider,
		"operation": job.OperationName,
	})
	if err != nil {
		return err
	}

	body := &countingReader{r: media.Body}
	if err := s.objects.Upload(ctx, a.StoragePath, mimeType, body); err != nil {
		return err
	}
	a.FileSize = body.n
	if err := s.store.CreateAsset(ctx, a); err != nil {
		s.removeObject(ctx, a.StoragePath)
		return err
	}
	if err := s.usage.AddStorage(ctx, job.UserID, a.FileSize); err != nil {
		s.logger.Warn("failed to record generated storage", zap.String("asset_id", a.ID.String()), zap.Error(err))
	}

	ok, err := s.store.CompleteJob(ctx, job.ID, a.ID)
	if err != nil || !ok {
		s.discardAsset(ctx, a)
		return err
	}
	s.cache.Delete(cache.AssetListKey(job.UserID, job.ProjectID))

	metrics.GenerationJobs.WithLabelValues(string(job.Kind), string(models.JobStatusCompleted)).Inc()
	s.audit.LogAsync(ctx, audit.Entry(job.UserID, models.AuditGenerationComplete, "job", job.ID.String(), map[string]any{
		"asset_id": a.ID.String(),
		"size":     a.FileSize,
	}))
	return nil
}

func (s *GenerationService) discardAsset(ctx context.Context, a *models.Asset) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.DeleteAsset(ctx, a.ID); err != nil {
		s.logger.Warn("failed to discard generated asset", zap.String("asset_id", a.ID.String()), zap.Error(err))
	}
	s.removeObject(ctx, a.StoragePath)
	s.usage.ReleaseStorage(ctx, a.UserID, a.FileSize)
}

func (s *GenerationService) removeObject(ctx context.Context, storagePath string) {
	if err := s.objects.Delete(context.WithoutCancel(ctx), storagePath); err != nil {
		s.logger.Warn("failed to remove stored object", zap.String("path", storagePath), zap.Error(err))
	}
}

var preferredExtensions = map[string]string{
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/ogg":  ".ogg",
}

func extensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// Cancel stops an active job and refunds the generation.
func (s *GenerationService) Cancel(ctx context.Context, userID, jobID uuid.UUID) (*models.ProcessingJob, error) {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: job is already %s", models.ErrConflict, job.Status)
	}
	if s.gateway != nil {
		s.cancelOperation(ctx, job.OperationName)
	}

	ok, err := s.store.CancelJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job finished before it could be canceled", models.ErrConflict)
	}
	s.usage.Refund(ctx, userID, job.Kind)

	metrics.GenerationJobs.WithLabelValues(string(job.Kind), string(models.JobStatusCanceled)).Inc()
	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditGenerationCancel, "job", jobID.String(), nil))
	return s.store.GetJob(ctx, jobID)
}

func (s *GenerationService) List(ctx context.Context, userID, projectID uuid.UUID) ([]models.ProcessingJob, error) {
	if _, err := s.projects.Get(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListJobsByProject(ctx, projectID)
}

// PollOnce syncs up to batch active jobs, least recently updated first, and
// returns how many were examined.
func (s *GenerationService) PollOnce(ctx context.Context, batch int) (int, error) {
	if err := s.enabled(); err != nil {
		return 0, err
	}
	if batch <= 0 {
		batch = DefaultPollBatch
	}
	jobs, err := s.store.ListActiveJobs(ctx, batch)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(pollConcurrency)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			if err := s.sync(ctx, job); err != nil && !errors.Is(err, models.ErrUpstreamTimeout) {
				s.logger.Warn("failed to sync generation job",
					zap.String("job_id", job.ID.String()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs), nil
}

// RunPoller calls PollOnce every interval until ctx is done.
func (s *GenerationService) RunPoller(ctx context.Context, interval time.Duration, batch int) {
	if s.gateway == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("generation poller started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("generation poller stopped")
			return
		case <-ticker.C:
			n, err := s.PollOnce(ctx, batch)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("generation poll failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("generation poll", zap.Int("jobs", n))
			}
		}
	}
}

// ExpireStale fails active jobs that have not been updated for olderThan and
// refunds their generations.
func (s *GenerationService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := s.store.ListStaleJobs(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range jobs {
		job := &jobs[i]
		ok, err := s.store.FailJob(ctx, job.ID, fmt.Sprintf("no progress for %s", olderThan))
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		s.usage.Refund(ctx, job.UserID, job.Kind)
		metrics.GenerationJobs.WithLabelValues(string(job.Kind), string(models.JobStatusFailed)).Inc()
		expired++
	}
	return expired, nil
}
