package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/audit"
	"nonlinear-editor-backend/internal/config"
	"nonlinear-editor-backend/internal/logging"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/supabase"
)

// profileBackend is served by the database when DATABASE_URL is set and by
// PostgREST otherwise.
type profileBackend interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	SetTier(ctx context.Context, userID uuid.UUID, tier models.Tier) error
	audit.Store
}

type commandContext struct {
	configOnce sync.Once
	config     *config.Config
	logger     *zap.Logger
	configErr  error

	db   *supabase.DatabaseClient
	rest *supabase.Client
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		logger, err := logging.New(cfg.Environment, "warn")
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) database(ctx context.Context) (*supabase.DatabaseClient, error) {
	if c.db != nil {
		return c.db, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for this command")
	}
	db, err := supabase.NewDatabaseClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c.db = db
	return db, nil
}

func (c *commandContext) profiles(ctx context.Context) (profileBackend, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL != "" {
		db, err := c.database(ctx)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	if cfg.SupabaseServiceRoleKey == "" {
		return nil, errors.New("set DATABASE_URL or SUPABASE_SERVICE_ROLE_KEY")
	}
	if c.rest == nil {
		rest, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
		if err != nil {
			return nil, err
		}
		c.rest = rest
	}
	return c.rest, nil
}

func (c *commandContext) auditLogger(store audit.Store) *audit.Logger {
	return audit.NewLogger(store, c.logger, c.config.AuditMaxAttempts)
}

func (c *commandContext) close() error {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	if c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	c.db = nil
	return nil
}
