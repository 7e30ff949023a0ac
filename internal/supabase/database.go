package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"nonlinear-editor-backend/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// NewDatabaseClientFromDB wraps an already opened pool.
func NewDatabaseClientFromDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (d *DatabaseClient) DB() *sql.DB {
	return d.db
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (d *DatabaseClient) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// wrapErr maps sql.ErrNoRows to models.ErrNotFound.
func wrapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// expectOne returns ErrNotFound when an UPDATE or DELETE touched no rows.
func expectOne(op string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// jsonArg passes JSON as text; lib/pq would otherwise send []byte as bytea.
func jsonArg(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
