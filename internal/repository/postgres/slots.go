package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations for the slots table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	getSQL = `SELECT value FROM slots
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`
	setSQL = `INSERT INTO slots (key, value, updated_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at`
	deleteSQL = `DELETE FROM slots WHERE key = $1`
	purgeSQL  = `DELETE FROM slots WHERE expires_at IS NOT NULL AND expires_at <= $1`
	pingSQL   = `SELECT 1`
)

// SlotStore keeps slots in the slots table.
type SlotStore struct {
	db      database.DBTX
	ttl     time.Duration
	tracer  database.QueryTracer
	nowFunc func() time.Time
}

// NewSlotStore creates a Postgres-backed store. A zero ttl keeps slots
// forever.
func NewSlotStore(db database.DBTX, ttl time.Duration, tracer database.QueryTracer) *SlotStore {
	tracer.System = "postgresql"
	return &SlotStore{db: db, ttl: ttl, tracer: tracer, nowFunc: time.Now}
}

func (s *SlotStore) Get(ctx context.Context, key string) (value string, err error) {
	ctx, end := s.tracer.Trace(ctx, "GetSlot", getSQL)
	defer func() { end(err) }()

	err = s.db.QueryRow(ctx, getSQL, key, s.nowFunc().UTC()).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NotFound("slot", key)
		}
		return "", fmt.Errorf("query slot %s: %w", key, err)
	}
	return value, nil
}

func (s *SlotStore) Set(ctx context.Context, key, value string) (err error) {
	ctx, end := s.tracer.Trace(ctx, "SetSlot", setSQL)
	defer func() { end(err) }()

	now := s.nowFunc().UTC()
	var expiresAt *time.Time
	if s.ttl > 0 {
		t := now.Add(s.ttl)
		expiresAt = &t
	}
	if _, err = s.db.Exec(ctx, setSQL, key, value, now, expiresAt); err != nil {
		return fmt.Errorf("upsert slot %s: %w", key, err)
	}
	return nil
}

func (s *SlotStore) Delete(ctx context.Context, key string) (err error) {
	ctx, end := s.tracer.Trace(ctx, "DeleteSlot", deleteSQL)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, deleteSQL, key); err != nil {
		return fmt.Errorf("delete slot %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes expired slots and returns how many were removed.
func (s *SlotStore) PurgeExpired(ctx context.Context) (n int64, err error) {
	ctx, end := s.tracer.Trace(ctx, "PurgeExpiredSlots", purgeSQL)
	defer func() { end(err) }()

	tag, err := s.db.Exec(ctx, purgeSQL, s.nowFunc().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *SlotStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, pingSQL).Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
