// Package postgres provides the Postgres-backed store gateway.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultRawTable      = "profile_raw"
	DefaultFeaturesTable = "profile_features"
)

// RecordStoreConfig controls the Postgres connection pool and table names.
type RecordStoreConfig struct {
	DSN             string
	RawTable        string
	FeaturesTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// RecordStore persists raw payloads and derived features keyed by identity.
type RecordStore struct {
	pool    pgxPool
	queries queries
}

type queries struct {
	lookup       string
	lookupLocked string
	touch        string
	insertRaw    string
	updateRaw    string
	upsertFeats  string
	schema       []string
}

// NewRecordStore connects to Postgres using cfg.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	q, err := buildQueries(cfg.RawTable, cfg.FeaturesTable)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, queries: q}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool pgxPool, rawTable, featuresTable string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	q, err := buildQueries(rawTable, featuresTable)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, queries: q}, nil
}

func buildQueries(rawTable, featuresTable string) (queries, error) {
	if rawTable == "" {
		rawTable = DefaultRawTable
	}
	if featuresTable == "" {
		featuresTable = DefaultFeaturesTable
	}
	for _, table := range []string{rawTable, featuresTable} {
		if !validTableName.MatchString(table) {
			return queries{}, fmt.Errorf("invalid table name %q", table)
		}
	}
	return queries{
		lookup:       fmt.Sprintf(`SELECT content_hash FROM %s WHERE username = $1`, rawTable),
		lookupLocked: fmt.Sprintf(`SELECT content_hash FROM %s WHERE username = $1 FOR UPDATE`, rawTable),
		touch:        fmt.Sprintf(`UPDATE %s SET last_seen = now() WHERE username = $1`, rawTable),
		insertRaw: fmt.Sprintf(`
INSERT INTO %s (username, payload, content_hash, last_seen)
VALUES ($1, $2, $3, now())
ON CONFLICT (username) DO NOTHING`, rawTable),
		updateRaw: fmt.Sprintf(`
UPDATE %s SET payload = $2, content_hash = $3, last_seen = now()
WHERE username = $1`, rawTable),
		upsertFeats: fmt.Sprintf(`
INSERT INTO %s (username, followers, has_link, recent_activity_at, features, version_hash, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (username) DO UPDATE SET
	followers = EXCLUDED.followers,
	has_link = EXCLUDED.has_link,
	recent_activity_at = EXCLUDED.recent_activity_at,
	features = EXCLUDED.features,
	version_hash = EXCLUDED.version_hash,
	updated_at = now()`, featuresTable),
		schema: []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	username TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	content_hash TEXT NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
)`, rawTable),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	username TEXT PRIMARY KEY,
	followers INTEGER NOT NULL DEFAULT 0,
	has_link BOOLEAN NOT NULL DEFAULT false,
	recent_activity_at TIMESTAMPTZ,
	features JSONB NOT NULL,
	version_hash TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, featuresTable),
		},
	}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.queries.schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// LookupFingerprint returns the stored content hash for identity.
func (s *RecordStore) LookupFingerprint(ctx context.Context, identity string) (crawler.Fingerprint, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, s.queries.lookup, identity).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return crawler.Fingerprint(hash), true, nil
}

// Touch bumps last_seen without rewriting the payload.
func (s *RecordStore) Touch(ctx context.Context, identity string) error {
	if _, err := s.pool.Exec(ctx, s.queries.touch, identity); err != nil {
		return fmt.Errorf("touch record: %w", err)
	}
	return nil
}

// Upsert writes the payload and features in one transaction. The raw row is
// locked while the stored hash is compared, so concurrent writers for the
// same identity serialize; when req.Expected is set a writer that lost the
// race gets crawler.ErrConflict.
func (s *RecordStore) Upsert(ctx context.Context, req crawler.UpsertRequest) (changed bool, err error) {
	identity := req.Record.Identity
	payload, err := json.Marshal(req.Record)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	features, err := json.Marshal(req.Features)
	if err != nil {
		return false, fmt.Errorf("marshal features: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var stored string
	found := true
	if scanErr := tx.QueryRow(ctx, s.queries.lookupLocked, identity).Scan(&stored); scanErr != nil {
		if !errors.Is(scanErr, pgx.ErrNoRows) {
			return false, fmt.Errorf("lock record: %w", scanErr)
		}
		found = false
	}

	if found && crawler.Fingerprint(stored) == req.Fingerprint {
		if _, err = tx.Exec(ctx, s.queries.touch, identity); err != nil {
			return false, fmt.Errorf("touch record: %w", err)
		}
		if err = tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit touch: %w", err)
		}
		return false, nil
	}
	if err = crawler.CheckExpected(req.Expected, crawler.Fingerprint(stored), found); err != nil {
		return false, err
	}

	if err = s.writeRaw(ctx, tx, req, payload, found); err != nil {
		return false, err
	}
	if _, err = tx.Exec(ctx, s.queries.upsertFeats,
		identity,
		req.Record.Followers,
		req.Features.HasLink,
		req.Features.RecentActivityAt,
		features,
		string(req.Fingerprint),
	); err != nil {
		return false, fmt.Errorf("upsert features: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return true, nil
}

func (s *RecordStore) writeRaw(ctx context.Context, tx pgx.Tx, req crawler.UpsertRequest, payload []byte, found bool) error {
	identity := req.Record.Identity
	hash := string(req.Fingerprint)
	if !found {
		tag, err := tx.Exec(ctx, s.queries.insertRaw, identity, payload, hash)
		if err != nil {
			return fmt.Errorf("insert raw: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		// Another writer inserted the row after our lookup.
		if req.Expected != nil {
			return crawler.ErrConflict
		}
	}
	if _, err := tx.Exec(ctx, s.queries.updateRaw, identity, payload, hash); err != nil {
		return fmt.Errorf("update raw: %w", err)
	}
	return nil
}
