// Package postgres persists category snapshots into Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// Config controls the Postgres connection pool and table layout.
type Config struct {
	DSN             string
	Tables          storage.Tables
	WriteBatchSize  int
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// SnapshotStore upserts each snapshot into the categories, tracks and artists
// tables inside one transaction.
type SnapshotStore struct {
	pool      txBeginCloser
	tables    storage.Tables
	batchSize int
	logger    *zap.Logger
}

var _ crawler.Sink = (*SnapshotStore)(nil)

// NewSnapshotStore connects a pool using cfg.
func NewSnapshotStore(ctx context.Context, cfg Config, logger *zap.Logger) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	tables := cfg.Tables.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newSnapshotStore(pool, tables, cfg.WriteBatchSize, logger), nil
}

// NewSnapshotStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSnapshotStoreWithPool(pool txBeginCloser, tables storage.Tables, batchSize int, logger *zap.Logger) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables = tables.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	return newSnapshotStore(pool, tables, batchSize, logger), nil
}

func newSnapshotStore(pool txBeginCloser, tables storage.Tables, batchSize int, logger *zap.Logger) *SnapshotStore {
	if batchSize <= 0 {
		batchSize = storage.DefaultWriteBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{pool: pool, tables: tables, batchSize: batchSize, logger: logger}
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the snapshot tables when missing.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	category_id   text PRIMARY KEY,
	category_name text NOT NULL,
	track_count   integer NOT NULL,
	artist_count  integer NOT NULL
)`, s.tables.Categories),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	uri          text NOT NULL,
	date         date NOT NULL,
	category     text NOT NULL,
	playlist     text NOT NULL,
	id           text NOT NULL,
	artists_id   text[] NOT NULL,
	added_at     text,
	disc_number  integer,
	duration_ms  integer,
	episode      boolean,
	explicit     boolean,
	is_local     boolean,
	album_name   text,
	name         text,
	popularity   integer,
	track        boolean,
	track_number integer,
	type         text,
	PRIMARY KEY (uri, date, category, playlist)
)`, s.tables.Tracks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	uri        text NOT NULL,
	date       date NOT NULL,
	id         text NOT NULL,
	ingested   boolean NOT NULL DEFAULT false,
	name       text,
	popularity integer,
	type       text,
	followers  integer,
	genres     text[] NOT NULL,
	PRIMARY KEY (uri, date)
)`, s.tables.Artists),
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Save writes the snapshot rows in chunks of the configured batch size. The
// whole snapshot commits or nothing does.
func (s *SnapshotStore) Save(ctx context.Context, snap crawler.CategorySnapshot) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	tracks, err := storage.TrackRows(snap, textArray)
	if err != nil {
		return err
	}
	artists, err := storage.ArtistRows(snap, textArray)
	if err != nil {
		return err
	}
	catTable, trackTable, artistTable := s.tables.Layout()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback snapshot tx", zap.Error(rbErr))
			}
		}
	}()

	if err = s.upsert(ctx, tx, catTable, [][]any{storage.CategoryRow(snap)}); err != nil {
		return err
	}
	if err = s.upsert(ctx, tx, trackTable, tracks); err != nil {
		return err
	}
	if err = s.upsert(ctx, tx, artistTable, artists); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	s.logger.Debug("snapshot persisted",
		zap.String("category_id", snap.CategoryID),
		zap.Int("track_rows", len(tracks)),
		zap.Int("artist_rows", len(artists)))
	return nil
}

func (s *SnapshotStore) upsert(ctx context.Context, tx pgx.Tx, table storage.Table, rows [][]any) error {
	for _, chunk := range storage.Chunks(rows, s.batchSize) {
		query, args := storage.UpsertSQL(table, chunk, storage.Dollar)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", table.Name, err)
		}
	}
	return nil
}

// textArray hands string lists to pgx as text[]; nil becomes an empty array.
func textArray(list []string) (any, error) {
	if list == nil {
		return []string{}, nil
	}
	return list, nil
}
