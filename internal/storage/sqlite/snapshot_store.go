// Package sqlite persists category snapshots into a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// Config locates the database file and names its tables.
type Config struct {
	Path           string         `mapstructure:"path"`
	Tables         storage.Tables `mapstructure:"tables"`
	WriteBatchSize int            `mapstructure:"write_batch_size"`
}

// SnapshotStore writes snapshots with the same layout as the Postgres store.
// List columns hold JSON arrays.
type SnapshotStore struct {
	db        *sql.DB
	tables    storage.Tables
	batchSize int
	logger    *zap.Logger
}

var _ crawler.Sink = (*SnapshotStore)(nil)

// Open creates the database file and its tables when missing.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*SnapshotStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	tables := cfg.Tables.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	batch := cfg.WriteBatchSize
	if batch <= 0 {
		batch = storage.DefaultWriteBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SnapshotStore{db: db, tables: tables, batchSize: batch, logger: logger}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func (s *SnapshotStore) createTables(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		category_id   TEXT PRIMARY KEY,
		category_name TEXT NOT NULL,
		track_count   INTEGER NOT NULL,
		artist_count  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS %[2]s (
		uri          TEXT NOT NULL,
		date         TEXT NOT NULL,
		category     TEXT NOT NULL,
		playlist     TEXT NOT NULL,
		id           TEXT NOT NULL,
		artists_id   TEXT NOT NULL,
		added_at     TEXT,
		disc_number  INTEGER,
		duration_ms  INTEGER,
		episode      BOOLEAN,
		explicit     BOOLEAN,
		is_local     BOOLEAN,
		album_name   TEXT,
		name         TEXT,
		popularity   INTEGER,
		track        BOOLEAN,
		track_number INTEGER,
		type         TEXT,
		PRIMARY KEY (uri, date, category, playlist)
	);

	CREATE INDEX IF NOT EXISTS idx_%[2]s_category ON %[2]s(category);

	CREATE TABLE IF NOT EXISTS %[3]s (
		uri        TEXT NOT NULL,
		date       TEXT NOT NULL,
		id         TEXT NOT NULL,
		ingested   BOOLEAN NOT NULL DEFAULT 0,
		name       TEXT,
		popularity INTEGER,
		type       TEXT,
		followers  INTEGER,
		genres     TEXT NOT NULL,
		PRIMARY KEY (uri, date)
	);`, s.tables.Categories, s.tables.Tracks, s.tables.Artists)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Save upserts the snapshot in a single transaction.
func (s *SnapshotStore) Save(ctx context.Context, snap crawler.CategorySnapshot) error {
	tracks, err := storage.TrackRows(snap, jsonList)
	if err != nil {
		return err
	}
	artists, err := storage.ArtistRows(snap, jsonList)
	if err != nil {
		return err
	}
	catTable, trackTable, artistTable := s.tables.Layout()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	for _, w := range []struct {
		table storage.Table
		rows  [][]any
	}{
		{catTable, [][]any{storage.CategoryRow(snap)}},
		{trackTable, tracks},
		{artistTable, artists},
	} {
		for _, chunk := range storage.Chunks(w.rows, s.batchSize) {
			query, args := storage.UpsertSQL(w.table, chunk, storage.Question)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("upsert %s: %w", w.table.Name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	s.logger.Debug("snapshot persisted",
		zap.String("category_id", snap.CategoryID),
		zap.Int("track_rows", len(tracks)),
		zap.Int("artist_rows", len(artists)))
	return nil
}

func jsonList(list []string) (any, error) {
	if list == nil {
		list = []string{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}
