package crawler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// PlaylistCrawler lists the playlists featured in a category.
type PlaylistCrawler struct {
	skipTracker
	getter Getter
	cfg    Config
}

// NewPlaylistCrawler wires a crawler onto getter.
func NewPlaylistCrawler(getter Getter, cfg Config, logger *zap.Logger) *PlaylistCrawler {
	return &PlaylistCrawler{
		skipTracker: skipTracker{logger: nopIfNil(logger)},
		getter:      getter,
		cfg:         cfg.WithDefaults(),
	}
}

// ListPlaylists walks the category's playlist listing. Null entries and
// playlists without a tracks endpoint are skipped.
func (c *PlaylistCrawler) ListPlaylists(ctx context.Context, category Category) ([]Playlist, error) {
	decode := func(i int, raw json.RawMessage) (Playlist, error) {
		return decodePlaylist(i, raw, category.ID)
	}
	var playlists []Playlist
	fetch := listingFetcher(c.getter, unwrapPlaylists, decode)
	for items, err := range Walk(ctx, c.cfg.playlistsURL(category.ID), fetch) {
		if err != nil {
			return nil, fmt.Errorf("list playlists for category %s: %w", category.ID, err)
		}
		playlists = append(playlists, keep(&c.skipTracker, "playlist", items, zap.String("category_id", category.ID))...)
	}
	return playlists, nil
}
