package crawler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// TrackCrawler reads every item of a playlist and gathers the artist ids the
// tracks reference. It never looks artists up.
type TrackCrawler struct {
	skipTracker
	getter Getter
}

// NewTrackCrawler wires a crawler onto getter.
func NewTrackCrawler(getter Getter, logger *zap.Logger) *TrackCrawler {
	return &TrackCrawler{
		skipTracker: skipTracker{logger: nopIfNil(logger)},
		getter:      getter,
	}
}

// CollectTracks walks the playlist's tracks endpoint. It returns one Track per
// decodable item, in listing order, each stamped with date, plus the ordered
// set of artist ids seen.
func (c *TrackCrawler) CollectTracks(ctx context.Context, playlist Playlist, date string) ([]Track, *ArtistIDSet, error) {
	decode := func(i int, raw json.RawMessage) (Track, error) {
		return decodeTrack(i, raw, playlist, date)
	}
	var tracks []Track
	artists := NewArtistIDSet()
	fetch := listingFetcher(c.getter, unwrapTracks, decode)
	for items, err := range Walk(ctx, playlist.TracksEndpoint, fetch) {
		if err != nil {
			return nil, nil, fmt.Errorf("collect tracks for playlist %s: %w", playlist.ID, err)
		}
		kept := keep(&c.skipTracker, "track", items,
			zap.String("category_id", playlist.CategoryID),
			zap.String("playlist_id", playlist.ID))
		for _, t := range kept {
			for _, id := range t.ArtistIDs {
				artists.Add(id)
			}
		}
		tracks = append(tracks, kept...)
	}
	return tracks, artists, nil
}
