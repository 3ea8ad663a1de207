// Package sink composes crawler.Sink implementations: fan-out, structured
// logging, JSON artifacts in a blob store and completion notices.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Multi fans a snapshot out to every sink in order and stops at the first error.
type Multi []crawler.Sink

var _ crawler.Sink = Multi(nil)

// Save calls each sink in order.
func (m Multi) Save(ctx context.Context, snap crawler.CategorySnapshot) error {
	for _, s := range m {
		if err := s.Save(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// LogSink writes one summary line per snapshot.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Save logs the snapshot counts.
func (l *LogSink) Save(_ context.Context, snap crawler.CategorySnapshot) error {
	l.logger.Info("snapshot saved",
		zap.String("category_id", snap.CategoryID),
		zap.String("category_name", snap.CategoryName),
		zap.String("date", snap.Date),
		zap.Int("track_count", snap.TrackCount),
		zap.Int("artist_count", snap.ArtistCount))
	return nil
}

// Encode renders the snapshot artifact. Blob and notify sinks share it so
// digests agree.
func Encode(snap crawler.CategorySnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snap.CategoryID, err)
	}
	return data, nil
}

// snapshotDate is the crawl date carried by snap. Snapshots built without one
// fall back to today.
func snapshotDate(snap crawler.CategorySnapshot, clock crawler.Clock) string {
	if snap.Date != "" {
		return snap.Date
	}
	return clock.Now().UTC().Format(crawler.DateLayout)
}
