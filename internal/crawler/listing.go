package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// skipTracker logs and counts listing entries that failed to decode.
type skipTracker struct {
	logger  *zap.Logger
	skipped atomic.Int64
}

// Skipped returns how many entries were dropped since construction.
func (s *skipTracker) Skipped() int {
	return int(s.skipped.Load())
}

func (s *skipTracker) skip(entity string, err error, fields ...zap.Field) {
	s.skipped.Add(1)
	metrics.ObserveSkippedItem(entity)
	fields = append(fields, zap.String("entity", entity), zap.Error(err))
	s.logger.Warn("skipping undecodable item", fields...)
}

// keep returns the decoded values and reports the rest to the tracker.
func keep[T any](s *skipTracker, entity string, items []Decoded[T], fields ...zap.Field) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item.Err != nil {
			s.skip(entity, item.Err, fields...)
			continue
		}
		out = append(out, item.Value)
	}
	return out
}

// listingFetcher adapts a Getter and an item decoder into a PageFetcher.
func listingFetcher[T any](getter Getter, unwrap func([]byte) (*listing, error), decode func(int, json.RawMessage) (T, error)) PageFetcher[Decoded[T]] {
	return func(ctx context.Context, url string) (Page[Decoded[T]], error) {
		resp, err := getter.Get(ctx, url)
		if err != nil {
			return Page[Decoded[T]]{}, err
		}
		page, err := decodeListing(resp.Body, unwrap, decode)
		if err != nil {
			return Page[Decoded[T]]{}, fmt.Errorf("%s: %w", url, err)
		}
		return page, nil
	}
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
