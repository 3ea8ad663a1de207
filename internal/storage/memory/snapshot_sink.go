package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// SnapshotSink records every saved snapshot in arrival order.
type SnapshotSink struct {
	mu        sync.Mutex
	snapshots []crawler.CategorySnapshot
}

var _ crawler.Sink = (*SnapshotSink)(nil)

// NewSnapshotSink returns an empty sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// Save appends snap.
func (s *SnapshotSink) Save(ctx context.Context, snap crawler.CategorySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// Snapshots returns a copy of the recorded snapshots.
func (s *SnapshotSink) Snapshots() []crawler.CategorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.CategorySnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}
