package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const jsonContentType = "application/json"

// Artifact describes one written snapshot file.
type Artifact struct {
	URI    string
	Digest string
}

// BlobSink writes each snapshot as <prefix>/<category_id>/<date>.json.
type BlobSink struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	clock  crawler.Clock
	prefix string
	logger *zap.Logger

	mu        sync.Mutex
	artifacts map[string]Artifact
}

var _ crawler.Sink = (*BlobSink)(nil)

// NewBlobSink validates its collaborators.
func NewBlobSink(store crawler.BlobStore, hasher crawler.Hasher, clock crawler.Clock, prefix string, logger *zap.Logger) (*BlobSink, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("blob store is required")
	case hasher == nil:
		return nil, fmt.Errorf("hasher is required")
	case clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobSink{
		store:     store,
		hasher:    hasher,
		clock:     clock,
		prefix:    strings.Trim(prefix, "/"),
		logger:    logger,
		artifacts: make(map[string]Artifact),
	}, nil
}

// ObjectPath returns where the snapshot of categoryID for date is written.
func (b *BlobSink) ObjectPath(categoryID, date string) string {
	name := path.Join(categoryID, date+".json")
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

// Save encodes and uploads the snapshot.
func (b *BlobSink) Save(ctx context.Context, snap crawler.CategorySnapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	digest, err := b.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash snapshot %s: %w", snap.CategoryID, err)
	}
	uri, err := b.store.PutObject(ctx, b.ObjectPath(snap.CategoryID, snapshotDate(snap, b.clock)), jsonContentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.CategoryID, err)
	}

	b.mu.Lock()
	b.artifacts[snap.CategoryID] = Artifact{URI: uri, Digest: digest}
	b.mu.Unlock()
	b.logger.Debug("snapshot artifact written",
		zap.String("category_id", snap.CategoryID),
		zap.String("uri", uri),
		zap.String("sha256", digest))
	return nil
}

// Artifact returns what was written for categoryID during this run.
func (b *BlobSink) Artifact(categoryID string) (Artifact, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.artifacts[categoryID]
	return a, ok
}
