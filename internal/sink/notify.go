package sink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// EventSnapshotSaved is the event attribute of completion notices.
const EventSnapshotSaved = "category_snapshot_saved"

// Notice announces that a category snapshot was persisted.
type Notice struct {
	RunID        string    `json:"run_id"`
	CategoryID   string    `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Date         string    `json:"date"`
	TrackCount   int       `json:"track_count"`
	ArtistCount  int       `json:"artist_count"`
	Digest       string    `json:"sha256"`
	ArtifactURI  string    `json:"artifact_uri,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
}

// Attributes labels the message for subscription filters.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"event":       EventSnapshotSaved,
		"run_id":      n.RunID,
		"category_id": n.CategoryID,
	}
}

// ArtifactLookup resolves the artifact written for a category, if any.
type ArtifactLookup interface {
	Artifact(categoryID string) (Artifact, bool)
}

// NotifySink publishes a Notice per snapshot. Place it after the sinks that
// persist data so notices only follow successful writes.
type NotifySink struct {
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	topic     string
	runID     string
	artifacts ArtifactLookup
	logger    *zap.Logger
}

var _ crawler.Sink = (*NotifySink)(nil)

// NotifyConfig wires a NotifySink.
type NotifyConfig struct {
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Topic     string
	// Artifacts is optional; when set, notices carry the artifact URI.
	Artifacts ArtifactLookup
	Logger    *zap.Logger
}

// NewNotifySink draws one run ID for every notice it publishes.
func NewNotifySink(cfg NotifyConfig) (*NotifySink, error) {
	switch {
	case cfg.Publisher == nil:
		return nil, fmt.Errorf("publisher is required")
	case cfg.Hasher == nil:
		return nil, fmt.Errorf("hasher is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case cfg.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case cfg.Topic == "":
		return nil, fmt.Errorf("topic is required")
	}
	runID, err := cfg.IDs.NewID()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{
		publisher: cfg.Publisher,
		hasher:    cfg.Hasher,
		clock:     cfg.Clock,
		topic:     cfg.Topic,
		runID:     runID,
		artifacts: cfg.Artifacts,
		logger:    logger,
	}, nil
}

// RunID identifies the crawl run in every notice.
func (n *NotifySink) RunID() string { return n.runID }

// Save publishes the notice for snap.
func (n *NotifySink) Save(ctx context.Context, snap crawler.CategorySnapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	digest, err := n.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash snapshot %s: %w", snap.CategoryID, err)
	}
	now := n.clock.Now().UTC()
	notice := Notice{
		RunID:        n.runID,
		CategoryID:   snap.CategoryID,
		CategoryName: snap.CategoryName,
		Date:         snapshotDate(snap, n.clock),
		TrackCount:   snap.TrackCount,
		ArtistCount:  snap.ArtistCount,
		Digest:       digest,
		PublishedAt:  now,
	}
	if n.artifacts != nil {
		if a, ok := n.artifacts.Artifact(snap.CategoryID); ok {
			notice.ArtifactURI = a.URI
		}
	}
	id, err := n.publisher.Publish(ctx, n.topic, notice)
	if err != nil {
		return fmt.Errorf("publish notice for %s: %w", snap.CategoryID, err)
	}
	n.logger.Debug("snapshot notice published",
		zap.String("category_id", snap.CategoryID),
		zap.String("message_id", id))
	return nil
}
