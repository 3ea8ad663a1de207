package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Stage names the steps a category moves through.
type Stage string

// Category stages, in order.
const (
	StageFetchPlaylists Stage = "fetch_playlists"
	StageFetchTracks    Stage = "fetch_tracks"
	StageDedupeArtists  Stage = "deduplicate_artist_ids"
	StageEnrichArtists  Stage = "enrich_artists"
	StageEmitSnapshot   Stage = "emit_snapshot"
	StageDone           Stage = "done"
)

// StageError attaches the failing stage and category to an error.
type StageError struct {
	CategoryID string
	Stage      Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("category %s: %s: %v", e.CategoryID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator drives a full crawl: it authenticates, lists categories and
// emits one snapshot per category to the sink.
type Orchestrator struct {
	cfg        Config
	auth       Authenticator
	sink       Sink
	clock      Clock
	logger     *zap.Logger
	categories *CategoryCrawler
	playlists  *PlaylistCrawler
	tracks     *TrackCrawler
	artists    *ArtistEnricher
}

// OrchestratorDeps bundles the collaborators of an Orchestrator.
type OrchestratorDeps struct {
	Getter Getter
	Auth   Authenticator
	Sink   Sink
	Clock  Clock
	Logger *zap.Logger
}

// NewOrchestrator validates cfg and builds the per-level crawlers.
func NewOrchestrator(cfg Config, deps OrchestratorDeps) (*Orchestrator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Getter == nil:
		return nil, errors.New("orchestrator requires a getter")
	case deps.Auth == nil:
		return nil, errors.New("orchestrator requires an authenticator")
	case deps.Sink == nil:
		return nil, errors.New("orchestrator requires a sink")
	case deps.Clock == nil:
		return nil, errors.New("orchestrator requires a clock")
	}
	logger := nopIfNil(deps.Logger)
	return &Orchestrator{
		cfg:        cfg,
		auth:       deps.Auth,
		sink:       deps.Sink,
		clock:      deps.Clock,
		logger:     logger,
		categories: NewCategoryCrawler(deps.Getter, cfg, logger),
		playlists:  NewPlaylistCrawler(deps.Getter, cfg, logger),
		tracks:     NewTrackCrawler(deps.Getter, logger),
		artists:    NewArtistEnricher(deps.Getter, cfg, logger),
	}, nil
}

// Run performs one full crawl. The first fatal error cancels in-flight
// categories and is returned; snapshots already saved stay saved. Runs on one
// Orchestrator must not overlap; each summary counts only its own run.
func (o *Orchestrator) Run(ctx context.Context) (RunSummary, error) {
	start := time.Now()
	skippedBefore := o.skipped()
	if _, err := o.auth.Obtain(ctx); err != nil {
		return RunSummary{}, fmt.Errorf("obtain credential: %w", err)
	}

	all, err := o.categories.ListCategories(ctx)
	if err != nil {
		return o.summary(RunSummary{}, skippedBefore), err
	}
	categories := make([]Category, 0, len(all))
	for _, c := range all {
		if o.cfg.allows(c.ID) {
			categories = append(categories, c)
		}
	}
	o.logger.Info("categories listed",
		zap.Int("listed", len(all)),
		zap.Int("selected", len(categories)))

	results := make([]RunSummary, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.CategoryConcurrency)
	for i, category := range categories {
		g.Go(func() error {
			s, err := o.CrawlCategory(gctx, category)
			results[i] = s
			return err
		})
	}
	err = g.Wait()

	var total RunSummary
	for _, s := range results {
		total.add(s)
	}
	total = o.summary(total, skippedBefore)
	if err != nil {
		return total, err
	}
	o.logger.Info("crawl finished",
		zap.Int("categories", total.Categories),
		zap.Int("playlists", total.Playlists),
		zap.Int("tracks", total.Tracks),
		zap.Int("artists", total.Artists),
		zap.Int("skipped_items", total.SkippedItems),
		zap.Int("snapshots", total.Snapshots),
		zap.Duration("elapsed", time.Since(start)))
	return total, nil
}

func (o *Orchestrator) summary(s RunSummary, skippedBefore int) RunSummary {
	s.SkippedItems = o.skipped() - skippedBefore
	return s
}

func (o *Orchestrator) skipped() int {
	return o.categories.Skipped() + o.playlists.Skipped() + o.tracks.Skipped() + o.artists.Skipped()
}

type playlistResult struct {
	tracks  []Track
	artists *ArtistIDSet
}

// CrawlCategory runs the category state machine and saves the snapshot. The
// snapshot is built only after every playlist and every artist batch finished.
// The crawl date is read once, so every record of the snapshot shares it.
func (o *Orchestrator) CrawlCategory(ctx context.Context, category Category) (RunSummary, error) {
	date := crawlDate(o.clock)
	logger := o.logger.With(
		zap.String("category_id", category.ID),
		zap.String("category_name", category.Name),
		zap.String("date", date))
	fail := func(stage Stage, err error) error {
		logger.Error("category failed", zap.String("stage", string(stage)), zap.Error(err))
		return &StageError{CategoryID: category.ID, Stage: stage, Err: err}
	}
	enter := func(stage Stage, fields ...zap.Field) {
		logger.Info("category stage", append([]zap.Field{zap.String("stage", string(stage))}, fields...)...)
	}

	enter(StageFetchPlaylists)
	playlists, err := o.playlists.ListPlaylists(ctx, category)
	if err != nil {
		return RunSummary{}, fail(StageFetchPlaylists, err)
	}

	enter(StageFetchTracks, zap.Int("playlists", len(playlists)))
	results := make([]playlistResult, len(playlists))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PlaylistConcurrency)
	for i, playlist := range playlists {
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			tracks, artists, err := o.tracks.CollectTracks(gctx, playlist, date)
			if err != nil {
				return err
			}
			results[i] = playlistResult{tracks: tracks, artists: artists}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RunSummary{Playlists: len(playlists)}, fail(StageFetchTracks, err)
	}

	var tracks []Track
	ids := NewArtistIDSet()
	for _, r := range results {
		tracks = append(tracks, r.tracks...)
		ids.Merge(r.artists)
	}
	enter(StageDedupeArtists, zap.Int("tracks", len(tracks)), zap.Int("unique_artists", ids.Len()))

	enter(StageEnrichArtists, zap.Int("batches", batchCount(ids.Len(), o.artists.BatchSize())))
	artists, err := o.artists.Enrich(ctx, ids, date)
	if err != nil {
		return RunSummary{Playlists: len(playlists), Tracks: len(tracks)}, fail(StageEnrichArtists, err)
	}

	snapshot := NewCategorySnapshot(category, date, tracks, artists)
	enter(StageEmitSnapshot, zap.Int("track_count", snapshot.TrackCount), zap.Int("artist_count", snapshot.ArtistCount))
	summary := RunSummary{
		Categories: 1,
		Playlists:  len(playlists),
		Tracks:     snapshot.TrackCount,
		Artists:    snapshot.ArtistCount,
	}
	if err := o.sink.Save(ctx, snapshot); err != nil {
		metrics.ObserveSnapshot("error")
		return summary, fail(StageEmitSnapshot, fmt.Errorf("save snapshot: %w", err))
	}
	metrics.ObserveSnapshot("saved")
	summary.Snapshots = 1

	enter(StageDone)
	return summary, nil
}

func batchCount(n, size int) int {
	if n == 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
