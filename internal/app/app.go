// Package app builds the long-lived crawl services from configuration and
// owns their shutdown, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/catalog-crawler/internal/apiclient"
	"github.com/JakeFAU/catalog-crawler/internal/auth"
	"github.com/JakeFAU/catalog-crawler/internal/clock"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/sink"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
)

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	httpClient    *http.Client
	clock         crawler.Clock
	gcsOptions    []option.ClientOption
	pubsubOptions []option.ClientOption
}

// WithHTTPClient sets the client used for token exchange and API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock replaces the system clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithGCSOptions passes client options to the GCS blob store.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcsOptions = append(o.gcsOptions, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub publisher.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOptions = append(o.pubsubOptions, opts...) }
}

// App holds the services of one crawl process.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *crawler.Orchestrator
	sink         crawler.Sink
	memory       *memory.SnapshotSink
	runID        string
	closers      []closer
}

type closer struct {
	name  string
	close func() error
}

// New wires credentials, the API client, the sinks and the orchestrator.
// Sinks that hold connections are opened here so misconfiguration fails
// before any catalog request is made.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}

	logger.Info("initializing crawl services",
		logging.Redact("client_id", cfg.Auth.ClientID),
		zap.String("base_url", cfg.API.BaseURL),
		zap.Strings("sinks", cfg.Sink.Providers))

	tokens, err := auth.NewTokenManager(auth.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		TokenURL:     cfg.Auth.TokenURL,
		Timeout:      cfg.Auth.Timeout,
	}, o.httpClient, o.clock, logger.Named("auth"))
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}
	credentials := auth.NewStore(tokens, logger.Named("auth"))

	backoff, err := apiclient.NewBackoff(apiclient.BackoffConfig{
		Policy: cfg.API.Backoff.Policy,
		Min:    cfg.API.Backoff.Min,
		Max:    cfg.API.Backoff.Max,
	})
	if err != nil {
		return nil, fmt.Errorf("init backoff: %w", err)
	}
	client := apiclient.New(credentials, apiclient.Options{
		MaxRetries: cfg.API.MaxRetries,
		Backoff:    backoff,
		Timeout:    cfg.API.Timeout,
		UserAgent:  cfg.API.UserAgent,
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.API.RateLimit.RPS,
			DefaultBurst: cfg.API.RateLimit.Burst,
		}),
	}, o.httpClient, logger.Named("api"))

	out, err := a.buildSinks(ctx, o)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sink = out

	a.orchestrator, err = crawler.NewOrchestrator(crawler.Config{
		BaseURL:             cfg.API.BaseURL,
		PageLimit:           cfg.API.PageLimit,
		ArtistBatchSize:     cfg.Crawler.ArtistBatchSize,
		CategoryConcurrency: cfg.Crawler.CategoryConcurrency,
		PlaylistConcurrency: cfg.Crawler.PlaylistConcurrency,
		Categories:          cfg.Crawler.Categories,
	}, crawler.OrchestratorDeps{
		Getter: client,
		Auth:   credentials,
		Sink:   out,
		Clock:  o.clock,
		Logger: logger.Named("crawler"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return a, nil
}

// buildSinks opens the configured sinks in list order. The pubsub notice
// always goes last so it only follows persisted snapshots.
func (a *App) buildSinks(ctx context.Context, o options) (crawler.Sink, error) {
	var (
		sinks sink.Multi
		blob  *sink.BlobSink
	)
	for _, provider := range a.cfg.Sink.Providers {
		switch provider {
		case config.ProviderLog:
			sinks = append(sinks, sink.NewLogSink(a.logger.Named("sink")))
		case config.ProviderMemory:
			a.memory = memory.NewSnapshotSink()
			sinks = append(sinks, a.memory)
		case config.ProviderPostgres:
			store, err := postgres.NewSnapshotStore(ctx, postgres.Config{
				DSN:            a.cfg.Postgres.DSN,
				Tables:         a.cfg.Postgres.Tables,
				WriteBatchSize: a.cfg.Postgres.WriteBatchSize,
				MaxConns:       a.cfg.Postgres.MaxConns,
			}, a.logger.Named("postgres"))
			if err != nil {
				return nil, fmt.Errorf("init postgres sink: %w", err)
			}
			a.track("postgres", func() error { store.Close(); return nil })
			if a.cfg.Postgres.EnsureSchema {
				if err := store.EnsureSchema(ctx); err != nil {
					return nil, fmt.Errorf("init postgres sink: %w", err)
				}
			}
			sinks = append(sinks, store)
		case config.ProviderSQLite:
			store, err := sqlite.Open(ctx, sqlite.Config{
				Path:           a.cfg.SQLite.Path,
				Tables:         a.cfg.SQLite.Tables,
				WriteBatchSize: a.cfg.SQLite.WriteBatchSize,
			}, a.logger.Named("sqlite"))
			if err != nil {
				return nil, fmt.Errorf("init sqlite sink: %w", err)
			}
			a.track("sqlite", store.Close)
			sinks = append(sinks, store)
		case config.ProviderBlob:
			store, err := a.openBlobStore(ctx, o)
			if err != nil {
				return nil, fmt.Errorf("init blob sink: %w", err)
			}
			blob, err = sink.NewBlobSink(store, sha256.New(), o.clock, a.cfg.Storage.Prefix, a.logger.Named("blob"))
			if err != nil {
				return nil, fmt.Errorf("init blob sink: %w", err)
			}
			sinks = append(sinks, blob)
		case config.ProviderPubSub:
			// opened after the loop
		default:
			return nil, fmt.Errorf("unknown sink provider %q", provider)
		}
	}

	if a.cfg.Uses(config.ProviderPubSub) {
		pub, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			Topic:     a.cfg.PubSub.TopicName,
		}, o.pubsubOptions...)
		if err != nil {
			return nil, fmt.Errorf("init pubsub sink: %w", err)
		}
		a.track("pubsub", pub.Close)
		cfg := sink.NotifyConfig{
			Publisher: pub,
			Hasher:    sha256.New(),
			Clock:     o.clock,
			IDs:       uuid.NewUUIDGenerator(),
			Topic:     a.cfg.PubSub.TopicName,
			Logger:    a.logger.Named("pubsub"),
		}
		if blob != nil {
			cfg.Artifacts = blob
		}
		n, err := sink.NewNotifySink(cfg)
		if err != nil {
			return nil, fmt.Errorf("init pubsub sink: %w", err)
		}
		a.runID = n.RunID()
		sinks = append(sinks, n)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

func (a *App) openBlobStore(ctx context.Context, o options) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendLocal:
		return local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket}, o.gcsOptions...)
		if err != nil {
			return nil, err
		}
		a.track("gcs", store.Close)
		return store, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

func (a *App) track(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// Run performs one crawl inside a "crawl" span, so published notices carry
// its trace context.
func (a *App) Run(ctx context.Context) (crawler.RunSummary, error) {
	ctx, span := telemetry.Start(ctx, "crawl")
	defer span.End()

	summary, err := a.orchestrator.Run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "crawl failed")
		return summary, fmt.Errorf("crawl: %w", err)
	}
	span.SetAttributes(attribute.Int("crawl.snapshots", summary.Snapshots))
	return summary, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID is the identifier carried by completion notices, empty when the
// pubsub sink is not configured.
func (a *App) RunID() string { return a.runID }

// Snapshots returns what the memory sink recorded, if configured.
func (a *App) Snapshots() []crawler.CategorySnapshot {
	if a.memory == nil {
		return nil
	}
	return a.memory.Snapshots()
}

// Close releases sink connections in reverse order of opening.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}
