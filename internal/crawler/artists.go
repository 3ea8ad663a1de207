package crawler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// ArtistEnricher resolves artist ids through the bulk lookup endpoint.
type ArtistEnricher struct {
	skipTracker
	getter Getter
	cfg    Config
}

// NewArtistEnricher wires an enricher onto getter. The batch size comes from
// cfg.ArtistBatchSize after clamping.
func NewArtistEnricher(getter Getter, cfg Config, logger *zap.Logger) *ArtistEnricher {
	return &ArtistEnricher{
		skipTracker: skipTracker{logger: nopIfNil(logger)},
		getter:      getter,
		cfg:         cfg.WithDefaults(),
	}
}

// BatchSize reports the effective number of ids per request.
func (e *ArtistEnricher) BatchSize() int {
	return e.cfg.ArtistBatchSize
}

// Enrich issues ceil(len(ids)/BatchSize) lookups, in id order, and returns the
// artists the API knew about, stamped with date. Unknown ids come back as null
// and are skipped. A failed batch aborts enrichment.
func (e *ArtistEnricher) Enrich(ctx context.Context, ids *ArtistIDSet, date string) ([]Artist, error) {
	all := ids.IDs()
	if len(all) == 0 {
		return []Artist{}, nil
	}
	artists := make([]Artist, 0, len(all))
	for start := 0; start < len(all); start += e.cfg.ArtistBatchSize {
		end := min(start+e.cfg.ArtistBatchSize, len(all))
		batch, err := e.fetchBatch(ctx, all[start:end], date)
		if err != nil {
			return nil, err
		}
		artists = append(artists, batch...)
	}
	return artists, nil
}

func (e *ArtistEnricher) fetchBatch(ctx context.Context, ids []string, date string) ([]Artist, error) {
	metrics.ObserveArtistBatch(len(ids))
	url := e.cfg.artistsURL(ids)
	resp, err := e.getter.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("enrich artists: %w", err)
	}
	var env artistsEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("enrich artists: decode %s: %w", url, err)
	}
	items := make([]Decoded[Artist], 0, len(env.Artists))
	for i, raw := range env.Artists {
		a, err := decodeArtist(i, raw, date)
		items = append(items, Decoded[Artist]{Value: a, Err: err})
	}
	return keep(&e.skipTracker, "artist", items, zap.Int("batch_size", len(ids))), nil
}
