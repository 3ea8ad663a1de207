package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// CategoryCrawler lists every browse category.
type CategoryCrawler struct {
	skipTracker
	getter Getter
	cfg    Config
}

// NewCategoryCrawler wires a crawler onto getter.
func NewCategoryCrawler(getter Getter, cfg Config, logger *zap.Logger) *CategoryCrawler {
	return &CategoryCrawler{
		skipTracker: skipTracker{logger: nopIfNil(logger)},
		getter:      getter,
		cfg:         cfg.WithDefaults(),
	}
}

// ListCategories walks the category listing to the end. Entries lacking an id
// or name are logged and skipped.
func (c *CategoryCrawler) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	fetch := listingFetcher(c.getter, unwrapCategories, decodeCategory)
	for items, err := range Walk(ctx, c.cfg.categoriesURL(), fetch) {
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		categories = append(categories, keep(&c.skipTracker, "category", items)...)
	}
	return categories, nil
}
