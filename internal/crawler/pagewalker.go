package crawler

import (
	"context"
	"iter"
)

// PageFetcher loads and decodes the page at url.
type PageFetcher[T any] func(ctx context.Context, url string) (Page[T], error)

// Walk returns a lazy sequence over the pages of a cursor-paginated listing.
// fetch is called with initialURL first and then with each page's Next cursor.
// The sequence ends when a page reports no cursor, when fetch fails (the error
// is yielded once), or when the consumer stops ranging. Every call to Walk
// starts from initialURL; the only state is the current cursor.
func Walk[T any](ctx context.Context, initialURL string, fetch PageFetcher[T]) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		cursor := initialURL
		for cursor != "" {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := fetch(ctx, cursor)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page.Items, nil) {
				return
			}
			cursor = page.Next
		}
	}
}

// Collect drains a walk into a single slice, preserving page order.
func Collect[T any](pages iter.Seq2[[]T, error]) ([]T, error) {
	var out []T
	for items, err := range pages {
		if err != nil {
			return out, err
		}
		out = append(out, items...)
	}
	return out, nil
}
