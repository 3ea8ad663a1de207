package crawler

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Crawl defaults. MaxArtistBatchSize is the upper bound the bulk artist lookup
// accepts per request.
const (
	DefaultBaseURL         = "https://api.spotify.com/v1"
	DefaultPageLimit       = 50
	MaxArtistBatchSize     = 50
	DefaultArtistBatchSize = MaxArtistBatchSize
)

// Config captures the knobs that shape a crawl run.
type Config struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string
	// PageLimit is sent as the limit query parameter on listing requests.
	PageLimit int
	// ArtistBatchSize is clamped to 1..MaxArtistBatchSize.
	ArtistBatchSize     int
	CategoryConcurrency int
	PlaylistConcurrency int
	// Categories restricts the crawl to these ids when non-empty.
	Categories []string
}

// WithDefaults fills zero values and clamps the artist batch size.
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PageLimit <= 0 {
		c.PageLimit = DefaultPageLimit
	}
	c.ArtistBatchSize = ClampBatchSize(c.ArtistBatchSize)
	if c.CategoryConcurrency <= 0 {
		c.CategoryConcurrency = 1
	}
	if c.PlaylistConcurrency <= 0 {
		c.PlaylistConcurrency = 1
	}
	return c
}

// Validate checks for obviously bad configuration.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler base url %q must be an absolute URL", c.BaseURL)
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("crawler page limit must be > 0")
	}
	if c.CategoryConcurrency <= 0 || c.PlaylistConcurrency <= 0 {
		return fmt.Errorf("crawler concurrency must be > 0")
	}
	return nil
}

// ClampBatchSize maps any requested size into 1..MaxArtistBatchSize. Zero or
// negative sizes select the maximum.
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultArtistBatchSize
	case n > MaxArtistBatchSize:
		return MaxArtistBatchSize
	default:
		return n
	}
}

func (c Config) categoriesURL() string {
	return c.BaseURL + "/browse/categories?limit=" + strconv.Itoa(c.PageLimit)
}

func (c Config) playlistsURL(categoryID string) string {
	return c.BaseURL + "/browse/categories/" + url.PathEscape(categoryID) + "/playlists?limit=" + strconv.Itoa(c.PageLimit)
}

// artistsURL escapes each id and keeps the separating commas literal.
func (c Config) artistsURL(ids []string) string {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.QueryEscape(id)
	}
	return c.BaseURL + "/artists?ids=" + strings.Join(escaped, ",")
}

func (c Config) allows(categoryID string) bool {
	return len(c.Categories) == 0 || slices.Contains(c.Categories, categoryID)
}
