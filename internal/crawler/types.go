package crawler

import (
	"net/http"
	"time"
)

// URI prefixes synthesized for records handed to the sink. Artists use the
// "user" namespace because the downstream schema was built around it.
const (
	TrackURIPrefix  = "spotify:track:"
	ArtistURIPrefix = "spotify:user:"
)

// Category is a top-level catalog browse category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Playlist is scoped to one category's crawl and never persisted directly.
type Playlist struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CategoryID     string `json:"category"`
	TracksEndpoint string `json:"tracks"`
}

// Track is one playlist item. The same catalog track may appear once per
// playlist that contains it.
type Track struct {
	URI          string   `json:"uri"`
	ID           string   `json:"id"`
	CategoryID   string   `json:"category"`
	PlaylistName string   `json:"playlist"`
	Date         string   `json:"date"`
	AddedAt      string   `json:"added_at"`
	DiscNumber   int      `json:"disc_number"`
	DurationMs   int      `json:"duration_ms"`
	IsEpisode    bool     `json:"episode"`
	Explicit     bool     `json:"explicit"`
	IsLocal      bool     `json:"is_local"`
	AlbumName    string   `json:"album_name"`
	Name         string   `json:"name"`
	Popularity   int      `json:"popularity"`
	IsTrack      bool     `json:"track"`
	TrackNumber  int      `json:"track_number"`
	Type         string   `json:"type"`
	ArtistIDs    []string `json:"artists_id"`
}

// Artist is an enriched artist referenced by at least one track of a category.
type Artist struct {
	URI        string   `json:"uri"`
	ID         string   `json:"id"`
	Ingested   bool     `json:"ingested"`
	Date       string   `json:"date"`
	Name       string   `json:"name"`
	Popularity int      `json:"popularity"`
	Type       string   `json:"type"`
	Followers  int      `json:"followers"`
	Genres     []string `json:"genres"`
}

// CategorySnapshot is the complete record set for one category. It is handed
// to the Sink exactly once per category.
type CategorySnapshot struct {
	CategoryID   string   `json:"category_id"`
	CategoryName string   `json:"category_name"`
	Date         string   `json:"date"`
	TrackCount   int      `json:"track_count"`
	ArtistCount  int      `json:"artist_count"`
	Tracks       []Track  `json:"tracks"`
	Artists      []Artist `json:"artists"`
}

// NewCategorySnapshot builds a snapshot whose counts match its lists. date is
// the crawl date every record of the snapshot was stamped with.
func NewCategorySnapshot(category Category, date string, tracks []Track, artists []Artist) CategorySnapshot {
	if tracks == nil {
		tracks = []Track{}
	}
	if artists == nil {
		artists = []Artist{}
	}
	return CategorySnapshot{
		CategoryID:   category.ID,
		CategoryName: category.Name,
		Date:         date,
		TrackCount:   len(tracks),
		ArtistCount:  len(artists),
		Tracks:       tracks,
		Artists:      artists,
	}
}

// Credential is the bearer token used against the catalog API. It is replaced
// wholesale on refresh and never mutated in place.
type Credential struct {
	AccessToken string
	ObtainedAt  time.Time
}

// Valid reports whether the credential carries a token.
func (c Credential) Valid() bool {
	return c.AccessToken != ""
}

// Response is the result of a successful authenticated GET.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Page is one decoded page of a paginated listing. Next is empty on the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

// ArtistIDSet is an insertion-ordered set of artist identifiers. Matching is
// exact and case-sensitive.
type ArtistIDSet struct {
	ids  []string
	seen map[string]struct{}
}

// NewArtistIDSet returns an empty set.
func NewArtistIDSet() *ArtistIDSet {
	return &ArtistIDSet{seen: make(map[string]struct{})}
}

// Add inserts id and reports whether it was new. Empty ids are ignored.
func (s *ArtistIDSet) Add(id string) bool {
	if id == "" {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Merge adds every id of other, keeping first-seen order.
func (s *ArtistIDSet) Merge(other *ArtistIDSet) {
	if other == nil {
		return
	}
	for _, id := range other.ids {
		s.Add(id)
	}
}

// Len returns the number of unique ids.
func (s *ArtistIDSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns a copy of the ids in insertion order.
func (s *ArtistIDSet) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.ids...)
}

// RunSummary aggregates counters for a whole crawl run.
type RunSummary struct {
	Categories   int
	Playlists    int
	Tracks       int
	Artists      int
	SkippedItems int
	Snapshots    int
}

func (s *RunSummary) add(other RunSummary) {
	s.Categories += other.Categories
	s.Playlists += other.Playlists
	s.Tracks += other.Tracks
	s.Artists += other.Artists
	s.SkippedItems += other.SkippedItems
	s.Snapshots += other.Snapshots
}
