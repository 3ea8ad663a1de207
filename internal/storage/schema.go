// Package storage holds the relational layout shared by the SQL snapshot
// stores: table names, column order, row builders and multi-row upserts.
package storage

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// DefaultWriteBatchSize is the number of rows per upsert statement.
const DefaultWriteBatchSize = 50

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Tables names the three snapshot tables.
type Tables struct {
	Categories string `mapstructure:"categories"`
	Tracks     string `mapstructure:"tracks"`
	Artists    string `mapstructure:"artists"`
}

// WithDefaults fills empty names.
func (t Tables) WithDefaults() Tables {
	if t.Categories == "" {
		t.Categories = "categories"
	}
	if t.Tracks == "" {
		t.Tracks = "tracks"
	}
	if t.Artists == "" {
		t.Artists = "artists"
	}
	return t
}

// Validate rejects names that are not plain identifiers.
func (t Tables) Validate() error {
	for _, name := range []string{t.Categories, t.Tracks, t.Artists} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Table describes one upsert target.
type Table struct {
	Name    string
	Columns []string
	Key     []string
}

// Column layouts. Tracks keep one row per playlist occurrence per day.
var (
	CategoryColumns = []string{"category_id", "category_name", "track_count", "artist_count"}
	CategoryKey     = []string{"category_id"}

	ArtistColumns = []string{"uri", "date", "id", "ingested", "name", "popularity", "type", "followers", "genres"}
	ArtistKey     = []string{"uri", "date"}

	TrackColumns = []string{
		"uri", "date", "category", "playlist", "id", "artists_id", "added_at",
		"disc_number", "duration_ms", "episode", "explicit", "is_local",
		"album_name", "name", "popularity", "track", "track_number", "type",
	}
	TrackKey = []string{"uri", "date", "category", "playlist"}
)

// Layout returns the three tables in write order.
func (t Tables) Layout() (categories, tracks, artists Table) {
	return Table{Name: t.Categories, Columns: CategoryColumns, Key: CategoryKey},
		Table{Name: t.Tracks, Columns: TrackColumns, Key: TrackKey},
		Table{Name: t.Artists, Columns: ArtistColumns, Key: ArtistKey}
}

// ListEncoder converts a string list into a driver value.
type ListEncoder func([]string) (any, error)

// CategoryRow renders the category summary row.
func CategoryRow(s crawler.CategorySnapshot) []any {
	return []any{s.CategoryID, s.CategoryName, s.TrackCount, s.ArtistCount}
}

// TrackRows renders one row per track. Repeated keys inside a snapshot keep
// the last occurrence so a single statement never touches a row twice.
func TrackRows(s crawler.CategorySnapshot, enc ListEncoder) ([][]any, error) {
	rows := make([][]any, 0, len(s.Tracks))
	index := make(map[string]int, len(s.Tracks))
	for _, t := range s.Tracks {
		artists, err := enc(t.ArtistIDs)
		if err != nil {
			return nil, fmt.Errorf("encode artists of track %s: %w", t.ID, err)
		}
		row := []any{
			t.URI, t.Date, t.CategoryID, t.PlaylistName, t.ID, artists, t.AddedAt,
			t.DiscNumber, t.DurationMs, t.IsEpisode, t.Explicit, t.IsLocal,
			t.AlbumName, t.Name, t.Popularity, t.IsTrack, t.TrackNumber, t.Type,
		}
		key := strings.Join([]string{t.URI, t.Date, t.CategoryID, t.PlaylistName}, "\x00")
		if i, ok := index[key]; ok {
			rows[i] = row
			continue
		}
		index[key] = len(rows)
		rows = append(rows, row)
	}
	return rows, nil
}

// ArtistRows renders one row per artist. The lookup endpoint may answer two
// requested ids with the same relinked artist; repeated keys keep the last
// occurrence.
func ArtistRows(s crawler.CategorySnapshot, enc ListEncoder) ([][]any, error) {
	rows := make([][]any, 0, len(s.Artists))
	index := make(map[string]int, len(s.Artists))
	for _, a := range s.Artists {
		genres, err := enc(a.Genres)
		if err != nil {
			return nil, fmt.Errorf("encode genres of artist %s: %w", a.ID, err)
		}
		row := []any{
			a.URI, a.Date, a.ID, a.Ingested, a.Name, a.Popularity, a.Type, a.Followers, genres,
		}
		key := a.URI + "\x00" + a.Date
		if i, ok := index[key]; ok {
			rows[i] = row
			continue
		}
		index[key] = len(rows)
		rows = append(rows, row)
	}
	return rows, nil
}

// Chunks splits rows into groups of at most size.
func Chunks(rows [][]any, size int) [][][]any {
	if size <= 0 {
		size = DefaultWriteBatchSize
	}
	var out [][][]any
	for start := 0; start < len(rows); start += size {
		out = append(out, rows[start:min(start+size, len(rows))])
	}
	return out
}

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Dollar renders Postgres placeholders.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Question renders SQLite placeholders.
func Question(int) string { return "?" }

// UpsertSQL builds a multi-row INSERT ... ON CONFLICT DO UPDATE for rows and
// returns the statement with its flattened arguments.
func UpsertSQL(t Table, rows [][]any, ph Placeholder) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", t.Name, strings.Join(t.Columns, ", "))
	args := make([]any, 0, len(rows)*len(t.Columns))
	n := 0
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range t.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(ph(n))
		}
		b.WriteByte(')')
		args = append(args, row...)
	}

	var updates []string
	for _, c := range t.Columns {
		if !slices.Contains(t.Key, c) {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(t.Key, ", "), strings.Join(updates, ", "))
	return b.String(), args
}
