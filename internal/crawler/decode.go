package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DateLayout formats the crawl date stamped on tracks and artists.
const DateLayout = "2006-01-02"

func crawlDate(clock Clock) string {
	return clock.Now().UTC().Format(DateLayout)
}

// Decoded holds either a mapped item or the reason it was dropped.
type Decoded[T any] struct {
	Value T
	Err   error
}

type listing struct {
	Items []json.RawMessage `json:"items"`
	Next  string            `json:"next"`
}

type categoriesEnvelope struct {
	Categories *listing `json:"categories"`
}

type playlistsEnvelope struct {
	Playlists *listing `json:"playlists"`
}

type artistsEnvelope struct {
	Artists []json.RawMessage `json:"artists"`
}

type wireCategory struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

type wirePlaylist struct {
	ID     *string `json:"id"`
	Name   *string `json:"name"`
	Tracks *struct {
		Href *string `json:"href"`
	} `json:"tracks"`
}

type wirePlaylistItem struct {
	AddedAt *string    `json:"added_at"`
	Track   *wireTrack `json:"track"`
}

type wireTrack struct {
	ID          *string `json:"id"`
	Name        *string `json:"name"`
	Type        *string `json:"type"`
	DiscNumber  int     `json:"disc_number"`
	DurationMs  int     `json:"duration_ms"`
	Episode     bool    `json:"episode"`
	Explicit    bool    `json:"explicit"`
	IsLocal     bool    `json:"is_local"`
	Popularity  int     `json:"popularity"`
	Track       bool    `json:"track"`
	TrackNumber int     `json:"track_number"`
	Album       *struct {
		Name *string `json:"name"`
	} `json:"album"`
	Artists []struct {
		ID string `json:"id"`
	} `json:"artists"`
}

type wireArtist struct {
	ID         *string  `json:"id"`
	Name       *string  `json:"name"`
	Type       *string  `json:"type"`
	Popularity int      `json:"popularity"`
	Genres     []string `json:"genres"`
	Followers  struct {
		Total int `json:"total"`
	} `json:"followers"`
}

var jsonNull = []byte("null")

// unmarshalItem decodes one raw listing entry, reporting null entries and
// type mismatches as DecodeErrors.
func unmarshalItem(entity string, index int, raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return &DecodeError{Entity: entity, Index: index, Reason: "null entry"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Entity: entity, Index: index, Reason: "malformed entry", Err: err}
	}
	return nil
}

func missing(entity string, index int, field string) error {
	return &DecodeError{Entity: entity, Index: index, Reason: "missing " + field}
}

func present(s *string) bool {
	return s != nil && *s != ""
}

func decodeCategory(index int, raw json.RawMessage) (Category, error) {
	var w wireCategory
	if err := unmarshalItem("category", index, raw, &w); err != nil {
		return Category{}, err
	}
	if !present(w.ID) {
		return Category{}, missing("category", index, "id")
	}
	if w.Name == nil {
		return Category{}, missing("category", index, "name")
	}
	return Category{ID: *w.ID, Name: *w.Name}, nil
}

func decodePlaylist(index int, raw json.RawMessage, categoryID string) (Playlist, error) {
	var w wirePlaylist
	if err := unmarshalItem("playlist", index, raw, &w); err != nil {
		return Playlist{}, err
	}
	switch {
	case !present(w.ID):
		return Playlist{}, missing("playlist", index, "id")
	case w.Name == nil:
		return Playlist{}, missing("playlist", index, "name")
	case w.Tracks == nil || !present(w.Tracks.Href):
		return Playlist{}, missing("playlist", index, "tracks.href")
	}
	return Playlist{
		ID:             *w.ID,
		Name:           *w.Name,
		CategoryID:     categoryID,
		TracksEndpoint: *w.Tracks.Href,
	}, nil
}

// decodeTrack maps a playlist item and returns the contributing artist ids in
// source order.
func decodeTrack(index int, raw json.RawMessage, playlist Playlist, date string) (Track, error) {
	var w wirePlaylistItem
	if err := unmarshalItem("track", index, raw, &w); err != nil {
		return Track{}, err
	}
	t := w.Track
	switch {
	case t == nil:
		return Track{}, missing("track", index, "track")
	case !present(t.ID):
		return Track{}, missing("track", index, "track.id")
	case t.Name == nil:
		return Track{}, missing("track", index, "track.name")
	case t.Type == nil:
		return Track{}, missing("track", index, "track.type")
	case t.Album == nil || t.Album.Name == nil:
		return Track{}, missing("track", index, "track.album.name")
	}

	ids := NewArtistIDSet()
	for _, a := range t.Artists {
		ids.Add(a.ID)
	}
	artistIDs := ids.IDs()
	if artistIDs == nil {
		artistIDs = []string{}
	}

	addedAt := ""
	if w.AddedAt != nil {
		addedAt = *w.AddedAt
	}

	return Track{
		URI:          TrackURIPrefix + *t.ID,
		ID:           *t.ID,
		CategoryID:   playlist.CategoryID,
		PlaylistName: playlist.Name,
		Date:         date,
		AddedAt:      addedAt,
		DiscNumber:   t.DiscNumber,
		DurationMs:   t.DurationMs,
		IsEpisode:    t.Episode,
		Explicit:     t.Explicit,
		IsLocal:      t.IsLocal,
		AlbumName:    *t.Album.Name,
		Name:         *t.Name,
		Popularity:   t.Popularity,
		IsTrack:      t.Track,
		TrackNumber:  t.TrackNumber,
		Type:         *t.Type,
		ArtistIDs:    artistIDs,
	}, nil
}

func decodeArtist(index int, raw json.RawMessage, date string) (Artist, error) {
	var w wireArtist
	if err := unmarshalItem("artist", index, raw, &w); err != nil {
		return Artist{}, err
	}
	switch {
	case !present(w.ID):
		return Artist{}, missing("artist", index, "id")
	case w.Name == nil:
		return Artist{}, missing("artist", index, "name")
	case w.Type == nil:
		return Artist{}, missing("artist", index, "type")
	}
	genres := append([]string{}, w.Genres...)
	return Artist{
		URI:        ArtistURIPrefix + *w.ID,
		ID:         *w.ID,
		Ingested:   false,
		Date:       date,
		Name:       *w.Name,
		Popularity: w.Popularity,
		Type:       *w.Type,
		Followers:  w.Followers.Total,
		Genres:     genres,
	}, nil
}

// decodeListing unwraps a listing envelope and maps each item with decode.
func decodeListing[T any](body []byte, unwrap func([]byte) (*listing, error), decode func(int, json.RawMessage) (T, error)) (Page[Decoded[T]], error) {
	l, err := unwrap(body)
	if err != nil {
		return Page[Decoded[T]]{}, err
	}
	items := make([]Decoded[T], 0, len(l.Items))
	for i, raw := range l.Items {
		v, err := decode(i, raw)
		items = append(items, Decoded[T]{Value: v, Err: err})
	}
	return Page[Decoded[T]]{Items: items, Next: l.Next}, nil
}

func unwrapCategories(body []byte) (*listing, error) {
	var env categoriesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode categories page: %w", err)
	}
	if env.Categories == nil {
		return nil, fmt.Errorf("decode categories page: missing categories envelope")
	}
	return env.Categories, nil
}

func unwrapPlaylists(body []byte) (*listing, error) {
	var env playlistsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode playlists page: %w", err)
	}
	if env.Playlists == nil {
		return nil, fmt.Errorf("decode playlists page: missing playlists envelope")
	}
	return env.Playlists, nil
}

func unwrapTracks(body []byte) (*listing, error) {
	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode tracks page: %w", err)
	}
	return &l, nil
}
