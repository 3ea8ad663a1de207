package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

const testBase = "https://api.test/v1"

var testDay = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

const testDate = "2024-06-03"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// steppingClock moves forward one day on every read.
type steppingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.AddDate(0, 0, 1)
	return now
}

// fakeAPI serves canned bodies by exact URL and counts calls.
type fakeAPI struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  map[string]int
	order  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		bodies: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeAPI) on(url string, body any) *fakeAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch b := body.(type) {
	case string:
		f.bodies[url] = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			panic(err)
		}
		f.bodies[url] = string(raw)
	}
	return f
}

func (f *fakeAPI) fail(url string, err error) *fakeAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
	return f
}

func (f *fakeAPI) Get(ctx context.Context, url string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	f.order = append(f.order, url)
	if err, ok := f.errs[url]; ok {
		return Response{}, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return Response{}, fmt.Errorf("unexpected url %s", url)
	}
	return Response{URL: url, StatusCode: 200, Body: []byte(body), Attempts: 1}, nil
}

func (f *fakeAPI) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeAPI) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.order {
		if strings.HasPrefix(u, prefix) {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeAPI) duplicateCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var dup []string
	for u, n := range f.calls {
		if n > 1 {
			dup = append(dup, u)
		}
	}
	sort.Strings(dup)
	return dup
}

// JSON builders mirroring the catalog API shapes.

func listingPage(key string, items []any, next string) any {
	inner := map[string]any{"items": items, "next": nil}
	if next != "" {
		inner["next"] = next
	}
	if key == "" {
		return inner
	}
	return map[string]any{key: inner}
}

func categoryJSON(id, name string) any {
	return map[string]any{"id": id, "name": name, "href": testBase + "/browse/categories/" + id}
}

func playlistJSON(id, name string) any {
	return map[string]any{
		"id":   id,
		"name": name,
		"tracks": map[string]any{
			"href":  testBase + "/playlists/" + id + "/tracks",
			"total": 2,
		},
	}
}

func trackItemJSON(id, name string, artistIDs ...string) any {
	artists := make([]any, 0, len(artistIDs))
	for _, a := range artistIDs {
		artists = append(artists, map[string]any{"id": a, "name": "artist " + a})
	}
	return map[string]any{
		"added_at": "2024-05-01T00:00:00Z",
		"track": map[string]any{
			"id":           id,
			"name":         name,
			"type":         "track",
			"disc_number":  1,
			"duration_ms":  210000,
			"episode":      false,
			"explicit":     true,
			"is_local":     false,
			"popularity":   77,
			"track":        true,
			"track_number": 4,
			"album":        map[string]any{"name": "Album " + id},
			"artists":      artists,
		},
	}
}

func artistJSON(id string) any {
	return map[string]any{
		"id":         id,
		"name":       "Artist " + strings.ToUpper(id),
		"type":       "artist",
		"popularity": 60,
		"followers":  map[string]any{"total": 1234},
		"genres":     []string{"pop", "dance pop"},
	}
}

func artistsJSON(entries ...any) any {
	return map[string]any{"artists": entries}
}

func testConfig() Config {
	return Config{BaseURL: testBase, PageLimit: 50}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}
