package crawler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/apiclient"
	"github.com/JakeFAU/catalog-crawler/internal/auth"
	"github.com/JakeFAU/catalog-crawler/internal/clock"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

// catalogServer fakes the token endpoint and the catalog API. The first
// artist lookup answers 401 once to force a credential refresh.
type catalogServer struct {
	*httptest.Server
	tokens     atomic.Int32
	mu         sync.Mutex
	artistHits []string
	rejected   bool
}

func newCatalogServer(t *testing.T) *catalogServer {
	t.Helper()
	s := &catalogServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		if id, secret, ok := r.BasicAuth(); !ok || id != "id" || secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := s.tokens.Add(1)
		writeJSON(w, map[string]any{"access_token": tokenName(n), "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("GET /v1/browse/categories", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"categories": map[string]any{
			"items": []any{map[string]any{"id": "pop", "name": "Pop"}},
			"next":  nil,
		}})
	})
	mux.HandleFunc("GET /v1/browse/categories/pop/playlists", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"playlists": map[string]any{
			"items": []any{
				map[string]any{"id": "pl1", "name": "Pop Rising", "tracks": map[string]any{"href": s.URL + "/v1/playlists/pl1/tracks"}},
				nil,
			},
			"next": nil,
		}})
	})
	mux.HandleFunc("GET /v1/playlists/pl1/tracks", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("offset") == "" {
			writeJSON(w, map[string]any{
				"items": []any{track("t1", "a1", "a2")},
				"next":  s.URL + "/v1/playlists/pl1/tracks?offset=1",
			})
			return
		}
		writeJSON(w, map[string]any{"items": []any{track("t2", "a1")}, "next": nil})
	})
	mux.HandleFunc("GET /v1/artists", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.artistHits = append(s.artistHits, r.URL.Query().Get("ids"))
		reject := !s.rejected
		s.rejected = true
		s.mu.Unlock()
		if reject || !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var out []any
		for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
			out = append(out, map[string]any{
				"id": id, "name": strings.ToUpper(id), "type": "artist",
				"popularity": 50, "followers": map[string]any{"total": 10}, "genres": []string{"pop"},
			})
		}
		writeJSON(w, map[string]any{"artists": out})
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *catalogServer) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+tokenName(s.tokens.Load())
}

func tokenName(n int32) string {
	return "token-" + strconv.Itoa(int(n))
}

func track(id string, artists ...string) any {
	var as []any
	for _, a := range artists {
		as = append(as, map[string]any{"id": a})
	}
	return map[string]any{
		"added_at": "2024-01-01T00:00:00Z",
		"track": map[string]any{
			"id": id, "name": "Track " + id, "type": "track", "popularity": 10,
			"album": map[string]any{"name": "Album"}, "artists": as,
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestCrawlEndToEnd(t *testing.T) {
	srv := newCatalogServer(t)
	clk := clock.NewFixed(time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))

	tm, err := auth.NewTokenManager(auth.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/api/token",
	}, srv.Client(), clk, nil)
	require.NoError(t, err)
	store := auth.NewStore(tm, nil)

	client := apiclient.New(store, apiclient.Options{
		MaxRetries: 3,
		Backoff:    apiclient.FixedBackoff{Wait: time.Millisecond},
	}, srv.Client(), nil)

	sink := memory.NewSnapshotSink()
	o, err := crawler.NewOrchestrator(crawler.Config{
		BaseURL:         srv.URL + "/v1",
		ArtistBatchSize: 1,
	}, crawler.OrchestratorDeps{
		Getter: client,
		Auth:   store,
		Sink:   sink,
		Clock:  clk,
	})
	require.NoError(t, err)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.RunSummary{
		Categories:   1,
		Playlists:    1,
		Tracks:       2,
		Artists:      2,
		SkippedItems: 1,
		Snapshots:    1,
	}, summary)

	snaps := sink.Snapshots()
	require.Len(t, snaps, 1)
	snap := snaps[0]
	require.Equal(t, 2, snap.TrackCount)
	require.Equal(t, 2, snap.ArtistCount)
	require.Equal(t, "spotify:track:t1", snap.Tracks[0].URI)
	require.Equal(t, "2024-06-03", snap.Artists[0].Date)

	// One initial exchange plus one refresh after the forced 401.
	require.Equal(t, int32(2), srv.tokens.Load())
	srv.mu.Lock()
	require.Equal(t, []string{"a1", "a1", "a2"}, srv.artistHits)
	srv.mu.Unlock()
}

func TestCrawlFailsOnRejectedClientCredentials(t *testing.T) {
	srv := newCatalogServer(t)
	tm, err := auth.NewTokenManager(auth.Config{
		ClientID:     "id",
		ClientSecret: "wrong",
		TokenURL:     srv.URL + "/api/token",
	}, srv.Client(), clock.New(), nil)
	require.NoError(t, err)
	store := auth.NewStore(tm, nil)

	o, err := crawler.NewOrchestrator(crawler.Config{BaseURL: srv.URL + "/v1"}, crawler.OrchestratorDeps{
		Getter: apiclient.New(store, apiclient.Options{}, srv.Client(), nil),
		Auth:   store,
		Sink:   memory.NewSnapshotSink(),
		Clock:  clock.New(),
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	var authErr *crawler.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}
