package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type fakeStore struct {
	mu        sync.Mutex
	cred      crawler.Credential
	refreshes int
	err       error
}

func newFakeStore(token string) *fakeStore {
	return &fakeStore{cred: crawler.Credential{AccessToken: token}}
}

func (s *fakeStore) Current() (crawler.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.cred.Valid()
}

func (s *fakeStore) Refresh(_ context.Context, _ crawler.Credential) (crawler.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return crawler.Credential{}, s.err
	}
	s.refreshes++
	s.cred = crawler.Credential{AccessToken: fmt.Sprintf("tok-%d", s.refreshes+1)}
	return s.cred, nil
}

// scriptedServer answers with the given statuses in order, then 200.
type scriptedServer struct {
	*httptest.Server
	hits    atomic.Int32
	mu      sync.Mutex
	tokens  []string
	agents  []string
	headers map[int]http.Header
}

func newScriptedServer(t *testing.T, statuses ...int) *scriptedServer {
	t.Helper()
	s := &scriptedServer{headers: map[int]http.Header{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.hits.Add(1))
		s.mu.Lock()
		s.tokens = append(s.tokens, r.Header.Get("Authorization"))
		s.agents = append(s.agents, r.Header.Get("User-Agent"))
		extra := s.headers[n]
		s.mu.Unlock()
		for k, v := range extra {
			w.Header()[k] = v
		}
		status := http.StatusOK
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"hit":%d}`, n)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptedServer) seen() (tokens, agents []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...), append([]string(nil), s.agents...)
}

func (s *scriptedServer) respondWith(hit int, h http.Header) {
	s.mu.Lock()
	s.headers[hit] = h
	s.mu.Unlock()
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestClient(store CredentialStore, maxRetries int, backoff Backoff, logger *zap.Logger) (*Client, *sleepRecorder) {
	c := New(store, Options{
		MaxRetries: maxRetries,
		Backoff:    backoff,
		UserAgent:  "catalog-crawler-test",
	}, nil, logger)
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func TestGetSuccess(t *testing.T) {
	srv := newScriptedServer(t)
	c, rec := newTestClient(newFakeStore("tok-1"), 3, FixedBackoff{}, nil)

	resp, err := c.Get(context.Background(), srv.URL+"/browse/categories")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, resp.Attempts)
	require.JSONEq(t, `{"hit":1}`, string(resp.Body))
	tokens, agents := srv.seen()
	require.Equal(t, []string{"Bearer tok-1"}, tokens)
	require.Equal(t, []string{"catalog-crawler-test"}, agents)
	require.Empty(t, rec.delays)
}

func TestGetMissingCredentialSendsNothing(t *testing.T) {
	srv := newScriptedServer(t)
	c, _ := newTestClient(&fakeStore{}, 3, FixedBackoff{}, nil)

	_, err := c.Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, crawler.ErrMissingCredential)
	require.Zero(t, srv.hits.Load())
}

func TestGetRetryBound(t *testing.T) {
	for _, limit := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("limit_%d", limit), func(t *testing.T) {
			statuses := []int{500, 500, 500, 500, 500, 500}
			srv := newScriptedServer(t, statuses...)
			core, logs := observer.New(zapcore.WarnLevel)
			c, rec := newTestClient(newFakeStore("tok-1"), limit, FixedBackoff{Wait: 250 * time.Millisecond}, zap.New(core))

			_, err := c.Get(context.Background(), srv.URL)
			require.ErrorIs(t, err, crawler.ErrMaxRetriesExceeded)

			var reqErr *crawler.RequestError
			require.ErrorAs(t, err, &reqErr)
			require.Equal(t, limit+1, reqErr.Attempts)
			require.Equal(t, crawler.RequestErrorStatus, reqErr.Kind)
			require.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
			require.True(t, crawler.IsFatal(err))

			require.Equal(t, int32(limit+1), srv.hits.Load())
			require.Len(t, rec.delays, limit)
			require.Equal(t, limit, logs.FilterMessage("retrying request").Len())
		})
	}
}

func TestGetRecoversAfterTransientStatus(t *testing.T) {
	srv := newScriptedServer(t, http.StatusBadGateway, http.StatusServiceUnavailable)
	c, rec := newTestClient(newFakeStore("tok-1"), 3, FixedBackoff{Wait: time.Second}, nil)

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, []time.Duration{time.Second, time.Second}, rec.delays)
}

func TestGetReauthenticatesOn401(t *testing.T) {
	srv := newScriptedServer(t, http.StatusUnauthorized, http.StatusUnauthorized, http.StatusOK)
	store := newFakeStore("tok-1")
	c, _ := newTestClient(store, 3, FixedBackoff{}, nil)

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, 2, store.refreshes)
	tokens, _ := srv.seen()
	require.Equal(t, []string{"Bearer tok-1", "Bearer tok-2", "Bearer tok-3"}, tokens)
}

func TestGetUnauthorizedCountsAgainstBudget(t *testing.T) {
	srv := newScriptedServer(t, 401, 401, 401, 401, 401)
	c, _ := newTestClient(newFakeStore("tok-1"), 2, FixedBackoff{}, nil)

	_, err := c.Get(context.Background(), srv.URL)
	var reqErr *crawler.RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, crawler.RequestErrorUnauthorized, reqErr.Kind)
	require.Equal(t, 3, reqErr.Attempts)
	require.Equal(t, int32(3), srv.hits.Load())
}

func TestGetRefreshFailureIsReturned(t *testing.T) {
	srv := newScriptedServer(t, http.StatusUnauthorized)
	store := newFakeStore("tok-1")
	store.err = &crawler.AuthError{StatusCode: http.StatusBadRequest}
	c, _ := newTestClient(store, 3, FixedBackoff{}, nil)

	_, err := c.Get(context.Background(), srv.URL)
	var authErr *crawler.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	require.False(t, errors.Is(err, crawler.ErrMaxRetriesExceeded))
	require.Equal(t, int32(1), srv.hits.Load())
}

func TestGetHonorsRetryAfter(t *testing.T) {
	srv := newScriptedServer(t, http.StatusTooManyRequests, http.StatusTooManyRequests)
	srv.respondWith(1, http.Header{"Retry-After": []string{"2"}})
	srv.respondWith(2, http.Header{"Retry-After": []string{"120"}})
	c, rec := newTestClient(newFakeStore("tok-1"), 3, FixedBackoff{Wait: 5 * time.Second}, nil)

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, rec.delays)
}

type pauseRecorder struct {
	mu     sync.Mutex
	waits  int
	pauses []time.Duration
}

func (p *pauseRecorder) Wait(ctx context.Context, _ string) error {
	p.mu.Lock()
	p.waits++
	p.mu.Unlock()
	return ctx.Err()
}

func (p *pauseRecorder) Pause(_ string, d time.Duration) {
	p.mu.Lock()
	p.pauses = append(p.pauses, d)
	p.mu.Unlock()
}

func TestGetPausesLimiterOn429(t *testing.T) {
	srv := newScriptedServer(t, http.StatusTooManyRequests)
	srv.respondWith(1, http.Header{"Retry-After": []string{"1"}})
	limiter := &pauseRecorder{}
	c := New(newFakeStore("tok-1"), Options{MaxRetries: 2, Backoff: FixedBackoff{Wait: 10 * time.Second}, Limiter: limiter}, nil, nil)
	rec := &sleepRecorder{}
	c.sleep = rec.sleep

	_, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 2, limiter.waits)
	require.Equal(t, []time.Duration{time.Second}, limiter.pauses)
	require.Empty(t, rec.delays)
}

func TestGetTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := newTestClient(newFakeStore("tok-1"), 2, FixedBackoff{}, nil)
	_, err := c.Get(context.Background(), url)

	var reqErr *crawler.RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, crawler.RequestErrorTransport, reqErr.Kind)
	require.Equal(t, 3, reqErr.Attempts)
	require.Zero(t, reqErr.StatusCode)
	require.Error(t, reqErr.Err)
}

func TestGetCanceledContext(t *testing.T) {
	srv := newScriptedServer(t, 500, 500, 500)
	c := New(newFakeStore("tok-1"), Options{MaxRetries: 3, Backoff: FixedBackoff{Wait: time.Hour}}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := c.Get(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, crawler.IsFatal(err))
	require.Equal(t, int32(1), srv.hits.Load())
}

func TestRetryAfterParsing(t *testing.T) {
	testCases := []struct {
		header string
		limit  time.Duration
		want   time.Duration
	}{
		{"", time.Minute, 0},
		{"abc", time.Minute, 0},
		{"-3", time.Minute, 0},
		{"3", time.Minute, 3 * time.Second},
		{" 7 ", time.Minute, 7 * time.Second},
		{"600", time.Minute, time.Minute},
		{"600", 0, 600 * time.Second},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, retryAfter(tc.header, tc.limit), "header %q", tc.header)
	}
}
