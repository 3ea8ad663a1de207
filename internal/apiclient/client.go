// Package apiclient performs authenticated catalog API GETs with bounded
// retries, 401 re-authentication and per-host rate limiting.
package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Defaults applied by New for zero-valued options.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
	DefaultUserAgent  = "catalog-crawler/0.1"
)

// CredentialStore is the view of the shared credential the client needs.
type CredentialStore interface {
	Current() (crawler.Credential, bool)
	Refresh(ctx context.Context, stale crawler.Credential) (crawler.Credential, error)
}

// RateLimiter throttles requests per host. Pause is called on 429 so every
// worker backs off together.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
	Pause(rawURL string, d time.Duration)
}

// Options tunes the retry loop.
type Options struct {
	// MaxRetries is the number of attempts allowed after the first one.
	// Negative values mean none.
	MaxRetries int
	Backoff    Backoff
	Timeout    time.Duration
	UserAgent  string
	Limiter    RateLimiter
}

// Client implements crawler.Getter.
type Client struct {
	http       *resty.Client
	store      CredentialStore
	maxRetries int
	backoff    Backoff
	limiter    RateLimiter
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ crawler.Getter = (*Client)(nil)

// New builds a client. httpClient may be nil; tests pass the httptest client.
func New(store CredentialStore, opts Options, httpClient *http.Client, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff{Base: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var rc *resty.Client
	if httpClient != nil {
		rc = resty.NewWithClient(httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json")

	return &Client{
		http:       rc,
		store:      store,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		limiter:    opts.Limiter,
		logger:     logger,
		sleep:      sleepContext,
	}
}

type failure struct {
	kind   crawler.RequestErrorKind
	status int
	err    error
}

// Get fetches rawURL with the current bearer token. It makes at most
// 1+MaxRetries attempts; a 401 refreshes the credential and uses one attempt.
// Context cancellation is returned as is.
func (c *Client) Get(ctx context.Context, rawURL string) (crawler.Response, error) {
	cred, ok := c.store.Current()
	if !ok {
		return crawler.Response{}, crawler.ErrMissingCredential
	}

	maxAttempts := 1 + c.maxRetries
	var last failure
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rawURL); err != nil {
				return crawler.Response{}, contextOr(ctx, err)
			}
		}

		start := time.Now()
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(cred.AccessToken).
			Get(rawURL)

		var delay time.Duration
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return crawler.Response{}, ctxErr
			}
			metrics.ObserveAPIRequest(rawURL, string(crawler.RequestErrorTransport), time.Since(start))
			last = failure{kind: crawler.RequestErrorTransport, err: err}
			delay = c.backoff.Delay(attempt)

		case resp.IsSuccess():
			metrics.ObserveAPIRequest(rawURL, "success", time.Since(start))
			return crawler.Response{
				URL:        rawURL,
				StatusCode: resp.StatusCode(),
				Header:     resp.Header(),
				Body:       resp.Body(),
				Attempts:   attempt,
			}, nil

		case resp.StatusCode() == http.StatusUnauthorized:
			metrics.ObserveAPIRequest(rawURL, string(crawler.RequestErrorUnauthorized), time.Since(start))
			metrics.ObserveReauth()
			c.logger.Warn("credential rejected, refreshing",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt))
			fresh, err := c.store.Refresh(ctx, cred)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return crawler.Response{}, ctxErr
				}
				return crawler.Response{}, err
			}
			cred = fresh
			last = failure{kind: crawler.RequestErrorUnauthorized, status: http.StatusUnauthorized}

		case resp.StatusCode() == http.StatusTooManyRequests:
			metrics.ObserveAPIRequest(rawURL, string(crawler.RequestErrorStatus), time.Since(start))
			last = failure{kind: crawler.RequestErrorStatus, status: http.StatusTooManyRequests}
			delay = retryAfter(resp.Header().Get("Retry-After"), c.backoff.Max())
			if delay == 0 {
				delay = c.backoff.Delay(attempt)
			}

		default:
			metrics.ObserveAPIRequest(rawURL, string(crawler.RequestErrorStatus), time.Since(start))
			last = failure{kind: crawler.RequestErrorStatus, status: resp.StatusCode()}
			delay = c.backoff.Delay(attempt)
		}

		if attempt == maxAttempts {
			break
		}
		metrics.ObserveRetry(string(last.kind))
		c.logger.Warn("retrying request",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.String("reason", string(last.kind)),
			zap.Int("status", last.status),
			zap.Duration("delay", delay),
			zap.Error(last.err))

		if last.status == http.StatusTooManyRequests && c.limiter != nil {
			c.limiter.Pause(rawURL, delay)
			continue
		}
		if err := c.sleep(ctx, delay); err != nil {
			return crawler.Response{}, err
		}
	}

	return crawler.Response{}, &crawler.RequestError{
		Kind:       last.kind,
		Attempts:   maxAttempts,
		URL:        rawURL,
		StatusCode: last.status,
		Err:        last.err,
	}
}

// retryAfter parses a delay-seconds Retry-After value and caps it. Missing or
// unparseable values return 0.
func retryAfter(header string, limit time.Duration) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("catalog request: %w", err)
}
