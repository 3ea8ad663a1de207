// Package auth exchanges client credentials for catalog API bearer tokens and
// owns the credential shared by concurrent crawl workers.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/JakeFAU/catalog-crawler/internal/clock"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// DefaultTokenURL is the accounts service token endpoint.
const DefaultTokenURL = "https://accounts.spotify.com/api/token"

// Config describes the client-credentials exchange.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	// Timeout bounds a single exchange. Zero means 10s.
	Timeout time.Duration
}

// TokenManager performs the client-credentials grant. It does not retry.
type TokenManager struct {
	cc         clientcredentials.Config
	httpClient *http.Client
	clock      crawler.Clock
	logger     *zap.Logger
}

// NewTokenManager builds a manager. httpClient, clk and logger may be nil.
func NewTokenManager(cfg Config, httpClient *http.Client, clk crawler.Clock, logger *zap.Logger) (*TokenManager, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("auth: client id and secret are required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenManager{
		cc: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: httpClient,
		clock:      clk,
		logger:     logger,
	}, nil
}

// Obtain posts grant_type=client_credentials with basic auth and returns a
// fresh credential. A non-200 answer yields *crawler.AuthError carrying the
// status; transport failures carry status 0.
func (m *TokenManager) Obtain(ctx context.Context) (crawler.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.cc.Token(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.Credential{}, ctxErr
		}
		authErr := &crawler.AuthError{Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}
		m.logger.Error("token exchange failed", zap.Int("status", authErr.StatusCode), zap.Error(err))
		return crawler.Credential{}, authErr
	}
	m.logger.Debug("token obtained", zap.Time("expiry", tok.Expiry))
	return crawler.Credential{AccessToken: tok.AccessToken, ObtainedAt: m.clock.Now()}, nil
}
