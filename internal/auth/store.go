package auth

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Store holds the current credential. Reads take a shared lock; exchanges are
// serialized so a wave of 401s seen by concurrent workers costs one refresh.
type Store struct {
	mu        sync.RWMutex
	cred      crawler.Credential
	refreshMu sync.Mutex
	source    crawler.Authenticator
	logger    *zap.Logger
}

// NewStore returns an empty store backed by source.
func NewStore(source crawler.Authenticator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{source: source, logger: logger}
}

// Current returns the held credential and whether one is held.
func (s *Store) Current() (crawler.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.cred.Valid()
}

// Obtain exchanges credentials unconditionally and stores the result.
func (s *Store) Obtain(ctx context.Context) (crawler.Credential, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.exchange(ctx)
}

// Refresh replaces stale with a new credential. If another caller already
// replaced it, the current credential is returned without a new exchange.
func (s *Store) Refresh(ctx context.Context, stale crawler.Credential) (crawler.Credential, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if cur, ok := s.Current(); ok && cur.AccessToken != stale.AccessToken {
		s.logger.Debug("credential already refreshed")
		return cur, nil
	}
	s.logger.Info("refreshing credential")
	return s.exchange(ctx)
}

// exchange must be called with refreshMu held.
func (s *Store) exchange(ctx context.Context) (crawler.Credential, error) {
	cred, err := s.source.Obtain(ctx)
	if err != nil {
		return crawler.Credential{}, err
	}
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return cred, nil
}
