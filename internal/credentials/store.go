package credentials

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"courier/internal/models"
	"courier/internal/provider"
	"courier/internal/storage"
)

var (
	// ErrNoCredential means no token row exists for the (user, messenger) pair.
	ErrNoCredential = errors.New("no credential for user and messenger")
	// ErrCredentialExpired means a token exists but is not active and no
	// refresh path could revive it.
	ErrCredentialExpired = errors.New("credential expired")
)

// Store resolves (user, messenger) pairs to live access tokens. State lives in
// storage; the optional cache is bounded by TTL and evicted eagerly on
// invalidation so workers never act on a token another worker revoked.
type Store struct {
	store    storage.Storage
	registry *provider.Registry
	cache    *TokenCache
	log      zerolog.Logger
}

func NewStore(store storage.Storage, registry *provider.Registry, cache *TokenCache, log zerolog.Logger) *Store {
	return &Store{store: store, registry: registry, cache: cache, log: log}
}

// Resolve returns the latest active token for the pair. When only an inactive
// token exists, a refresh is attempted once if the platform supports it.
func (s *Store) Resolve(ctx context.Context, userID string, messenger models.MessengerType) (*models.Token, error) {
	if s.cache != nil {
		if t, ok := s.cache.Get(ctx, userID, messenger); ok {
			return t, nil
		}
	}

	t, err := s.store.GetActiveToken(ctx, userID, messenger)
	if err != nil {
		return nil, err
	}
	if t != nil {
		s.cachePut(ctx, t)
		return t, nil
	}

	latest, err := s.latestToken(ctx, userID, messenger)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNoCredential
	}

	refreshed, err := s.tryRefresh(ctx, latest)
	if err != nil {
		s.log.Debug().Err(err).
			Str("token_id", latest.ID).
			Str("messenger", string(messenger)).
			Msg("token refresh failed")
		return nil, ErrCredentialExpired
	}
	if refreshed == nil {
		return nil, ErrCredentialExpired
	}
	s.cachePut(ctx, refreshed)
	return refreshed, nil
}

// Invalidate marks a token non-active and evicts it from the cache. Calling it
// twice with the same arguments is a no-op the second time.
func (s *Store) Invalidate(ctx context.Context, tokenID string, status models.TokenStatus, reason string) error {
	t, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}

	if t.Status == models.TokenActive {
		if err := s.store.UpdateTokenStatus(ctx, tokenID, status); err != nil {
			return err
		}
		s.log.Warn().
			Str("token_id", tokenID).
			Str("status", string(status)).
			Str("reason", reason).
			Msg("token invalidated")
	}
	if s.cache != nil {
		s.cache.Evict(ctx, t.UserID, t.Messenger)
	}
	return nil
}

// Refreshable reports whether a rejected credential can be revived on a later
// attempt: the token carries a refresh token and the platform supports
// exchanging it.
func (s *Store) Refreshable(t *models.Token) bool {
	if t == nil || t.RefreshToken == "" {
		return false
	}
	a, ok := s.registry.Get(t.Messenger)
	if !ok {
		return false
	}
	_, ok = a.(provider.Refresher)
	return ok
}

func (s *Store) latestToken(ctx context.Context, userID string, messenger models.MessengerType) (*models.Token, error) {
	tokens, err := s.store.ListTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range tokens {
		if tokens[i].Messenger == messenger {
			return &tokens[i], nil
		}
	}
	return nil, nil
}

func (s *Store) tryRefresh(ctx context.Context, t *models.Token) (*models.Token, error) {
	if !s.Refreshable(t) {
		return nil, nil
	}
	a, _ := s.registry.Get(t.Messenger)
	refresher := a.(provider.Refresher)

	access, refresh, err := refresher.Refresh(ctx, t)
	if err != nil {
		return nil, err
	}
	if refresh == "" {
		refresh = t.RefreshToken
	}
	if err := s.store.UpdateTokenCredentials(ctx, t.ID, access, refresh); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("token_id", t.ID).
		Str("messenger", string(t.Messenger)).
		Msg("token refreshed")

	return s.store.GetToken(ctx, t.ID)
}

func (s *Store) cachePut(ctx context.Context, t *models.Token) {
	if s.cache != nil {
		s.cache.Put(ctx, t)
	}
}
