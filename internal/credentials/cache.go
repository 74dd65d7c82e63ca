package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/models"
)

// TokenCache is an optional read-through cache in front of the token table.
// Its TTL must stay well below any token validity window; invalidation evicts
// eagerly, so a stale entry can only shorten one resolve round-trip, never
// resurrect a dead token across workers.
type TokenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTokenCache(rdb *redis.Client, ttl time.Duration) *TokenCache {
	return &TokenCache{rdb: rdb, ttl: ttl}
}

func tokenKey(userID string, messenger models.MessengerType) string {
	return fmt.Sprintf("token:%s:%s", userID, messenger)
}

func (c *TokenCache) Get(ctx context.Context, userID string, messenger models.MessengerType) (*models.Token, bool) {
	raw, err := c.rdb.Get(ctx, tokenKey(userID, messenger)).Bytes()
	if err != nil {
		return nil, false
	}
	var t models.Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false
	}
	if t.Status != models.TokenActive {
		return nil, false
	}
	return &t, true
}

func (c *TokenCache) Put(ctx context.Context, t *models.Token) {
	if t == nil || t.Status != models.TokenActive {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	// Cache failures are invisible to callers; the table remains the source
	// of truth.
	_ = c.rdb.Set(ctx, tokenKey(t.UserID, t.Messenger), raw, c.ttl).Err()
}

func (c *TokenCache) Evict(ctx context.Context, userID string, messenger models.MessengerType) {
	_ = c.rdb.Del(ctx, tokenKey(userID, messenger)).Err()
}
