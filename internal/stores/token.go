package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenNotFound is returned when a one-time token is absent, expired
	// or already consumed.
	ErrTokenNotFound = errors.New("one-time token not found")
	// ErrTokenUnavailable wraps backend failures.
	ErrTokenUnavailable = errors.New("token store unavailable")
)

// Token purposes. Each purpose has its own keyspace so a reset token can
// never be replayed as a verification token.
const (
	PurposePasswordReset     = "pwreset"
	PurposeEmailVerification = "everify"
)

// TokenStore holds single-use password-reset and email-verification tokens.
// Only SHA-256 digests of the opaque tokens are stored. Issuing a new token
// for a user invalidates any outstanding one of the same purpose.
type TokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string) *TokenStore {
	if prefix == "" {
		prefix = "ac"
	}
	return &TokenStore{redis: redisClient, prefix: prefix}
}

func (s *TokenStore) key(purpose, hash string) string {
	return s.prefix + ":tok:" + purpose + ":" + hash
}

func (s *TokenStore) userKey(purpose, userID string) string {
	return s.prefix + ":toku:" + purpose + ":" + userID
}

// consumeTokenScript atomically reads and deletes a token record. Single-use
// is guaranteed here: two concurrent consumers cannot both observe the value.
const consumeTokenScript = `
local v = redis.call("GET", KEYS[1])
if not v then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2] .. v)
return v
`

var consumeTokenLua = redis.NewScript(consumeTokenScript)

// Issue stores hash for userID, replacing any outstanding token of the same
// purpose. hash is the hex SHA-256 digest of the opaque token.
func (s *TokenStore) Issue(ctx context.Context, purpose, userID, hash string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("one-time token ttl must be positive")
	}

	// Drop the previous token first so at most one is live per user.
	prev, err := s.redis.Get(ctx, s.userKey(purpose, userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	pipe := s.redis.TxPipeline()
	if prev != "" {
		pipe.Del(ctx, s.key(purpose, prev))
	}
	pipe.Set(ctx, s.key(purpose, hash), userID, ttl)
	pipe.Set(ctx, s.userKey(purpose, userID), hash, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return nil
}

// Consume redeems the token with the given digest, deleting it in the same
// step. Returns the owning user id.
func (s *TokenStore) Consume(ctx context.Context, purpose, hash string) (string, error) {
	res, err := consumeTokenLua.Run(ctx, s.redis,
		[]string{s.key(purpose, hash), s.prefix + ":toku:" + purpose + ":"}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	userID, ok := res.(string)
	if !ok || userID == "" {
		return "", ErrTokenNotFound
	}
	return userID, nil
}
