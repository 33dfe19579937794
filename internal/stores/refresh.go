package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRefreshNotFound is returned when the ledger has no entry for a jti.
	ErrRefreshNotFound = errors.New("refresh token not found")
	// ErrRefreshUnavailable wraps backend failures.
	ErrRefreshUnavailable = errors.New("refresh ledger unavailable")
)

// RefreshRecord is one ledger entry, keyed by the token's jti claim.
type RefreshRecord struct {
	JTI          string
	UserID       string
	SessionToken string
	ExpiresAt    int64
	Revoked      bool
	RevokedAt    int64
}

// RefreshStore is the persistent record of issued refresh tokens with
// revocation state. Entries age out via TTL at their natural expiry.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRefreshStore(redisClient redis.UniversalClient, prefix string) *RefreshStore {
	if prefix == "" {
		prefix = "ac"
	}
	return &RefreshStore{redis: redisClient, prefix: prefix}
}

func (s *RefreshStore) key(jti string) string {
	return s.prefix + ":rt:" + jti
}

func (s *RefreshStore) userKey(userID string) string {
	return s.prefix + ":rtu:" + userID
}

// revokeScript flips the revoked flag only when the entry exists and is not
// yet revoked. Returns 1 on rotation, 0 when already revoked, -1 when absent.
// This is the at-most-once guarantee for rotation: two concurrent refresh
// exchanges with the same token cannot both observe 1.
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Save persists a fresh ledger entry. The key expires shortly after the
// token's natural expiry so revoked entries stay observable until then.
func (s *RefreshStore) Save(ctx context.Context, record *RefreshRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("refresh record ttl must be positive")
	}

	key := s.key(record.JTI)
	fields := map[string]interface{}{
		"user_id":       record.UserID,
		"session_token": record.SessionToken,
		"expires_at":    strconv.FormatInt(record.ExpiresAt, 10),
		"revoked":       boolField(record.Revoked),
		"revoked_at":    strconv.FormatInt(record.RevokedAt, 10),
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl+time.Hour)
	pipe.SAdd(ctx, s.userKey(record.UserID), record.JTI)
	pipe.Expire(ctx, s.userKey(record.UserID), ttl+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) Get(ctx context.Context, jti string) (*RefreshRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(jti)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrRefreshNotFound
	}

	record := &RefreshRecord{
		JTI:          jti,
		UserID:       fields["user_id"],
		SessionToken: fields["session_token"],
		Revoked:      fields["revoked"] == "1",
	}
	record.ExpiresAt, _ = strconv.ParseInt(fields["expires_at"], 10, 64)
	record.RevokedAt, _ = strconv.ParseInt(fields["revoked_at"], 10, 64)
	return record, nil
}

// Revoke marks the entry revoked. Returns true when this call performed the
// revocation, false when the entry was already revoked.
func (s *RefreshStore) Revoke(ctx context.Context, jti string, now time.Time) (bool, error) {
	res, err := revokeLua.Run(ctx, s.redis, []string{s.key(jti)}, strconv.FormatInt(now.Unix(), 10)).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrRefreshNotFound
	}
}

// RevokeAllForUser bulk-revokes every live entry belonging to userID and
// returns how many were flipped.
func (s *RefreshStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	jtis, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}

	revoked := 0
	for _, jti := range jtis {
		ok, err := s.Revoke(ctx, jti, now)
		if err != nil {
			if errors.Is(err, ErrRefreshNotFound) {
				// Entry aged out; drop the stale set member.
				_ = s.redis.SRem(ctx, s.userKey(userID), jti).Err()
				continue
			}
			return revoked, err
		}
		if ok {
			revoked++
		}
	}
	return revoked, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
