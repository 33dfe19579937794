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
	// ErrSessionNotFound is returned when a session token has no record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionUnavailable wraps backend failures.
	ErrSessionUnavailable = errors.New("session registry unavailable")
)

// SessionRecord is one logical login. A session may outlive the token pair
// that currently backs it; RefreshJTI tracks the pair's current refresh leg.
type SessionRecord struct {
	Token        string
	UserID       string
	RefreshJTI   string
	DeviceID     string
	IP           string
	UserAgent    string
	Location     string
	Active       bool
	CreatedAt    int64
	LastActivity int64
	ExpiresAt    int64
	RevokedAt    int64
}

// SessionStore tracks logical sessions per account with targeted and bulk
// revocation. Records are kept past revocation (until TTL) for inspection.
type SessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSessionStore(redisClient redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "ac"
	}
	return &SessionStore{redis: redisClient, prefix: prefix}
}

func (s *SessionStore) key(token string) string {
	return s.prefix + ":sess:" + token
}

func (s *SessionStore) userKey(userID string) string {
	return s.prefix + ":sessu:" + userID
}

func (s *SessionStore) expiryKey() string {
	return s.prefix + ":sessexp"
}

// revokeSessionScript deactivates a session only if it is still active.
// Returns 1 when this call deactivated it, 0 when already inactive, -1 when
// the record is gone.
const revokeSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], "active", "0", "revoked_at", ARGV[1])
return 1
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// touchSessionScript updates activity only on live records, optionally
// relinking the refresh jti after a rotation.
const touchSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_activity", ARGV[1])
if ARGV[2] ~= "" then
  redis.call("HSET", KEYS[1], "refresh_jti", ARGV[2])
end
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// Create persists a new session and indexes it for per-user and expiry scans.
func (s *SessionStore) Create(ctx context.Context, record *SessionRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}

	key := s.key(record.Token)
	fields := map[string]interface{}{
		"user_id":       record.UserID,
		"refresh_jti":   record.RefreshJTI,
		"device_id":     record.DeviceID,
		"ip":            record.IP,
		"user_agent":    record.UserAgent,
		"location":      record.Location,
		"active":        boolField(record.Active),
		"created_at":    strconv.FormatInt(record.CreatedAt, 10),
		"last_activity": strconv.FormatInt(record.LastActivity, 10),
		"expires_at":    strconv.FormatInt(record.ExpiresAt, 10),
		"revoked_at":    strconv.FormatInt(record.RevokedAt, 10),
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl+24*time.Hour)
	pipe.SAdd(ctx, s.userKey(record.UserID), record.Token)
	pipe.Expire(ctx, s.userKey(record.UserID), ttl+24*time.Hour)
	pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(record.ExpiresAt), Member: record.Token})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, token string) (*SessionRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return decodeSession(token, fields), nil
}

// Touch refreshes last-activity and, when refreshJTI is non-empty, relinks
// the session to the rotated refresh token.
func (s *SessionStore) Touch(ctx context.Context, token string, now time.Time, refreshJTI string) error {
	res, err := touchSessionLua.Run(ctx, s.redis, []string{s.key(token)},
		strconv.FormatInt(now.Unix(), 10), refreshJTI).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if res == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Revoke deactivates one session. Returns true when this call performed the
// revocation.
func (s *SessionStore) Revoke(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(token)},
		strconv.FormatInt(now.Unix(), 10)).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrSessionNotFound
	}
}

// RevokeAllForUser deactivates every active session of userID except the one
// carrying exceptToken (pass "" to revoke all). Returns the count revoked.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time, exceptToken string) (int, error) {
	tokens, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	revoked := 0
	for _, token := range tokens {
		if token == exceptToken {
			continue
		}
		ok, err := s.Revoke(ctx, token, now)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				_ = s.redis.SRem(ctx, s.userKey(userID), token).Err()
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

// RevokeByDevice deactivates every session of userID whose device id matches.
// Sessions are not required to reference a device, so this is an explicit
// per-session scan, not an index lookup.
func (s *SessionStore) RevokeByDevice(ctx context.Context, userID, deviceID string, now time.Time) (int, error) {
	tokens, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	revoked := 0
	for _, token := range tokens {
		dev, err := s.redis.HGet(ctx, s.key(token), "device_id").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = s.redis.SRem(ctx, s.userKey(userID), token).Err()
				continue
			}
			return revoked, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
		}
		if dev != deviceID {
			continue
		}
		ok, err := s.Revoke(ctx, token, now)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}
	return revoked, nil
}

// ListByUser returns every surviving session record for userID, pruning
// index entries whose records aged out.
func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]*SessionRecord, error) {
	tokens, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	out := make([]*SessionRecord, 0, len(tokens))
	for _, token := range tokens {
		fields, err := s.redis.HGetAll(ctx, s.key(token)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
		}
		if len(fields) == 0 {
			_ = s.redis.SRem(ctx, s.userKey(userID), token).Err()
			continue
		}
		out = append(out, decodeSession(token, fields))
	}
	return out, nil
}

// SweepExpired deactivates sessions whose expiry passed. Idempotent and safe
// to overlap with request handling: revocation is conditional per session.
func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tokens, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	swept := 0
	for _, token := range tokens {
		ok, err := s.Revoke(ctx, token, now)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return swept, err
		}
		if ok {
			swept++
		}
		_ = s.redis.ZRem(ctx, s.expiryKey(), token).Err()
	}
	return swept, nil
}

func decodeSession(token string, fields map[string]string) *SessionRecord {
	record := &SessionRecord{
		Token:      token,
		UserID:     fields["user_id"],
		RefreshJTI: fields["refresh_jti"],
		DeviceID:   fields["device_id"],
		IP:         fields["ip"],
		UserAgent:  fields["user_agent"],
		Location:   fields["location"],
		Active:     fields["active"] == "1",
	}
	record.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	record.LastActivity, _ = strconv.ParseInt(fields["last_activity"], 10, 64)
	record.ExpiresAt, _ = strconv.ParseInt(fields["expires_at"], 10, 64)
	record.RevokedAt, _ = strconv.ParseInt(fields["revoked_at"], 10, 64)
	return record
}
