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
	// ErrDeviceNotFound is returned when a fingerprint has no record.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceUnavailable wraps backend failures.
	ErrDeviceUnavailable = errors.New("device registry unavailable")
)

// DeviceRecord is one fingerprinted client of an account. Trust is granted
// only by explicit user action, never by the upsert path.
type DeviceRecord struct {
	DeviceID  string
	UserID    string
	Trusted   bool
	Active    bool
	FirstSeen int64
	LastUsed  int64
	LastIP    string
	UserAgent string
}

// DeviceStore tracks devices per account, keyed by the client-supplied
// stable fingerprint.
type DeviceStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewDeviceStore(redisClient redis.UniversalClient, prefix string) *DeviceStore {
	if prefix == "" {
		prefix = "ac"
	}
	return &DeviceStore{redis: redisClient, prefix: prefix}
}

func (s *DeviceStore) key(userID, deviceID string) string {
	return s.prefix + ":dev:" + userID + ":" + deviceID
}

func (s *DeviceStore) userKey(userID string) string {
	return s.prefix + ":devu:" + userID
}

// upsertDeviceScript creates an untrusted active record on first sight, and
// on every later login refreshes usage metadata and reactivates the device
// without touching the trust flag.
const upsertDeviceScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("HSET", KEYS[1],
    "trusted", "0",
    "active", "1",
    "first_seen", ARGV[1],
    "last_used", ARGV[1],
    "last_ip", ARGV[2],
    "user_agent", ARGV[3])
  redis.call("SADD", KEYS[2], ARGV[4])
  return 1
end
redis.call("HSET", KEYS[1],
  "active", "1",
  "last_used", ARGV[1],
  "last_ip", ARGV[2],
  "user_agent", ARGV[3])
redis.call("SADD", KEYS[2], ARGV[4])
return 0
`

var upsertDeviceLua = redis.NewScript(upsertDeviceScript)

// Upsert records a login from deviceID. Returns true when the device was
// seen for the first time.
func (s *DeviceStore) Upsert(ctx context.Context, userID, deviceID, ip, userAgent string, now time.Time) (bool, error) {
	res, err := upsertDeviceLua.Run(ctx, s.redis,
		[]string{s.key(userID, deviceID), s.userKey(userID)},
		strconv.FormatInt(now.Unix(), 10), ip, userAgent, deviceID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return res == 1, nil
}

func (s *DeviceStore) Get(ctx context.Context, userID, deviceID string) (*DeviceRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(userID, deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrDeviceNotFound
	}
	return decodeDevice(userID, deviceID, fields), nil
}

// SetTrusted flips the explicit trust flag.
func (s *DeviceStore) SetTrusted(ctx context.Context, userID, deviceID string, trusted bool) error {
	return s.setFlag(ctx, userID, deviceID, "trusted", trusted)
}

// Deactivate marks the device inactive. Cascading session revocation is the
// session registry's job; the engine drives both.
func (s *DeviceStore) Deactivate(ctx context.Context, userID, deviceID string) error {
	return s.setFlag(ctx, userID, deviceID, "active", false)
}

func (s *DeviceStore) setFlag(ctx context.Context, userID, deviceID, field string, value bool) error {
	key := s.key(userID, deviceID)
	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if exists == 0 {
		return ErrDeviceNotFound
	}
	if err := s.redis.HSet(ctx, key, field, boolField(value)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

func (s *DeviceStore) ListByUser(ctx context.Context, userID string) ([]*DeviceRecord, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	out := make([]*DeviceRecord, 0, len(ids))
	for _, id := range ids {
		fields, err := s.redis.HGetAll(ctx, s.key(userID, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		if len(fields) == 0 {
			_ = s.redis.SRem(ctx, s.userKey(userID), id).Err()
			continue
		}
		out = append(out, decodeDevice(userID, id, fields))
	}
	return out, nil
}

func decodeDevice(userID, deviceID string, fields map[string]string) *DeviceRecord {
	record := &DeviceRecord{
		DeviceID:  deviceID,
		UserID:    userID,
		Trusted:   fields["trusted"] == "1",
		Active:    fields["active"] == "1",
		LastIP:    fields["last_ip"],
		UserAgent: fields["user_agent"],
	}
	record.FirstSeen, _ = strconv.ParseInt(fields["first_seen"], 10, 64)
	record.LastUsed, _ = strconv.ParseInt(fields["last_used"], 10, 64)
	return record
}
