package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHistoryUnavailable wraps backend failures of the login history.
var ErrHistoryUnavailable = errors.New("login history unavailable")

// Attempt is one recorded login attempt, successful or not. Attempts for
// unknown emails are recorded under a shared anonymous key so they still
// feed the per-IP failure counters.
type Attempt struct {
	Timestamp int64  `json:"ts"`
	Success   bool   `json:"ok"`
	IP        string `json:"ip,omitempty"`
	DeviceID  string `json:"dev,omitempty"`
	UserAgent string `json:"ua,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ipFailureWindow bounds how long a failed attempt counts against an IP.
const ipFailureWindow = time.Hour

// HistoryStore keeps a capped per-account list of recent login attempts plus
// rolling per-IP failure counters for the suspicion heuristic.
type HistoryStore struct {
	redis  redis.UniversalClient
	prefix string
	cap    int64
}

func NewHistoryStore(redisClient redis.UniversalClient, prefix string, capacity int) *HistoryStore {
	if prefix == "" {
		prefix = "ac"
	}
	if capacity <= 0 {
		capacity = 100
	}
	return &HistoryStore{redis: redisClient, prefix: prefix, cap: int64(capacity)}
}

func (s *HistoryStore) key(userID string) string {
	if userID == "" {
		userID = "anon"
	}
	return s.prefix + ":hist:" + userID
}

func (s *HistoryStore) ipKey(ip string) string {
	return s.prefix + ":ipf:" + ip
}

// Append records an attempt, trimming the list to the configured capacity.
// A failed attempt also bumps the source IP's rolling counter.
func (s *HistoryStore) Append(ctx context.Context, userID string, attempt *Attempt) error {
	raw, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	key := s.key(userID)
	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, s.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	if !attempt.Success && attempt.IP != "" {
		if err := s.recordIPFailure(ctx, attempt.IP); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to n attempts, newest first.
func (s *HistoryStore) Recent(ctx context.Context, userID string, n int) ([]*Attempt, error) {
	if n <= 0 {
		n = int(s.cap)
	}
	raws, err := s.redis.LRange(ctx, s.key(userID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	out := make([]*Attempt, 0, len(raws))
	for _, raw := range raws {
		var attempt Attempt
		if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
			continue
		}
		out = append(out, &attempt)
	}
	return out, nil
}

// IPFailures returns the number of failed attempts seen from ip within the
// rolling window.
func (s *HistoryStore) IPFailures(ctx context.Context, ip string) (int, error) {
	if ip == "" {
		return 0, nil
	}
	count, err := s.redis.Get(ctx, s.ipKey(ip)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	return count, nil
}

func (s *HistoryStore) recordIPFailure(ctx context.Context, ip string) error {
	count, err := s.redis.Incr(ctx, s.ipKey(ip)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	if count == 1 {
		// Window starts at the first failure; later failures ride the
		// existing TTL so the counter cannot live forever.
		_ = s.redis.Expire(ctx, s.ipKey(ip), ipFailureWindow).Err()
	}
	return nil
}
