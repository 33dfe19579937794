package stores

import (
	"errors"
	"testing"
	"time"
)

func makeSession(token, userID, deviceID string, now time.Time) *SessionRecord {
	return &SessionRecord{
		Token:        token,
		UserID:       userID,
		RefreshJTI:   "jti-" + token,
		DeviceID:     deviceID,
		IP:           "10.0.0.1",
		UserAgent:    "test-agent",
		Active:       true,
		CreatedAt:    now.Unix(),
		LastActivity: now.Unix(),
		ExpiresAt:    now.Add(time.Hour).Unix(),
	}
}

func TestSessionCreateAndGet(t *testing.T) {
	store := NewSessionStore(newTestRedis(t), "t")
	ctx := testCtx()
	now := time.Now()

	if err := store.Create(ctx, makeSession("s1", "user-1", "dev-1", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" || got.DeviceID != "dev-1" || !got.Active {
		t.Fatalf("got %+v", got)
	}
	if got.RefreshJTI != "jti-s1" {
		t.Fatalf("refresh jti = %q", got.RefreshJTI)
	}
}

func TestSessionUserIndexExpires(t *testing.T) {
	client := newTestRedis(t)
	store := NewSessionStore(client, "t")
	ctx := testCtx()
	now := time.Now()

	if err := store.Create(ctx, makeSession("s1", "user-1", "", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The per-user index carries a TTL like the record itself, so the set of
	// a gone user does not outlive its sessions.
	ttl, err := client.TTL(ctx, "t:sessu:user-1").Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("user index has no expiry, ttl = %v", ttl)
	}
	if ttl > 25*time.Hour+time.Hour {
		t.Fatalf("user index ttl = %v, want about record ttl plus a day", ttl)
	}
}

func TestSessionTouchRelinksRefresh(t *testing.T) {
	store := NewSessionStore(newTestRedis(t), "t")
	ctx := testCtx()
	now := time.Now()

	if err := store.Create(ctx, makeSession("s1", "user-1", "", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	later := now.Add(10 * time.Minute)
	if err := store.Touch(ctx, "s1", later, "rotated-jti"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastActivity != later.Unix() {
		t.Fatalf("last activity = %d, want %d", got.LastActivity, later.Unix())
	}
	if got.RefreshJTI != "rotated-jti" {
		t.Fatalf("refresh jti = %q", got.RefreshJTI)
	}

	if err := store.Touch(ctx, "missing", later, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Touch missing: %v", err)
	}
}

func TestSessionRevokeIsIdempotent(t *testing.T) {
	store := NewSessionStore(newTestRedis(t), "t")
	ctx := testCtx()
	now := time.Now()

	if err := store.Create(ctx, makeSession("s1", "user-1", "", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := store.Revoke(ctx, "s1", now)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !first {
		t.Fatal("first revoke did not report success")
	}

	second, err := store.Revoke(ctx, "s1", now)
	if err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if second {
		t.Fatal("second revoke reported success again")
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Active || got.RevokedAt == 0 {
		t.Fatalf("session not revoked: %+v", got)
	}
}

func TestSessionRevokeAllExcept(t *testing.T) {
	store := NewSessionStore(newTestRedis(t), "t")
	ctx := testCtx()
	now := time.Now()

	for _, token := range []string{"s1", "s2", "s3"} {
		if err := store.Create(ctx, makeSession(token, "user-1", "", now), time.Hour); err != nil {
			t.Fatalf("Create %s: %v", token, err)
		}
	}

	revoked, err := store.RevokeAllForUser(ctx, "user-1", now, "s2")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}

	kept, err := store.Get(ctx, "s2")
	if err != nil {
		t.Fatalf("Get s2: %v", err)
	}
	if !kept.Active {
		t.Fatal("excepted session was revoked")
	}
	for _, token := range []string{"s1", "s3"} {
		got, err := store.Get(ctx, token)
		if err != nil {
			t.Fatalf("Get %s: %v", token, err)
		}
		if got.Active {
			t.Fatalf("session %s still active", token)
		}
	}
}

func TestSessionRevokeByDevice(t *testing.T) {
	store := NewSessionStore(newTestRedis(t), "t")
	ctx := testCtx()
	now := time.Now()

	if err := store.Create(ctx, makeSession("phone1", "user-1", "phone", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, makeSession("phone2", "user-1", "phone", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, makeSession("laptop1", "user-1", "laptop", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	revoked, err := store.RevokeByDevice(ctx, "user-1", "phone", now)
	if err != nil {
		t.Fatalf("RevokeByDevice: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}

	laptop, err := store.Get(ctx, "laptop1")
	if err != nil {
		t.Fatalf("Get laptop1: %v", err)
	}
	if !laptop.Active {
		t.Fatal("unrelated device's session was revoked")
	}
}

func TestSessionListByUser(t *testing.T) {
	store := NewSessionStore(newTestRedis(t), "t")
	ctx := testCtx()
	now := time.Now()

	if err := store.Create(ctx, makeSession("s1", "user-1", "", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, makeSession("s2", "user-1", "", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, makeSession("other", "user-2", "", now), time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sessions, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	for _, session := range sessions {
		if session.UserID != "user-1" {
			t.Fatalf("foreign session listed: %+v", session)
		}
	}
}

func TestSessionSweepExpired(t *testing.T) {
	store := NewSessionStore(newTestRedis(t), "t")
	ctx := testCtx()
	now := time.Now()

	expired := makeSession("old", "user-1", "", now)
	expired.ExpiresAt = now.Add(-time.Minute).Unix()
	if err := store.Create(ctx, expired, time.Hour); err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	if err := store.Create(ctx, makeSession("fresh", "user-1", "", now), time.Hour); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}

	swept, err := store.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	old, err := store.Get(ctx, "old")
	if err != nil {
		t.Fatalf("Get old: %v", err)
	}
	if old.Active {
		t.Fatal("expired session still active")
	}
	fresh, err := store.Get(ctx, "fresh")
	if err != nil {
		t.Fatalf("Get fresh: %v", err)
	}
	if !fresh.Active {
		t.Fatal("fresh session was swept")
	}

	again, err := store.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("second SweepExpired: %v", err)
	}
	if again != 0 {
		t.Fatalf("second sweep revoked %d sessions", again)
	}
}
