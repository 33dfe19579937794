package stores

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssueAndConsume(t *testing.T) {
	store := NewTokenStore(newTestRedis(t), "t")
	ctx := testCtx()

	if err := store.Issue(ctx, PurposePasswordReset, "user-1", "hash-a", time.Hour); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	userID, err := store.Consume(ctx, PurposePasswordReset, "hash-a")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q", userID)
	}
}

func TestTokenSingleUse(t *testing.T) {
	store := NewTokenStore(newTestRedis(t), "t")
	ctx := testCtx()

	if err := store.Issue(ctx, PurposePasswordReset, "user-1", "hash-a", time.Hour); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "hash-a"); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "hash-a"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("second Consume: %v, want ErrTokenNotFound", err)
	}
}

func TestTokenReissueInvalidatesPrevious(t *testing.T) {
	store := NewTokenStore(newTestRedis(t), "t")
	ctx := testCtx()

	if err := store.Issue(ctx, PurposePasswordReset, "user-1", "hash-a", time.Hour); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := store.Issue(ctx, PurposePasswordReset, "user-1", "hash-b", time.Hour); err != nil {
		t.Fatalf("reissue: %v", err)
	}

	if _, err := store.Consume(ctx, PurposePasswordReset, "hash-a"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("stale token consumed: %v", err)
	}
	userID, err := store.Consume(ctx, PurposePasswordReset, "hash-b")
	if err != nil {
		t.Fatalf("Consume current: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q", userID)
	}
}

func TestTokenPurposesAreIsolated(t *testing.T) {
	store := NewTokenStore(newTestRedis(t), "t")
	ctx := testCtx()

	if err := store.Issue(ctx, PurposePasswordReset, "user-1", "hash-a", time.Hour); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := store.Consume(ctx, PurposeEmailVerification, "hash-a"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("reset token redeemed as verification token: %v", err)
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "hash-a"); err != nil {
		t.Fatalf("token gone after cross-purpose attempt: %v", err)
	}
}

func TestTokenUnknownHash(t *testing.T) {
	store := NewTokenStore(newTestRedis(t), "t")

	if _, err := store.Consume(testCtx(), PurposePasswordReset, "nope"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("got %v, want ErrTokenNotFound", err)
	}
}
