package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestChangePassword(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	reg := h.register(t, email, ClientMeta{})
	ctx := context.Background()

	err := h.engine.ChangePassword(ctx, reg.Identity.UserID, testPassword, "a whole new passphrase")
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Every outstanding credential is revoked.
	if _, err := h.engine.Refresh(ctx, reg.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("old refresh token after change: %v, want ErrTokenRevoked", err)
	}

	// The old password is gone, the new one works.
	if _, err := h.engine.Login(ctx, LoginRequest{Email: email, Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: %v, want ErrInvalidCredentials", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: email, Password: "a whole new passphrase"}); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	reg := h.register(t, email, ClientMeta{})
	ctx := context.Background()

	err := h.engine.ChangePassword(ctx, reg.Identity.UserID, "not the password", "a whole new passphrase")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}

	// Nothing was revoked.
	if _, err := h.engine.Refresh(ctx, reg.RefreshToken); err != nil {
		t.Fatalf("refresh after rejected change: %v", err)
	}
}

func TestChangePasswordTooShort(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	reg := h.register(t, email, ClientMeta{})

	err := h.engine.ChangePassword(context.Background(), reg.Identity.UserID, testPassword, "short")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	reg := h.register(t, email, ClientMeta{})
	ctx := context.Background()

	token, err := h.engine.RequestPasswordReset(ctx, email)
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token == "" {
		t.Fatal("no token issued")
	}

	if err := h.engine.ResetPassword(ctx, token, "a whole new passphrase"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	// Sessions and refresh tokens from before the reset are dead.
	if _, err := h.engine.Refresh(ctx, reg.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("old refresh after reset: %v, want ErrTokenRevoked", err)
	}

	if _, err := h.engine.Login(ctx, LoginRequest{Email: email, Password: "a whole new passphrase"}); err != nil {
		t.Fatalf("login with reset password: %v", err)
	}
}

func TestPasswordResetTokenSingleUse(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	h.register(t, email, ClientMeta{})
	ctx := context.Background()

	token, err := h.engine.RequestPasswordReset(ctx, email)
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := h.engine.ResetPassword(ctx, token, "a whole new passphrase"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	err = h.engine.ResetPassword(ctx, token, "yet another passphrase")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second use: %v, want ErrInvalidToken", err)
	}
}

func TestPasswordResetReissueInvalidatesPrevious(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	h.register(t, email, ClientMeta{})
	ctx := context.Background()

	first, err := h.engine.RequestPasswordReset(ctx, email)
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	second, err := h.engine.RequestPasswordReset(ctx, email)
	if err != nil {
		t.Fatalf("second RequestPasswordReset: %v", err)
	}

	if err := h.engine.ResetPassword(ctx, first, "a whole new passphrase"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("stale token: %v, want ErrInvalidToken", err)
	}
	if err := h.engine.ResetPassword(ctx, second, "a whole new passphrase"); err != nil {
		t.Fatalf("current token: %v", err)
	}
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	h := newTestHarness(t)

	token, err := h.engine.RequestPasswordReset(context.Background(), "nobody@example.test")
	if err != nil {
		t.Fatalf("unknown email returned error: %v", err)
	}
	if token != "" {
		t.Fatal("token issued for unknown email")
	}
}

func TestPasswordResetClearsLockout(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	h.register(t, email, ClientMeta{})
	ctx := context.Background()

	// Lock the account.
	bad := LoginRequest{Email: email, Password: "not the password"}
	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, bad)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: email, Password: testPassword}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lock, got %v", err)
	}

	token, err := h.engine.RequestPasswordReset(ctx, email)
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := h.engine.ResetPassword(ctx, token, "a whole new passphrase"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	// The reset clears the lock; no waiting out the window.
	if _, err := h.engine.Login(ctx, LoginRequest{Email: email, Password: "a whole new passphrase"}); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}

func TestPasswordResetGarbageToken(t *testing.T) {
	h := newTestHarness(t)

	err := h.engine.ResetPassword(context.Background(), "garbage-token", "a whole new passphrase")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}
