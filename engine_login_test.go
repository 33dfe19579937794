package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginSuccess(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	h.register(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "dev-1"})

	result := h.login(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "dev-1"})
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("missing tokens")
	}
	if result.Identity.Email != email {
		t.Fatalf("identity email = %q", result.Identity.Email)
	}
	if !result.AccessExpiresAt.Before(result.RefreshExpiresAt) {
		t.Fatal("access token outlives refresh token")
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.engine.Login(context.Background(), LoginRequest{
		Email:    "nobody@example.test",
		Password: "whatever-password",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	h.register(t, email, ClientMeta{})

	_, err := h.engine.Login(context.Background(), LoginRequest{
		Email:    email,
		Password: "not the password",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginValidation(t *testing.T) {
	h := newTestHarness(t)

	cases := []LoginRequest{
		{Email: "", Password: "x"},
		{Email: "a@b.test", Password: ""},
	}
	for _, req := range cases {
		if _, err := h.engine.Login(context.Background(), req); !errors.Is(err, ErrValidation) {
			t.Errorf("Login(%+v): %v, want ErrValidation", req, err)
		}
	}
}

func TestLoginLockoutAfterMaxAttempts(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	result := h.register(t, email, ClientMeta{})
	ctx := context.Background()

	bad := LoginRequest{Email: email, Password: "not the password"}
	for i := 0; i < 4; i++ {
		if _, err := h.engine.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// The fifth failure trips the lock.
	_, err := h.engine.Login(ctx, bad)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("fifth failure: %v, want ErrAccountLocked", err)
	}
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("error is not *LockedError: %v", err)
	}
	if locked.Remaining < 1 {
		t.Fatalf("remaining = %d", locked.Remaining)
	}

	// The correct password is rejected while the lock holds.
	good := LoginRequest{Email: email, Password: testPassword}
	if _, err := h.engine.Login(ctx, good); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("correct password during lock: %v, want ErrAccountLocked", err)
	}

	// After the lock expires the correct password works and the counter
	// resets.
	h.advance(16 * time.Minute)
	if _, err := h.engine.Login(ctx, good); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}

	account, err := h.accounts.GetByID(ctx, result.Identity.UserID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if account.FailedAttempts != 0 || account.LockUntil != nil {
		t.Fatalf("counter not reset: attempts=%d lock=%v", account.FailedAttempts, account.LockUntil)
	}
}

func TestLoginFailureCounterResetsOnSuccess(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	result := h.register(t, email, ClientMeta{})
	ctx := context.Background()

	bad := LoginRequest{Email: email, Password: "not the password"}
	for i := 0; i < 3; i++ {
		if _, err := h.engine.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	h.login(t, email, ClientMeta{})

	account, err := h.accounts.GetByID(ctx, result.Identity.UserID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if account.FailedAttempts != 0 {
		t.Fatalf("attempts = %d after successful login", account.FailedAttempts)
	}

	// The window reopens in full: three more failures do not lock.
	for i := 0; i < 3; i++ {
		if _, err := h.engine.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d: %v", i+1, err)
		}
	}
}

func TestLoginDeactivatedAccount(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	result := h.register(t, email, ClientMeta{})
	ctx := context.Background()

	if err := h.engine.DeactivateAccount(ctx, result.Identity.UserID); err != nil {
		t.Fatalf("DeactivateAccount: %v", err)
	}

	_, err := h.engine.Login(ctx, LoginRequest{Email: email, Password: testPassword})
	if !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("got %v, want ErrAccountDeactivated", err)
	}
}

func TestLoginSuspicionNewDevice(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	h.register(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "dev-1"})

	// Same IP and device: trusted? Device exists but untrusted, so a small
	// score; a brand-new device crosses the threshold.
	known := h.login(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "dev-1"})
	if known.Suspicion == nil {
		t.Fatal("no suspicion result")
	}
	if known.Suspicion.Suspicious {
		t.Fatalf("known device flagged suspicious: %+v", known.Suspicion)
	}

	fresh := h.login(t, email, ClientMeta{IP: "203.0.113.9", DeviceID: "never-seen"})
	if fresh.Suspicion == nil {
		t.Fatal("no suspicion result")
	}
	if !fresh.Suspicion.Suspicious {
		t.Fatalf("new device + new ip not flagged: %+v", fresh.Suspicion)
	}
	if fresh.Suspicion.Score < weightUnknownDevice {
		t.Fatalf("score = %d", fresh.Suspicion.Score)
	}
}

func TestLoginSuspicionNeverBlocks(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	h.register(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "dev-1"})

	// Stack every signal; the login must still succeed.
	result := h.login(t, email, ClientMeta{IP: "198.51.100.7", DeviceID: "stolen-laptop"})
	if result.AccessToken == "" {
		t.Fatal("suspicious login did not return tokens")
	}
}

func TestLoginTrustedDeviceScoresLower(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	reg := h.register(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "dev-1"})
	ctx := context.Background()

	untrusted := h.login(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "dev-1"})

	if err := h.engine.TrustDevice(ctx, reg.Identity.UserID, "dev-1", true); err != nil {
		t.Fatalf("TrustDevice: %v", err)
	}
	trusted := h.login(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "dev-1"})

	if trusted.Suspicion.Score >= untrusted.Suspicion.Score {
		t.Fatalf("trusting the device did not lower the score: %d -> %d",
			untrusted.Suspicion.Score, trusted.Suspicion.Score)
	}
}
