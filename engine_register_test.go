package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterCreatesAccountAndLogsIn(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	ctx := context.Background()

	result := h.register(t, email, ClientMeta{IP: "10.0.0.1", DeviceID: "phone"})
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("no token pair issued")
	}
	if result.Identity.EmailVerified {
		t.Fatal("fresh account born verified")
	}

	account, err := h.accounts.GetByID(ctx, result.Identity.UserID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !account.Active {
		t.Fatal("fresh account not active")
	}
	if account.PasswordHash == testPassword {
		t.Fatal("password stored in plaintext")
	}

	// Registration opens a session immediately.
	sessions, err := h.engine.Sessions(ctx, result.Identity.UserID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].Active {
		t.Fatalf("sessions: %+v", sessions)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	h.register(t, email, ClientMeta{})

	_, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:    email,
		Password: testPassword,
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("got %v, want ErrEmailExists", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	cases := []RegisterRequest{
		{Email: "", Password: testPassword},
		{Email: "no-at-sign", Password: testPassword},
		{Email: "@nolocal.test", Password: testPassword},
		{Email: "trailing@", Password: testPassword},
		{Email: "a@b.test", Password: "short"},
	}
	for _, req := range cases {
		if _, err := h.engine.Register(ctx, req); !errors.Is(err, ErrValidation) {
			t.Errorf("Register(%q/%q): %v, want ErrValidation", req.Email, req.Password, err)
		}
	}
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	h := newTestHarness(t)

	reg := h.register(t, uniqueEmail(), ClientMeta{})
	if len(reg.Identity.Roles) != 1 || reg.Identity.Roles[0] != "user" {
		t.Fatalf("roles on first issuance = %v, want [user]", reg.Identity.Roles)
	}

	stored, err := h.roles.RolesForAccount(context.Background(), reg.Identity.UserID)
	if err != nil {
		t.Fatalf("RolesForAccount: %v", err)
	}
	if len(stored) != 1 || stored[0] != "user" {
		t.Fatalf("stored roles = %v, want [user]", stored)
	}
}

func TestRegisterWithRoles(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	reg := h.register(t, email, ClientMeta{})
	ctx := context.Background()

	if err := h.engine.AssignRole(ctx, reg.Identity.UserID, "admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	// Granted roles join the default one at the next issuance.
	result := h.login(t, email, ClientMeta{})
	if len(result.Identity.Roles) != 2 || result.Identity.Roles[0] != "user" || result.Identity.Roles[1] != "admin" {
		t.Fatalf("roles = %v, want [user admin]", result.Identity.Roles)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	reg := h.register(t, email, ClientMeta{})
	ctx := context.Background()

	token, err := h.engine.RequestEmailVerification(ctx, reg.Identity.UserID)
	if err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	if token == "" {
		t.Fatal("no token issued")
	}

	if err := h.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	account, err := h.accounts.GetByID(ctx, reg.Identity.UserID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !account.EmailVerified {
		t.Fatal("email not marked verified")
	}

	// Single use.
	if err := h.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second use: %v, want ErrInvalidToken", err)
	}

	// Already verified: a new request is rejected.
	if _, err := h.engine.RequestEmailVerification(ctx, reg.Identity.UserID); !errors.Is(err, ErrValidation) {
		t.Fatalf("request after verify: %v, want ErrValidation", err)
	}
}

func TestVerifyEmailGarbageToken(t *testing.T) {
	h := newTestHarness(t)

	if err := h.engine.VerifyEmail(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestDeactivateAccountRevokesEverything(t *testing.T) {
	h := newTestHarness(t)
	email := uniqueEmail()
	reg := h.register(t, email, ClientMeta{})
	second := h.login(t, email, ClientMeta{})
	ctx := context.Background()

	if err := h.engine.DeactivateAccount(ctx, reg.Identity.UserID); err != nil {
		t.Fatalf("DeactivateAccount: %v", err)
	}

	for _, token := range []string{reg.RefreshToken, second.RefreshToken} {
		if _, err := h.engine.Refresh(ctx, token); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("refresh after deactivation: %v, want ErrTokenRevoked", err)
		}
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: email, Password: testPassword}); !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("login after deactivation: %v, want ErrAccountDeactivated", err)
	}

	// Idempotent.
	if err := h.engine.DeactivateAccount(ctx, reg.Identity.UserID); err != nil {
		t.Fatalf("second DeactivateAccount: %v", err)
	}
}
