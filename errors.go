package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email and password mismatch alike,
	// so callers cannot distinguish account existence from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is matched by [LockedError] values via errors.Is.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDeactivated is returned when the account's active flag is off.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrInvalidToken is returned for malformed, badly signed, or wrong-type tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned when a refresh token was already rotated or revoked.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenExpired is returned for structurally valid but expired tokens.
	ErrTokenExpired = errors.New("token expired")
	// ErrNotFound is matched by [NotFoundError] values via errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned on ownership mismatch (session or device
	// belonging to a different account).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmailExists is returned when registration hits a duplicate email.
	ErrEmailExists = errors.New("email already registered")
	// ErrMFAAlreadyEnabled is returned on duplicate MFA enrollment.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnabled is returned when verifying or disabling MFA on an
	// account that never enrolled.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrValidation is returned for malformed inputs (empty email, short password).
	ErrValidation = errors.New("validation failed")
	// ErrEngineNotReady is returned when a method is called on an engine that
	// was not built through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError reports an active lockout together with the time left on it.
// errors.Is(err, ErrAccountLocked) matches.
type LockedError struct {
	Until time.Time
	// Remaining is rounded up to whole minutes; always >= 1 while the lock holds.
	Remaining int
}

func newLockedError(until time.Time, now time.Time) *LockedError {
	mins := 0
	if d := until.Sub(now); d > 0 {
		mins = int((d + time.Minute - 1) / time.Minute)
	}
	if mins < 1 {
		mins = 1
	}
	return &LockedError{Until: until, Remaining: mins}
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.Remaining)
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// NotFoundError names the missing resource ("session", "device", "account").
// errors.Is(err, ErrNotFound) matches.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
