package authcore

import (
	"context"
	"time"
)

// Account is the identity anchor persisted by the caller's [AccountStore].
// Accounts are never hard-deleted; deactivation flips Active.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	Active        bool

	FailedAttempts int
	LockUntil      *time.Time

	MFAEnabled bool
	// MFASecret is the raw TOTP shared secret. Sensitive; never returned to
	// callers except once, base32-encoded, at enrollment.
	MFASecret []byte
}

// AccountStore is the persistence interface callers implement to integrate
// authcore with their user database. Lookups that miss must return
// a [NotFoundError] (or any error matching ErrNotFound).
//
// IncrementFailedAttempts and ConsumeBackupCode are correctness-critical:
// both must be atomic per row (single conditional write), not read-then-write.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	// Create fails with an error matching ErrEmailExists on duplicate email.
	Create(ctx context.Context, account *Account) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// IncrementFailedAttempts atomically bumps the failed-login counter and
	// returns the post-increment value.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	// ResetFailedAttempts zeroes the counter and clears any lock expiry.
	ResetFailedAttempts(ctx context.Context, id string) error
	SetLockUntil(ctx context.Context, id string, until time.Time) error

	SetEmailVerified(ctx context.Context, id string, verified bool) error
	SetActive(ctx context.Context, id string, active bool) error

	// EnableMFA stores the shared secret and the hashes of the backup codes
	// and flips the MFA-enabled flag in one write.
	EnableMFA(ctx context.Context, id string, secret []byte, codeHashes [][32]byte) error
	DisableMFA(ctx context.Context, id string) error
	// ConsumeBackupCode removes the matching hash and reports whether it was
	// present. Removal and match must be one atomic operation so a backup
	// code can never verify twice.
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error)
}

// RoleStore resolves role names for an account at token-issuance time.
type RoleStore interface {
	RolesForAccount(ctx context.Context, accountID string) ([]string, error)
	AssignRole(ctx context.Context, accountID, role string) error
}

// ClientMeta carries the network/device context of an inbound request.
// All fields are optional; empty values simply reduce heuristic signal.
type ClientMeta struct {
	IP string
	// DeviceID is a stable client-supplied fingerprint.
	DeviceID  string
	UserAgent string
	Location  string
}

// Identity is the sanitized account view returned with a token pair.
type Identity struct {
	UserID        string
	Email         string
	Roles         []string
	EmailVerified bool
	MFAEnabled    bool
}

// AuthResult is returned by Register, Login, and Refresh.
type AuthResult struct {
	Identity Identity

	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time

	// Suspicion is advisory signal from the login heuristic. It is populated
	// on Login only and never blocks the login itself.
	Suspicion *SuspicionResult
}

// SessionInfo is the management view of one logical session.
type SessionInfo struct {
	Token        string
	UserID       string
	DeviceID     string
	IP           string
	UserAgent    string
	Location     string
	Active       bool
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// DeviceInfo is the management view of one fingerprinted device.
type DeviceInfo struct {
	DeviceID  string
	UserID    string
	Trusted   bool
	Active    bool
	FirstSeen time.Time
	LastUsed  time.Time
	LastIP    string
	UserAgent string
}

// MFAEnrollment is returned once from EnableMFA. BackupCodes are the only
// plaintext copies that will ever exist.
type MFAEnrollment struct {
	SecretBase32 string
	OTPAuthURI   string
	BackupCodes  []string
}

// MFAVerification reports the outcome of a code check.
type MFAVerification struct {
	Valid        bool
	IsBackupCode bool
}

// SuspicionResult is the output of the login-scoring heuristic.
// Score is clamped to [0,100]; Suspicious is true at Score >= 30.
type SuspicionResult struct {
	Score      int
	Suspicious bool
	Reasons    []string
}

// RegisterRequest is the input DTO for Engine.Register.
type RegisterRequest struct {
	Email    string
	Password string
	Meta     ClientMeta
}

// LoginRequest is the input DTO for Engine.Login.
type LoginRequest struct {
	Email    string
	Password string
	Meta     ClientMeta
}
