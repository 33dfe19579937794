package authcore

import (
	"errors"
	"time"
)

// Config groups all engine settings. Zero values are filled by
// defaultConfig(); [Builder.Build] validates the merged result.
type Config struct {
	JWT               JWTConfig
	Password          PasswordConfig
	Account           AccountConfig
	Lockout           LockoutConfig
	Session           SessionConfig
	MFA               MFAConfig
	PasswordReset     ResetConfig
	EmailVerification ResetConfig
	Audit             AuditConfig
	Events            EventsConfig
	Metrics           MetricsConfig
	Sweep             SweepConfig
}

// JWTConfig controls token issuance. Access and refresh secrets must differ
// so that leaking one never forges the other's trust boundary.
type JWTConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// PasswordConfig carries the argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MinLength applies to plaintext passwords at registration/change/reset.
	MinLength int
	// UpgradeOnLogin rehashes with current parameters when a verified hash
	// was produced with weaker ones.
	UpgradeOnLogin bool
}

// AccountConfig controls account creation.
type AccountConfig struct {
	// DefaultRole is granted to every new account at registration when a
	// role store is wired. Empty disables the grant.
	DefaultRole string
}

// LockoutConfig controls brute-force lockout on the account record.
type LockoutConfig struct {
	// MaxAttempts is the failed-login count at which the account locks.
	MaxAttempts int
	// Duration is how long a triggered lock holds.
	Duration time.Duration
}

// SessionConfig controls the session/device registry.
type SessionConfig struct {
	RedisPrefix string
	Lifetime    time.Duration
	// HistorySize caps the per-account login-history list the suspicious
	// login heuristic reads from.
	HistorySize int
}

// MFAConfig controls TOTP enrollment and verification.
type MFAConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	// Skew is the number of adjacent time steps accepted on either side of
	// the current one.
	Skew            int
	BackupCodeCount int
}

// ResetConfig is shared by the password-reset and email-verification flows:
// single-use, time-boxed tokens.
type ResetConfig struct {
	TokenTTL time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events under backpressure instead of blocking the
	// emitting request.
	DropIfFull bool
}

// EventsConfig controls domain-event publishing.
type EventsConfig struct {
	// Source is stamped on every published payload.
	Source string
	// PublishTimeout bounds each background publish attempt.
	PublishTimeout time.Duration
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// SweepConfig controls the periodic expired-session sweep.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
			Leeway:     30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   10,
		},
		Account: AccountConfig{DefaultRole: "user"},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix: "ac",
			Lifetime:    30 * 24 * time.Hour,
			HistorySize: 100,
		},
		MFA: MFAConfig{
			Issuer:          "authcore",
			Digits:          6,
			Period:          30,
			Algorithm:       "SHA1",
			Skew:            1,
			BackupCodeCount: 10,
		},
		PasswordReset:     ResetConfig{TokenTTL: time.Hour},
		EmailVerification: ResetConfig{TokenTTL: 24 * time.Hour},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Events: EventsConfig{
			Source:         "auth-service",
			PublishTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
		Sweep: SweepConfig{
			Interval: 10 * time.Minute,
		},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if len(c.JWT.AccessSecret) < 32 {
		return errors.New("jwt access secret must be at least 32 bytes")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		return errors.New("jwt refresh secret must be at least 32 bytes")
	}
	if string(c.JWT.AccessSecret) == string(c.JWT.RefreshSecret) {
		return errors.New("jwt access and refresh secrets must differ")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt TTLs must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("refresh TTL must exceed access TTL")
	}
	if c.Lockout.MaxAttempts < 1 {
		return errors.New("lockout max attempts must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if c.Session.HistorySize < 10 {
		return errors.New("session history size must be >= 10")
	}
	if c.MFA.Digits < 6 || c.MFA.Digits > 8 {
		return errors.New("mfa digits must be 6..8")
	}
	if c.MFA.Period <= 0 {
		return errors.New("mfa period must be positive")
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 2 {
		return errors.New("mfa skew must be 0..2")
	}
	if c.MFA.BackupCodeCount < 1 {
		return errors.New("mfa backup code count must be >= 1")
	}
	if c.PasswordReset.TokenTTL <= 0 || c.EmailVerification.TokenTTL <= 0 {
		return errors.New("reset/verification token TTLs must be positive")
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return errors.New("sweep interval must be positive when sweep is enabled")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
