package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shoplane/authcore/events"
	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
	"github.com/shoplane/authcore/internal/stores"
	"github.com/shoplane/authcore/jwt"
	"github.com/shoplane/authcore/password"
)

// Builder wires an [Engine] from explicit dependencies. Every collaborator
// is passed in; the engine owns nothing it did not create itself.
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithAccountStore(accounts).
//		Build()
type Builder struct {
	config    Config
	hasConfig bool

	redis     redis.UniversalClient
	accounts  AccountStore
	roles     RoleStore
	publisher events.Publisher
	sink      audit.Sink
	logger    *zap.Logger
}

// New starts a builder with default configuration.
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration. Zero-valued sections are
// filled back in from defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	b.hasConfig = true
	return b
}

// WithRedis sets the client backing sessions, devices, the refresh ledger,
// login history, and single-use tokens. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the caller's account persistence. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithRoleStore sets the role resolver. Optional; without one every token
// carries no roles.
func (b *Builder) WithRoleStore(store RoleStore) *Builder {
	b.roles = store
	return b
}

// WithEventPublisher sets the domain-event transport. Optional; defaults to
// a no-op publisher.
func (b *Builder) WithEventPublisher(p events.Publisher) *Builder {
	b.publisher = p
	return b
}

// WithAuditSink sets where audit events land. Optional; without one the
// audit trail is disabled regardless of configuration.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger. Optional; defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the wiring and returns a running engine. The engine's
// background workers (audit dispatcher, session sweeper) start here and stop
// on [Engine.Close].
func (b *Builder) Build() (*Engine, error) {
	cfg := defaultConfig()
	if b.hasConfig {
		cfg = mergeConfig(cfg, b.config)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store is required")
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := b.publisher
	if publisher == nil {
		publisher = events.NoOpPublisher{}
	}

	auditCfg := audit.Config{
		Enabled:    cfg.Audit.Enabled && b.sink != nil,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}

	prefix := cfg.Session.RedisPrefix
	engine := &Engine{
		config:    cfg,
		logger:    logger,
		accounts:  b.accounts,
		roles:     b.roles,
		publisher: publisher,
		hasher:    hasher,
		tokens:    tokens,
		totp:      newTOTPManager(cfg.MFA),
		refresh:   stores.NewRefreshStore(b.redis, prefix),
		sessions:  stores.NewSessionStore(b.redis, prefix),
		devices:   stores.NewDeviceStore(b.redis, prefix),
		history:   stores.NewHistoryStore(b.redis, prefix, cfg.Session.HistorySize),
		oneTime:   stores.NewTokenStore(b.redis, prefix),
		audit:     audit.NewDispatcher(auditCfg, b.sink),
		metrics:   metrics.New(metrics.Config{Enabled: cfg.Metrics.Enabled}),
		now:       time.Now,
		done:      make(chan struct{}),
	}

	if cfg.Sweep.Enabled {
		engine.wg.Add(1)
		go engine.sweepLoop(cfg.Sweep.Interval)
	}

	return engine, nil
}

// mergeConfig lays user overrides on top of defaults, section by section.
// A fully zero section means "use defaults"; a partially set section is
// taken as given and left to Validate.
func mergeConfig(base, override Config) Config {
	out := override

	if out.JWT.AccessTTL == 0 {
		out.JWT.AccessTTL = base.JWT.AccessTTL
	}
	if out.JWT.RefreshTTL == 0 {
		out.JWT.RefreshTTL = base.JWT.RefreshTTL
	}
	if out.JWT.Issuer == "" {
		out.JWT.Issuer = base.JWT.Issuer
	}
	if out.JWT.Leeway == 0 {
		out.JWT.Leeway = base.JWT.Leeway
	}
	if out.Password == (PasswordConfig{}) {
		out.Password = base.Password
	}
	if out.Account == (AccountConfig{}) {
		out.Account = base.Account
	}
	if out.Lockout == (LockoutConfig{}) {
		out.Lockout = base.Lockout
	}
	if out.Session == (SessionConfig{}) {
		out.Session = base.Session
	} else {
		if out.Session.RedisPrefix == "" {
			out.Session.RedisPrefix = base.Session.RedisPrefix
		}
		if out.Session.Lifetime == 0 {
			out.Session.Lifetime = base.Session.Lifetime
		}
		if out.Session.HistorySize == 0 {
			out.Session.HistorySize = base.Session.HistorySize
		}
	}
	if out.MFA == (MFAConfig{}) {
		out.MFA = base.MFA
	} else {
		if out.MFA.Issuer == "" {
			out.MFA.Issuer = base.MFA.Issuer
		}
		if out.MFA.Digits == 0 {
			out.MFA.Digits = base.MFA.Digits
		}
		if out.MFA.Period == 0 {
			out.MFA.Period = base.MFA.Period
		}
		if out.MFA.Algorithm == "" {
			out.MFA.Algorithm = base.MFA.Algorithm
		}
		if out.MFA.BackupCodeCount == 0 {
			out.MFA.BackupCodeCount = base.MFA.BackupCodeCount
		}
	}
	if out.PasswordReset.TokenTTL == 0 {
		out.PasswordReset.TokenTTL = base.PasswordReset.TokenTTL
	}
	if out.EmailVerification.TokenTTL == 0 {
		out.EmailVerification.TokenTTL = base.EmailVerification.TokenTTL
	}
	if out.Audit == (AuditConfig{}) {
		out.Audit = base.Audit
	}
	if out.Metrics == (MetricsConfig{}) {
		out.Metrics = base.Metrics
	}
	if out.Events.Source == "" {
		out.Events.Source = base.Events.Source
	}
	if out.Events.PublishTimeout == 0 {
		out.Events.PublishTimeout = base.Events.PublishTimeout
	}
	if out.Sweep == (SweepConfig{}) {
		out.Sweep = base.Sweep
	}
	return out
}
