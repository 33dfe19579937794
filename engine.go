package authcore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shoplane/authcore/events"
	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
	"github.com/shoplane/authcore/internal/stores"
	"github.com/shoplane/authcore/jwt"
	"github.com/shoplane/authcore/password"
)

// Domain event names. Each doubles as the publish topic.
const (
	EventUserRegistered     = "auth.user.registered"
	EventLoginSucceeded     = "auth.login.succeeded"
	EventLoginFailed        = "auth.login.failed"
	EventSuspiciousLogin    = "auth.login.suspicious"
	EventAccountLocked      = "auth.account.locked"
	EventAccountDeactivated = "auth.account.deactivated"
	EventTokenRefreshed     = "auth.token.refreshed"
	EventTokenReuse         = "auth.token.reuse_detected"
	EventSessionRevoked     = "auth.session.revoked"
	EventDeviceTrusted      = "auth.device.trusted"
	EventDeviceRevoked      = "auth.device.revoked"
	EventMFAEnabled         = "auth.mfa.enabled"
	EventMFADisabled        = "auth.mfa.disabled"
	EventPasswordChanged    = "auth.password.changed"
	EventPasswordResetSent  = "auth.password.reset_requested"
	EventPasswordReset      = "auth.password.reset"
	EventEmailVerifySent    = "auth.email.verification_requested"
	EventEmailVerified      = "auth.email.verified"
)

// Engine is the authentication core. All methods are safe for concurrent
// use. Construct it through [Builder.Build]; the zero value returns
// ErrEngineNotReady from every method.
type Engine struct {
	config    Config
	logger    *zap.Logger
	accounts  AccountStore
	roles     RoleStore
	publisher events.Publisher

	hasher *password.Hasher
	tokens *jwt.Manager
	totp   *totpManager

	refresh  *stores.RefreshStore
	sessions *stores.SessionStore
	devices  *stores.DeviceStore
	history  *stores.HistoryStore
	oneTime  *stores.TokenStore

	audit   *audit.Dispatcher
	metrics *metrics.Metrics

	// now is the engine clock. Swappable in tests.
	now func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Close stops background workers and flushes the audit buffer. Safe to call
// more than once. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil || e.done == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		e.audit.Close()
	})
}

// ready reports whether the engine was built through the builder.
func (e *Engine) ready() bool {
	return e != nil && e.accounts != nil && e.tokens != nil
}

// MetricsSnapshot exposes counter values for exporters.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	if e == nil {
		return metrics.Snapshot{Counters: map[metrics.MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) sweepLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			swept, err := e.sessions.SweepExpired(ctx, e.now())
			cancel()
			if err != nil {
				e.logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				e.logger.Debug("swept expired sessions", zap.Int("count", swept))
			}
		case <-e.done:
			return
		}
	}
}

// auditEvent queues one audit record. Never blocks past buffer pressure and
// never fails the calling operation.
func (e *Engine) auditEvent(ctx context.Context, eventType string, success bool, mutate func(*audit.Event)) {
	event := audit.Event{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Success:   success,
	}
	if mutate != nil {
		mutate(&event)
	}
	e.audit.Emit(ctx, event)
}

type eventEnvelope struct {
	Event     string          `json:"event"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// publishEvent delivers a domain event in the background. Publish failures
// are logged and counted, never surfaced to the caller: domain events are
// at-most-once by contract.
func (e *Engine) publishEvent(name string, data interface{}) {
	if e.publisher == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		e.logger.Warn("event payload marshal failed", zap.String("event", name), zap.Error(err))
		return
	}
	payload, err := json.Marshal(eventEnvelope{
		Event:     name,
		Source:    e.config.Events.Source,
		Timestamp: e.now().UTC(),
		Data:      raw,
	})
	if err != nil {
		e.logger.Warn("event envelope marshal failed", zap.String("event", name), zap.Error(err))
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("event publisher panicked", zap.String("event", name), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.config.Events.PublishTimeout)
		defer cancel()

		if err := e.publisher.Publish(ctx, name, payload); err != nil {
			e.metrics.Inc(metrics.MetricEventPublishError)
			e.logger.Warn("event publish failed", zap.String("event", name), zap.Error(err))
		}
	}()
}

// identityFor builds the sanitized account view, resolving roles when a role
// store is wired.
func (e *Engine) identityFor(ctx context.Context, account *Account) Identity {
	identity := Identity{
		UserID:        account.ID,
		Email:         account.Email,
		EmailVerified: account.EmailVerified,
		MFAEnabled:    account.MFAEnabled,
	}
	if e.roles != nil {
		roles, err := e.roles.RolesForAccount(ctx, account.ID)
		if err != nil {
			e.logger.Warn("role lookup failed", zap.String("user_id", account.ID), zap.Error(err))
		} else {
			identity.Roles = roles
		}
	}
	return identity
}
