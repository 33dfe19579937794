package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shoplane/authcore/internal"
	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
	"github.com/shoplane/authcore/internal/stores"
)

// Login verifies credentials and, on success, opens a session and issues a
// token pair. Failure reasons are collapsed into ErrInvalidCredentials except
// for an active lockout or a deactivated account, which surface as such only
// after the email resolved to a real account.
//
// The returned Suspicion is advisory; a suspicious score never blocks the
// login.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password required", ErrValidation)
	}

	now := e.now()

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Record under the shared anonymous key so the IP failure
			// counters still see attempts against nonexistent accounts.
			e.recordAttempt(ctx, "", false, req.Meta, "unknown email", now)
			e.failLogin(ctx, nil, email, req.Meta, "unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if account.LockUntil != nil && now.Before(*account.LockUntil) {
		e.metrics.Inc(metrics.MetricLoginBlocked)
		e.auditEvent(ctx, "login.blocked", false, func(ev *audit.Event) {
			ev.UserID = account.ID
			ev.Email = account.Email
			ev.IP = req.Meta.IP
			ev.Error = "account locked"
		})
		return nil, newLockedError(*account.LockUntil, now)
	}

	if !account.Active {
		e.metrics.Inc(metrics.MetricLoginBlocked)
		e.auditEvent(ctx, "login.blocked", false, func(ev *audit.Event) {
			ev.UserID = account.ID
			ev.Email = account.Email
			ev.IP = req.Meta.IP
			ev.Error = "account deactivated"
		})
		return nil, ErrAccountDeactivated
	}

	match, err := e.hasher.Verify(req.Password, account.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !match {
		e.recordAttempt(ctx, account.ID, false, req.Meta, "wrong password", now)

		count, incErr := e.accounts.IncrementFailedAttempts(ctx, account.ID)
		if incErr != nil {
			e.logger.Error("failed-attempt increment failed", zap.String("user_id", account.ID), zap.Error(incErr))
		}
		e.failLogin(ctx, account, account.Email, req.Meta, "wrong password")

		if incErr == nil && count >= e.config.Lockout.MaxAttempts {
			until := now.Add(e.config.Lockout.Duration)
			if err := e.accounts.SetLockUntil(ctx, account.ID, until); err != nil {
				e.logger.Error("lockout write failed", zap.String("user_id", account.ID), zap.Error(err))
				return nil, ErrInvalidCredentials
			}
			e.metrics.Inc(metrics.MetricAccountLocked)
			e.auditEvent(ctx, "account.locked", true, func(ev *audit.Event) {
				ev.UserID = account.ID
				ev.Email = account.Email
				ev.IP = req.Meta.IP
			})
			e.publishEvent(EventAccountLocked, map[string]interface{}{
				"user_id":      account.ID,
				"locked_until": until.UTC(),
			})
			return nil, newLockedError(until, now)
		}
		return nil, ErrInvalidCredentials
	}

	// Gather suspicion inputs before this attempt lands in history, so the
	// scorer sees only prior behavior.
	suspicion := e.scoreAttempt(ctx, account.ID, req.Meta, now)

	if account.FailedAttempts > 0 || account.LockUntil != nil {
		if err := e.accounts.ResetFailedAttempts(ctx, account.ID); err != nil {
			e.logger.Warn("failed-attempt reset failed", zap.String("user_id", account.ID), zap.Error(err))
		}
	}

	e.maybeUpgradeHash(ctx, account, req.Password)

	result, err := e.startSession(ctx, account, req.Meta, now)
	if err != nil {
		return nil, err
	}
	result.Suspicion = suspicion

	e.recordAttempt(ctx, account.ID, true, req.Meta, "", now)
	e.metrics.Inc(metrics.MetricLoginSuccess)
	e.auditEvent(ctx, "login.success", true, func(ev *audit.Event) {
		ev.UserID = account.ID
		ev.Email = account.Email
		ev.IP = req.Meta.IP
		ev.DeviceID = req.Meta.DeviceID
	})
	e.publishEvent(EventLoginSucceeded, map[string]interface{}{
		"user_id":   account.ID,
		"ip":        req.Meta.IP,
		"device_id": req.Meta.DeviceID,
	})

	if suspicion != nil && suspicion.Suspicious {
		e.metrics.Inc(metrics.MetricSuspiciousLogin)
		e.auditEvent(ctx, "login.suspicious", true, func(ev *audit.Event) {
			ev.UserID = account.ID
			ev.IP = req.Meta.IP
			ev.DeviceID = req.Meta.DeviceID
			ev.Metadata = map[string]string{"reasons": strings.Join(suspicion.Reasons, "; ")}
		})
		e.publishEvent(EventSuspiciousLogin, map[string]interface{}{
			"user_id": account.ID,
			"score":   suspicion.Score,
			"reasons": suspicion.Reasons,
		})
	}

	return result, nil
}

// scoreAttempt loads the heuristic's inputs and runs the scorer. Store
// failures degrade to a nil result rather than failing the login.
func (e *Engine) scoreAttempt(ctx context.Context, userID string, meta ClientMeta, now time.Time) *SuspicionResult {
	in := suspicionInput{meta: meta, loginTime: now}

	history, err := e.history.Recent(ctx, userID, e.config.Session.HistorySize)
	if err != nil {
		e.logger.Warn("history read failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	in.history = history

	if meta.DeviceID != "" {
		device, err := e.devices.Get(ctx, userID, meta.DeviceID)
		if err != nil && !errors.Is(err, stores.ErrDeviceNotFound) {
			e.logger.Warn("device read failed", zap.String("user_id", userID), zap.Error(err))
			return nil
		}
		in.device = device
	}

	if meta.IP != "" {
		failures, err := e.history.IPFailures(ctx, meta.IP)
		if err != nil {
			e.logger.Warn("ip failure read failed", zap.Error(err))
			return nil
		}
		in.ipFailures = failures
	}

	return scoreLogin(in)
}

// startSession opens a session, registers the device, and issues the token
// pair. Shared by Register and Login.
func (e *Engine) startSession(ctx context.Context, account *Account, meta ClientMeta, now time.Time) (*AuthResult, error) {
	identity := e.identityFor(ctx, account)

	access, accessExp, err := e.tokens.IssueAccess(account.ID, account.Email, identity.Roles, now)
	if err != nil {
		return nil, err
	}
	refreshTok, jti, refreshExp, err := e.tokens.IssueRefresh(account.ID, account.Email, identity.Roles, now)
	if err != nil {
		return nil, err
	}

	sessionToken, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}

	err = e.sessions.Create(ctx, &stores.SessionRecord{
		Token:        sessionToken,
		UserID:       account.ID,
		RefreshJTI:   jti,
		DeviceID:     meta.DeviceID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		Location:     meta.Location,
		Active:       true,
		CreatedAt:    now.Unix(),
		LastActivity: now.Unix(),
		ExpiresAt:    now.Add(e.config.Session.Lifetime).Unix(),
	}, e.config.Session.Lifetime)
	if err != nil {
		return nil, err
	}

	err = e.refresh.Save(ctx, &stores.RefreshRecord{
		JTI:          jti,
		UserID:       account.ID,
		SessionToken: sessionToken,
		ExpiresAt:    refreshExp.Unix(),
	}, e.config.JWT.RefreshTTL)
	if err != nil {
		return nil, err
	}

	if meta.DeviceID != "" {
		if _, err := e.devices.Upsert(ctx, account.ID, meta.DeviceID, meta.IP, meta.UserAgent, now); err != nil {
			e.logger.Warn("device upsert failed", zap.String("user_id", account.ID), zap.Error(err))
		}
	}

	e.metrics.Inc(metrics.MetricSessionCreated)

	return &AuthResult{
		Identity:         identity,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshTok,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// recordAttempt appends to login history. Failures are logged, never surfaced.
func (e *Engine) recordAttempt(ctx context.Context, userID string, success bool, meta ClientMeta, reason string, now time.Time) {
	err := e.history.Append(ctx, userID, &stores.Attempt{
		Timestamp: now.Unix(),
		Success:   success,
		IP:        meta.IP,
		DeviceID:  meta.DeviceID,
		UserAgent: meta.UserAgent,
		Reason:    reason,
	})
	if err != nil {
		e.logger.Warn("history append failed", zap.Error(err))
	}
}

// failLogin emits the metric, audit record, and domain event for one failed
// attempt. account may be nil for unknown emails.
func (e *Engine) failLogin(ctx context.Context, account *Account, email string, meta ClientMeta, reason string) {
	e.metrics.Inc(metrics.MetricLoginFailure)
	e.auditEvent(ctx, "login.failure", false, func(ev *audit.Event) {
		if account != nil {
			ev.UserID = account.ID
		}
		ev.Email = email
		ev.IP = meta.IP
		ev.DeviceID = meta.DeviceID
		ev.Error = reason
	})

	payload := map[string]interface{}{"ip": meta.IP, "reason": reason}
	if account != nil {
		payload["user_id"] = account.ID
	}
	e.publishEvent(EventLoginFailed, payload)
}

// maybeUpgradeHash rehashes the verified password when the stored hash was
// produced with weaker parameters.
func (e *Engine) maybeUpgradeHash(ctx context.Context, account *Account, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.logger.Warn("hash upgrade failed", zap.String("user_id", account.ID), zap.Error(err))
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, newHash); err != nil {
		e.logger.Warn("hash upgrade write failed", zap.String("user_id", account.ID), zap.Error(err))
		return
	}
	account.PasswordHash = newHash
}
