package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
	"github.com/shoplane/authcore/internal/stores"
	"github.com/shoplane/authcore/jwt"
)

// Refresh exchanges a live refresh token for a fresh pair, rotating the old
// one out. Rotation is at-most-once: of two concurrent exchanges with the
// same token, exactly one succeeds and the other gets ErrTokenRevoked.
//
// Presenting an already-rotated token is treated as possible theft: the
// session behind it is revoked and the event is published.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	now := e.now()

	claims, err := e.tokens.Parse(refreshToken, jwt.TypeRefresh)
	if err != nil {
		e.metrics.Inc(metrics.MetricRefreshFailure)
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	record, err := e.refresh.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, stores.ErrRefreshNotFound) {
			e.metrics.Inc(metrics.MetricRefreshFailure)
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if record.Revoked {
		e.handleRefreshReuse(ctx, record)
		return nil, ErrTokenRevoked
	}

	session, err := e.sessions.Get(ctx, record.SessionToken)
	if err != nil {
		if errors.Is(err, stores.ErrSessionNotFound) {
			e.metrics.Inc(metrics.MetricRefreshFailure)
			return nil, ErrTokenRevoked
		}
		return nil, err
	}
	if !session.Active {
		e.metrics.Inc(metrics.MetricRefreshFailure)
		return nil, ErrTokenRevoked
	}
	if session.ExpiresAt <= now.Unix() {
		if _, err := e.sessions.Revoke(ctx, session.Token, now); err != nil {
			e.logger.Warn("expired-session revoke failed", zap.Error(err))
		}
		e.metrics.Inc(metrics.MetricRefreshFailure)
		return nil, ErrTokenExpired
	}

	rotated, err := e.refresh.Revoke(ctx, claims.ID, now)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// Lost the race against a concurrent exchange of the same token.
		e.handleRefreshReuse(ctx, record)
		return nil, ErrTokenRevoked
	}

	account, err := e.accounts.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		if _, err := e.sessions.Revoke(ctx, session.Token, now); err != nil {
			e.logger.Warn("session revoke failed", zap.Error(err))
		}
		e.metrics.Inc(metrics.MetricRefreshFailure)
		return nil, ErrAccountDeactivated
	}

	identity := e.identityFor(ctx, account)

	access, accessExp, err := e.tokens.IssueAccess(account.ID, account.Email, identity.Roles, now)
	if err != nil {
		return nil, err
	}
	newRefresh, newJTI, refreshExp, err := e.tokens.IssueRefresh(account.ID, account.Email, identity.Roles, now)
	if err != nil {
		return nil, err
	}

	err = e.refresh.Save(ctx, &stores.RefreshRecord{
		JTI:          newJTI,
		UserID:       account.ID,
		SessionToken: session.Token,
		ExpiresAt:    refreshExp.Unix(),
	}, e.config.JWT.RefreshTTL)
	if err != nil {
		return nil, err
	}

	if err := e.sessions.Touch(ctx, session.Token, now, newJTI); err != nil {
		e.logger.Warn("session touch failed", zap.String("user_id", account.ID), zap.Error(err))
	}

	e.metrics.Inc(metrics.MetricRefreshSuccess)
	e.auditEvent(ctx, "token.refreshed", true, func(ev *audit.Event) {
		ev.UserID = account.ID
		ev.Session = session.Token
	})
	e.publishEvent(EventTokenRefreshed, map[string]interface{}{
		"user_id": account.ID,
	})

	return &AuthResult{
		Identity:         identity,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// handleRefreshReuse responds to a revoked token being presented again: the
// linked session is killed so a thief holding the stale token gains nothing.
func (e *Engine) handleRefreshReuse(ctx context.Context, record *stores.RefreshRecord) {
	now := e.now()
	e.metrics.Inc(metrics.MetricRefreshReuse)

	if _, err := e.sessions.Revoke(ctx, record.SessionToken, now); err != nil && !errors.Is(err, stores.ErrSessionNotFound) {
		e.logger.Warn("reuse-triggered session revoke failed", zap.Error(err))
	}

	e.auditEvent(ctx, "token.reuse", false, func(ev *audit.Event) {
		ev.UserID = record.UserID
		ev.Session = record.SessionToken
		ev.Error = "revoked refresh token presented"
	})
	e.publishEvent(EventTokenReuse, map[string]interface{}{
		"user_id": record.UserID,
	})
}

// Logout revokes the refresh token and its session. Idempotent: logging out
// an already-revoked token succeeds.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(refreshToken, jwt.TypeRefresh)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}

	now := e.now()

	record, err := e.refresh.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, stores.ErrRefreshNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if _, err := e.refresh.Revoke(ctx, claims.ID, now); err != nil && !errors.Is(err, stores.ErrRefreshNotFound) {
		return err
	}
	if _, err := e.sessions.Revoke(ctx, record.SessionToken, now); err != nil && !errors.Is(err, stores.ErrSessionNotFound) {
		return err
	}

	e.metrics.Inc(metrics.MetricLogout)
	e.auditEvent(ctx, "logout", true, func(ev *audit.Event) {
		ev.UserID = record.UserID
		ev.Session = record.SessionToken
	})
	e.publishEvent(EventSessionRevoked, map[string]interface{}{
		"user_id": record.UserID,
		"cause":   "logout",
	})
	return nil
}
