package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/shoplane/authcore/internal"
	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
	"github.com/shoplane/authcore/internal/stores"
)

// ChangePassword replaces the password after re-verifying the current one,
// then revokes every session and refresh token of the account. The caller
// must log in again.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.validatePassword(newPassword); err != nil {
		return err
	}

	account, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !account.Active {
		return ErrAccountDeactivated
	}

	match, err := e.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return err
	}
	if !match {
		e.auditEvent(ctx, "password.change_rejected", false, func(ev *audit.Event) {
			ev.UserID = account.ID
			ev.Error = "wrong current password"
		})
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return err
	}

	e.revokeCredentials(ctx, account.ID)

	e.metrics.Inc(metrics.MetricPasswordChanged)
	e.auditEvent(ctx, "password.changed", true, func(ev *audit.Event) {
		ev.UserID = account.ID
	})
	e.publishEvent(EventPasswordChanged, map[string]interface{}{
		"user_id": account.ID,
	})
	return nil
}

// RequestPasswordReset issues a single-use, time-boxed reset token and
// returns its plaintext for the caller to deliver. An unknown or deactivated
// email returns ("", nil) with no side effects, so the operation's outcome
// never discloses whether an account exists.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if !account.Active {
		return "", nil
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	hash := internal.EncodeHash(internal.HashToken(token))

	err = e.oneTime.Issue(ctx, stores.PurposePasswordReset, account.ID, hash, e.config.PasswordReset.TokenTTL)
	if err != nil {
		return "", err
	}

	e.metrics.Inc(metrics.MetricPasswordResetRequest)
	e.auditEvent(ctx, "password.reset_requested", true, func(ev *audit.Event) {
		ev.UserID = account.ID
		ev.Email = account.Email
	})
	e.publishEvent(EventPasswordResetSent, map[string]interface{}{
		"user_id": account.ID,
		"email":   account.Email,
	})
	return token, nil
}

// ResetPassword redeems a reset token. The token is consumed whether or not
// the rest of the flow succeeds; a second presentation fails regardless.
// On success every session and refresh token is revoked and any lockout is
// cleared.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.validatePassword(newPassword); err != nil {
		return err
	}

	hash := internal.EncodeHash(internal.HashToken(token))
	userID, err := e.oneTime.Consume(ctx, stores.PurposePasswordReset, hash)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			e.metrics.Inc(metrics.MetricPasswordResetFailure)
			e.auditEvent(ctx, "password.reset_rejected", false, func(ev *audit.Event) {
				ev.Error = "invalid or consumed token"
			})
			return ErrInvalidToken
		}
		return err
	}

	account, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !account.Active {
		e.metrics.Inc(metrics.MetricPasswordResetFailure)
		return ErrAccountDeactivated
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, newHash); err != nil {
		return err
	}
	if err := e.accounts.ResetFailedAttempts(ctx, account.ID); err != nil {
		e.logger.Warn("failed-attempt reset failed", zap.String("user_id", account.ID), zap.Error(err))
	}

	e.revokeCredentials(ctx, account.ID)

	e.metrics.Inc(metrics.MetricPasswordResetSuccess)
	e.auditEvent(ctx, "password.reset", true, func(ev *audit.Event) {
		ev.UserID = account.ID
	})
	e.publishEvent(EventPasswordReset, map[string]interface{}{
		"user_id": account.ID,
	})
	return nil
}

// revokeCredentials kills every session and refresh token of an account.
// Partial failure degrades to logging; the triggering operation has already
// committed its primary write.
func (e *Engine) revokeCredentials(ctx context.Context, userID string) {
	now := e.now()
	if _, err := e.refresh.RevokeAllForUser(ctx, userID, now); err != nil {
		e.logger.Error("bulk refresh revoke failed", zap.String("user_id", userID), zap.Error(err))
	}
	revoked, err := e.sessions.RevokeAllForUser(ctx, userID, now, "")
	if err != nil {
		e.logger.Error("bulk session revoke failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for i := 0; i < revoked; i++ {
		e.metrics.Inc(metrics.MetricSessionRevoked)
	}
}
