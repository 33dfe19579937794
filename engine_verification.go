package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/shoplane/authcore/internal"
	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
	"github.com/shoplane/authcore/internal/stores"
)

// RequestEmailVerification issues a single-use verification token and
// returns its plaintext for the caller to deliver. Reissuing invalidates any
// outstanding token for the account.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	account, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !account.Active {
		return "", ErrAccountDeactivated
	}
	if account.EmailVerified {
		return "", fmt.Errorf("%w: email already verified", ErrValidation)
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	hash := internal.EncodeHash(internal.HashToken(token))

	err = e.oneTime.Issue(ctx, stores.PurposeEmailVerification, account.ID, hash, e.config.EmailVerification.TokenTTL)
	if err != nil {
		return "", err
	}

	e.metrics.Inc(metrics.MetricEmailVerificationRequest)
	e.auditEvent(ctx, "email.verification_requested", true, func(ev *audit.Event) {
		ev.UserID = account.ID
		ev.Email = account.Email
	})
	e.publishEvent(EventEmailVerifySent, map[string]interface{}{
		"user_id": account.ID,
		"email":   account.Email,
	})
	return token, nil
}

// VerifyEmail redeems a verification token and marks the email verified.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	hash := internal.EncodeHash(internal.HashToken(token))
	userID, err := e.oneTime.Consume(ctx, stores.PurposeEmailVerification, hash)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	account, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !account.Active {
		return ErrAccountDeactivated
	}

	if err := e.accounts.SetEmailVerified(ctx, account.ID, true); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricEmailVerified)
	e.auditEvent(ctx, "email.verified", true, func(ev *audit.Event) {
		ev.UserID = account.ID
		ev.Email = account.Email
	})
	e.publishEvent(EventEmailVerified, map[string]interface{}{
		"user_id": account.ID,
		"email":   account.Email,
	})
	return nil
}
