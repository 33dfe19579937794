package authcore

import (
	"context"

	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
)

// DeactivateAccount flips the active flag off and revokes every session and
// refresh token. Accounts are never hard-deleted; a deactivated account can
// be reactivated through the caller's own store.
func (e *Engine) DeactivateAccount(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	account, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !account.Active {
		return nil
	}

	if err := e.accounts.SetActive(ctx, account.ID, false); err != nil {
		return err
	}

	e.revokeCredentials(ctx, account.ID)

	e.metrics.Inc(metrics.MetricAccountDeactivated)
	e.auditEvent(ctx, "account.deactivated", true, func(ev *audit.Event) {
		ev.UserID = account.ID
		ev.Email = account.Email
	})
	e.publishEvent(EventAccountDeactivated, map[string]interface{}{
		"user_id": account.ID,
	})
	return nil
}

// AssignRole grants a role through the wired role store. Roles take effect
// on the next token issuance; outstanding access tokens keep their claims.
func (e *Engine) AssignRole(ctx context.Context, userID, role string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if e.roles == nil {
		return ErrEngineNotReady
	}
	if _, err := e.accounts.GetByID(ctx, userID); err != nil {
		return err
	}
	return e.roles.AssignRole(ctx, userID, role)
}
