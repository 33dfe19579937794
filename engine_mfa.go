package authcore

import (
	"context"

	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
)

// EnableMFA enrolls the account in TOTP and generates single-use backup
// codes. The returned enrollment carries the only plaintext copies of the
// secret and the codes that will ever exist; the store keeps the raw secret
// and code hashes only.
func (e *Engine) EnableMFA(ctx context.Context, userID string) (*MFAEnrollment, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	account, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountDeactivated
	}
	if account.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, hashes, err := generateBackupCodes(e.config.MFA.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	if err := e.accounts.EnableMFA(ctx, account.ID, secret, hashes); err != nil {
		return nil, err
	}

	e.metrics.Inc(metrics.MetricMFAEnabled)
	e.auditEvent(ctx, "mfa.enabled", true, func(ev *audit.Event) {
		ev.UserID = account.ID
	})
	e.publishEvent(EventMFAEnabled, map[string]interface{}{
		"user_id": account.ID,
	})

	return &MFAEnrollment{
		SecretBase32: secretBase32,
		OTPAuthURI:   e.totp.ProvisionURI(secretBase32, account.Email),
		BackupCodes:  codes,
	}, nil
}

// VerifyMFA checks a TOTP code or backup code. TOTP codes are checked first;
// anything that fails the TOTP shape or window falls through to the backup
// codes. A backup code that verifies is consumed in the same step and can
// never verify again.
func (e *Engine) VerifyMFA(ctx context.Context, userID, code string) (*MFAVerification, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	account, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !account.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	valid, err := e.totp.VerifyCode(account.MFASecret, code, e.now())
	if err != nil {
		return nil, err
	}
	if valid {
		e.metrics.Inc(metrics.MetricMFAVerifySuccess)
		e.auditEvent(ctx, "mfa.verify", true, func(ev *audit.Event) {
			ev.UserID = account.ID
		})
		return &MFAVerification{Valid: true}, nil
	}

	consumed, err := e.accounts.ConsumeBackupCode(ctx, account.ID, hashBackupCode(code))
	if err != nil {
		return nil, err
	}
	if consumed {
		e.metrics.Inc(metrics.MetricMFAVerifySuccess)
		e.metrics.Inc(metrics.MetricBackupCodeUsed)
		e.auditEvent(ctx, "mfa.verify", true, func(ev *audit.Event) {
			ev.UserID = account.ID
			ev.Metadata = map[string]string{"method": "backup_code"}
		})
		return &MFAVerification{Valid: true, IsBackupCode: true}, nil
	}

	e.metrics.Inc(metrics.MetricMFAVerifyFailure)
	e.auditEvent(ctx, "mfa.verify", false, func(ev *audit.Event) {
		ev.UserID = account.ID
	})
	return &MFAVerification{}, nil
}

// DisableMFA turns MFA off after a successful code check, wiping the secret
// and any unused backup codes. An invalid code returns ErrUnauthorized.
func (e *Engine) DisableMFA(ctx context.Context, userID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	verification, err := e.VerifyMFA(ctx, userID, code)
	if err != nil {
		return err
	}
	if !verification.Valid {
		return ErrUnauthorized
	}

	if err := e.accounts.DisableMFA(ctx, userID); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricMFADisabled)
	e.auditEvent(ctx, "mfa.disabled", true, func(ev *audit.Event) {
		ev.UserID = userID
	})
	e.publishEvent(EventMFADisabled, map[string]interface{}{
		"user_id": userID,
	})
	return nil
}
