package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
)

// Register creates an account and logs it straight in, returning the first
// token pair. The email starts unverified; see RequestEmailVerification.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	email := strings.TrimSpace(req.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := e.validatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
	}
	if err := e.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrEmailExists) {
			e.metrics.Inc(metrics.MetricRegisterDuplicate)
			e.auditEvent(ctx, "register.duplicate", false, func(ev *audit.Event) {
				ev.Email = email
				ev.IP = req.Meta.IP
			})
			return nil, ErrEmailExists
		}
		return nil, err
	}

	if role := e.config.Account.DefaultRole; role != "" && e.roles != nil {
		if err := e.roles.AssignRole(ctx, account.ID, role); err != nil {
			e.logger.Warn("default role grant failed",
				zap.String("user_id", account.ID), zap.String("role", role), zap.Error(err))
		}
	}

	now := e.now()
	result, err := e.startSession(ctx, account, req.Meta, now)
	if err != nil {
		return nil, err
	}
	e.recordAttempt(ctx, account.ID, true, req.Meta, "", now)

	e.metrics.Inc(metrics.MetricRegisterSuccess)
	e.auditEvent(ctx, "register.success", true, func(ev *audit.Event) {
		ev.UserID = account.ID
		ev.Email = account.Email
		ev.IP = req.Meta.IP
		ev.DeviceID = req.Meta.DeviceID
	})
	e.publishEvent(EventUserRegistered, map[string]interface{}{
		"user_id": account.ID,
		"email":   account.Email,
	})

	return result, nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email required", ErrValidation)
	}
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	return nil
}

func (e *Engine) validatePassword(password string) error {
	if len(password) < e.config.Password.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, e.config.Password.MinLength)
	}
	return nil
}
