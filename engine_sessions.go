package authcore

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/shoplane/authcore/internal/audit"
	"github.com/shoplane/authcore/internal/metrics"
	"github.com/shoplane/authcore/internal/stores"
	"github.com/shoplane/authcore/jwt"
)

// Sessions lists the account's sessions, newest first, including recently
// revoked ones still within their retention window.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	records, err := e.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(records))
	for _, record := range records {
		out = append(out, sessionInfoFrom(record))
	}
	sortSessionsNewestFirst(out)
	return out, nil
}

// RevokeSession revokes one session by token. The session must belong to
// userID; a mismatch returns ErrUnauthorized without revealing whether the
// token exists for someone else.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	session, err := e.sessions.Get(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, stores.ErrSessionNotFound) {
			return &NotFoundError{Resource: "session"}
		}
		return err
	}
	if session.UserID != userID {
		return ErrUnauthorized
	}

	now := e.now()
	revoked, err := e.sessions.Revoke(ctx, sessionToken, now)
	if err != nil && !errors.Is(err, stores.ErrSessionNotFound) {
		return err
	}
	if session.RefreshJTI != "" {
		if _, err := e.refresh.Revoke(ctx, session.RefreshJTI, now); err != nil && !errors.Is(err, stores.ErrRefreshNotFound) {
			e.logger.Warn("linked refresh revoke failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if revoked {
		e.metrics.Inc(metrics.MetricSessionRevoked)
		e.auditEvent(ctx, "session.revoked", true, func(ev *audit.Event) {
			ev.UserID = userID
			ev.Session = sessionToken
		})
		e.publishEvent(EventSessionRevoked, map[string]interface{}{
			"user_id": userID,
			"cause":   "user request",
		})
	}
	return nil
}

// RevokeAllSessions revokes every session and refresh token of the account.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	now := e.now()
	if _, err := e.refresh.RevokeAllForUser(ctx, userID, now); err != nil {
		return 0, err
	}
	revoked, err := e.sessions.RevokeAllForUser(ctx, userID, now, "")
	if err != nil {
		return revoked, err
	}

	for i := 0; i < revoked; i++ {
		e.metrics.Inc(metrics.MetricSessionRevoked)
	}
	if revoked > 0 {
		e.auditEvent(ctx, "session.revoked_all", true, func(ev *audit.Event) {
			ev.UserID = userID
		})
		e.publishEvent(EventSessionRevoked, map[string]interface{}{
			"user_id": userID,
			"cause":   "revoke all",
			"count":   revoked,
		})
	}
	return revoked, nil
}

// RevokeOtherSessions revokes every session except the one behind the
// presented refresh token. The token identifies which session is "current".
func (e *Engine) RevokeOtherSessions(ctx context.Context, userID, refreshToken string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(refreshToken, jwt.TypeRefresh)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrInvalidToken
	}

	record, err := e.refresh.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, stores.ErrRefreshNotFound) {
			return 0, ErrInvalidToken
		}
		return 0, err
	}
	if record.UserID != userID {
		return 0, ErrUnauthorized
	}
	if record.Revoked {
		return 0, ErrTokenRevoked
	}

	now := e.now()
	revoked, err := e.sessions.RevokeAllForUser(ctx, userID, now, record.SessionToken)
	if err != nil {
		return revoked, err
	}

	for i := 0; i < revoked; i++ {
		e.metrics.Inc(metrics.MetricSessionRevoked)
	}
	if revoked > 0 {
		e.auditEvent(ctx, "session.revoked_others", true, func(ev *audit.Event) {
			ev.UserID = userID
			ev.Session = record.SessionToken
		})
		e.publishEvent(EventSessionRevoked, map[string]interface{}{
			"user_id": userID,
			"cause":   "revoke others",
			"count":   revoked,
		})
	}
	return revoked, nil
}

// Devices lists the account's known devices.
func (e *Engine) Devices(ctx context.Context, userID string) ([]DeviceInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	records, err := e.devices.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]DeviceInfo, 0, len(records))
	for _, record := range records {
		out = append(out, DeviceInfo{
			DeviceID:  record.DeviceID,
			UserID:    record.UserID,
			Trusted:   record.Trusted,
			Active:    record.Active,
			FirstSeen: time.Unix(record.FirstSeen, 0).UTC(),
			LastUsed:  time.Unix(record.LastUsed, 0).UTC(),
			LastIP:    record.LastIP,
			UserAgent: record.UserAgent,
		})
	}
	return out, nil
}

// TrustDevice sets or clears the explicit trust flag on a known device.
func (e *Engine) TrustDevice(ctx context.Context, userID, deviceID string, trusted bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	if err := e.devices.SetTrusted(ctx, userID, deviceID, trusted); err != nil {
		if errors.Is(err, stores.ErrDeviceNotFound) {
			return &NotFoundError{Resource: "device"}
		}
		return err
	}

	e.auditEvent(ctx, "device.trust_changed", true, func(ev *audit.Event) {
		ev.UserID = userID
		ev.DeviceID = deviceID
		ev.Metadata = map[string]string{"trusted": boolString(trusted)}
	})
	if trusted {
		e.publishEvent(EventDeviceTrusted, map[string]interface{}{
			"user_id":   userID,
			"device_id": deviceID,
		})
	}
	return nil
}

// RevokeDevice deactivates a device and cascades to every session opened
// from it. The device's future logins start untrusted again.
func (e *Engine) RevokeDevice(ctx context.Context, userID, deviceID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	if err := e.devices.Deactivate(ctx, userID, deviceID); err != nil {
		if errors.Is(err, stores.ErrDeviceNotFound) {
			return 0, &NotFoundError{Resource: "device"}
		}
		return 0, err
	}

	revoked, err := e.sessions.RevokeByDevice(ctx, userID, deviceID, e.now())
	if err != nil {
		return revoked, err
	}

	e.metrics.Inc(metrics.MetricDeviceRevoked)
	for i := 0; i < revoked; i++ {
		e.metrics.Inc(metrics.MetricSessionRevoked)
	}
	e.auditEvent(ctx, "device.revoked", true, func(ev *audit.Event) {
		ev.UserID = userID
		ev.DeviceID = deviceID
	})
	e.publishEvent(EventDeviceRevoked, map[string]interface{}{
		"user_id":   userID,
		"device_id": deviceID,
		"sessions":  revoked,
	})
	return revoked, nil
}

func sessionInfoFrom(record *stores.SessionRecord) SessionInfo {
	return SessionInfo{
		Token:        record.Token,
		UserID:       record.UserID,
		DeviceID:     record.DeviceID,
		IP:           record.IP,
		UserAgent:    record.UserAgent,
		Location:     record.Location,
		Active:       record.Active,
		CreatedAt:    time.Unix(record.CreatedAt, 0).UTC(),
		LastActivity: time.Unix(record.LastActivity, 0).UTC(),
		ExpiresAt:    time.Unix(record.ExpiresAt, 0).UTC(),
	}
}

func sortSessionsNewestFirst(sessions []SessionInfo) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
