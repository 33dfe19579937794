// Package metrics provides lock-free counters for authcore observability.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. The write path is allocation-free. Export (OTel) lives in
// metrics/export/ and reads Snapshot values; this package performs no I/O.
package metrics

import "sync/atomic"

// MetricID identifies one counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginBlocked
	MetricAccountLocked
	MetricSuspiciousLogin
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuse
	MetricLogout
	MetricSessionCreated
	MetricSessionRevoked
	MetricDeviceRevoked
	MetricMFAEnabled
	MetricMFADisabled
	MetricMFAVerifySuccess
	MetricMFAVerifyFailure
	MetricBackupCodeUsed
	MetricPasswordChanged
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricEmailVerificationRequest
	MetricEmailVerified
	MetricAccountDeactivated
	MetricEventPublishError
	MetricIDCount
)

// Def names a counter for exporters.
type Def struct {
	ID   MetricID
	Name string
	Help string
}

// CounterDefs is the exporter-facing registry, ordered by MetricID.
var CounterDefs = []Def{
	{MetricLoginSuccess, "authcore_login_success_total", "Successful logins."},
	{MetricLoginFailure, "authcore_login_failure_total", "Failed login attempts."},
	{MetricLoginBlocked, "authcore_login_blocked_total", "Logins blocked by lockout or deactivation."},
	{MetricAccountLocked, "authcore_account_locked_total", "Accounts locked after repeated failures."},
	{MetricSuspiciousLogin, "authcore_suspicious_login_total", "Logins scored suspicious by the heuristic."},
	{MetricRegisterSuccess, "authcore_register_success_total", "Accounts created."},
	{MetricRegisterDuplicate, "authcore_register_duplicate_total", "Registrations rejected for duplicate email."},
	{MetricRefreshSuccess, "authcore_refresh_success_total", "Successful refresh rotations."},
	{MetricRefreshFailure, "authcore_refresh_failure_total", "Failed refresh exchanges."},
	{MetricRefreshReuse, "authcore_refresh_reuse_total", "Revoked refresh tokens presented again."},
	{MetricLogout, "authcore_logout_total", "Logouts."},
	{MetricSessionCreated, "authcore_session_created_total", "Sessions created."},
	{MetricSessionRevoked, "authcore_session_revoked_total", "Sessions revoked."},
	{MetricDeviceRevoked, "authcore_device_revoked_total", "Devices revoked."},
	{MetricMFAEnabled, "authcore_mfa_enabled_total", "MFA enrollments."},
	{MetricMFADisabled, "authcore_mfa_disabled_total", "MFA disablements."},
	{MetricMFAVerifySuccess, "authcore_mfa_verify_success_total", "Successful MFA verifications."},
	{MetricMFAVerifyFailure, "authcore_mfa_verify_failure_total", "Failed MFA verifications."},
	{MetricBackupCodeUsed, "authcore_backup_code_used_total", "Backup codes consumed."},
	{MetricPasswordChanged, "authcore_password_changed_total", "Password changes."},
	{MetricPasswordResetRequest, "authcore_password_reset_request_total", "Password reset tokens issued."},
	{MetricPasswordResetSuccess, "authcore_password_reset_success_total", "Password resets completed."},
	{MetricPasswordResetFailure, "authcore_password_reset_failure_total", "Password resets rejected."},
	{MetricEmailVerificationRequest, "authcore_email_verification_request_total", "Email verification tokens issued."},
	{MetricEmailVerified, "authcore_email_verified_total", "Emails verified."},
	{MetricAccountDeactivated, "authcore_account_deactivated_total", "Accounts deactivated."},
	{MetricEventPublishError, "authcore_event_publish_error_total", "Swallowed domain-event publish failures."},
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles the counter set. When Enabled is false all operations are
// no-ops.
type Config struct {
	Enabled bool
}

// Metrics holds the atomic counters.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Snapshot() Snapshot {
	out := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return out
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		out.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return out
}
