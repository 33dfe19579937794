// Package authcore implements the authentication and session-security core of
// a multi-service commerce backend: credential verification with brute-force
// lockout, signed access/refresh token issuance with rotation, multi-device
// session tracking and revocation, MFA enrollment and verification, and an
// advisory suspicious-login heuristic.
//
// The package is the public surface. It exposes [Engine], [Builder], [Config],
// the store interfaces callers implement ([AccountStore], [RoleStore]), and
// value types. Redis-backed registries, audit dispatch, and metrics live under
// internal/ and are never exported.
//
// # Architecture boundaries
//
//   - HTTP routing, request validation, cookie handling, and rate-limiting
//     middleware are caller concerns. Engine methods take plain DTOs and
//     return typed errors meant for 1:1 status mapping at the boundary.
//   - Account persistence is abstract: callers supply an [AccountStore] whose
//     increment/lock/consume operations must be atomic per row.
//   - Audit-log writes and domain-event publishes are fire-and-forget. They
//     never fail a use case.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
package authcore
