// Package stores contains the Redis-backed registries behind the engine: the
// refresh-token ledger, the session and device registries, the append-only
// login history, and the single-use reset/verification token store.
//
// Correctness-critical mutations (refresh revocation, session revocation) are
// single conditional writes implemented as Lua scripts, so concurrent
// rotation attempts resolve to at-most-once without in-process locks.
package stores
