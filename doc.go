// Package careauth authenticates clinical staff and keeps a tamper-evident
// security record of what they did.
//
// It covers password login with an optional TOTP or backup-code second
// factor, passkey (WebAuthn assertion) login, Redis-backed sessions signed
// as JWTs, emergency "break-glass" access to patient records and an
// append-only audit log with risk scoring and anomaly detection.
//
// Engine methods are safe to call from multiple goroutines once
// [Builder.Build] returns.
//
// # Boundaries
//
// careauth is the public surface: [Engine], [Builder], [Config] and the
// value types. Flow orchestration, the audit pipeline, rate limiting and
// challenge storage live under internal/ and are never exported. Hosts own
// their data through [UserProvider], [PasskeyProvider], [SecurityLog],
// [LoginAttemptStore] and [GrantStore]; the postgres and memstore packages
// ship implementations.
//
// # Failure model
//
// Login-style operations return a tagged result together with an error.
// Errors are sentinel values grouped by [Kind]. Audit writes never fail
// the operation that produced them.
package careauth
