// Package session provides Redis-backed session persistence and the compact
// binary encoding used for session records.
//
// # Binary encoding
//
// Records start with a format version byte. Decode rejects unknown
// versions; new versions must append fields rather than reinterpret old ones.
//
// # Key layout
//
//   - <prefix>:s:<sessionID>: encoded record, TTL equals the session lifetime
//   - <prefix>:u:<userID>   : set of session ids for logout-all
//
// # What this package must NOT do
//
//   - Import careauth or jwt (no upward imports).
//   - Decide session lifetime; callers pass the TTL.
//   - Store secrets in [Session] fields.
package session
