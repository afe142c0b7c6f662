// Package rate provides the Redis-backed fixed-window counters behind login
// and second-factor throttling.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - "cl:" login per-email
//   - "cli:" login per-IP
//   - "cc:" second-factor code attempts per-user
//
// # What this package must NOT do
//
//   - Decide which flow consults which budget (the flows do that).
//   - Be imported outside the careauth module.
package rate
