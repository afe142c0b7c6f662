// Package middleware adapts careauth to net/http.
//
//   - [ClientContext] copies the client IP, User-Agent and Referer into the
//     request context so login attempts and audit events carry them.
//   - [Guard] validates the bearer session token and stores the session.
//   - [RequireRole] and [RequireTwoFactor] gate routes on the validated session.
//   - [IPRateLimiter] applies a per-IP token bucket in front of the login
//     endpoints.
//
// Authentication decisions are made by the Engine; this package only
// translates HTTP to Engine calls.
package middleware
