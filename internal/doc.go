// Package internal holds helpers private to careauth: random references,
// WebAuthn challenges, and uniform index selection.
//
// # Sub-packages
//
//   - audit: security event pipeline (risk rules, dispatcher, detectors)
//   - flows: flow orchestrators behind every Engine operation
//   - rate: Redis fixed-window counters
//   - stores: Redis passkey challenge store
//
// # What this package must NOT do
//
//   - Export types that appear in the public careauth API.
//   - Be imported by any package outside the careauth module.
package internal
