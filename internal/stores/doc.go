// Package stores keeps short-lived passkey challenges in Redis.
//
// A challenge is a versioned binary record under a random reference with a
// TTL, indexed in a sorted set by expiry. Consume reads and deletes it in one
// Lua script, so a reference authenticates at most one assertion even under
// concurrent completion.
package stores
