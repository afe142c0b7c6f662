// Package jwt issues and verifies the signed session tokens handed to
// clients after a completed login. The token embeds the session id; the
// session record itself lives in the session package.
package jwt
