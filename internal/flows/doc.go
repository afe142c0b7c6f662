// Package flows contains the orchestration for every Engine operation.
//
// Each Run* function takes a dependency struct of closures plus metric ids
// and host sentinel errors, so the root package keeps ownership of stores,
// the token manager and the audit pipeline while the ordering of checks
// lives here and can be tested against fakes.
//
// This package must not import careauth; it may import the leaf packages
// (session, internal/audit, internal/stores).
package flows
