// Package webauthn verifies WebAuthn authentication assertions for
// passkey sign-in. Registration ceremonies and attestation are handled
// elsewhere; this package only needs the stored COSE public key.
package webauthn

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	flagUserPresent  = 0x01
	flagUserVerified = 0x04

	minAuthDataLen = 37
)

var (
	ErrMalformed         = errors.New("webauthn: malformed assertion")
	ErrTypeMismatch      = errors.New("webauthn: client data type mismatch")
	ErrChallengeMismatch = errors.New("webauthn: challenge mismatch")
	ErrOriginMismatch    = errors.New("webauthn: origin not allowed")
	ErrRPIDMismatch      = errors.New("webauthn: rp id hash mismatch")
	ErrUserNotPresent    = errors.New("webauthn: user presence flag not set")
	ErrUserNotVerified   = errors.New("webauthn: user verification required")
	ErrBadSignature      = errors.New("webauthn: signature verification failed")
	ErrUnsupportedKey    = errors.New("webauthn: unsupported public key")
)

// Assertion is the authenticator response as posted by the browser.
type Assertion struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
	UserHandle        []byte
}

// Expectation is what the relying party requires of an assertion.
type Expectation struct {
	Challenge               []byte
	RPID                    string
	Origins                 []string
	RequireUserVerification bool
}

// Result carries the authenticator state reported by a valid assertion.
type Result struct {
	SignCount    uint32
	UserVerified bool
}

type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// VerifyAssertion checks a's client data, authenticator data and signature
// against exp and the credential's COSE public key.
func VerifyAssertion(a Assertion, exp Expectation, publicKeyCOSE []byte) (Result, error) {
	if len(a.ClientDataJSON) == 0 || len(a.AuthenticatorData) < minAuthDataLen || len(a.Signature) == 0 {
		return Result{}, ErrMalformed
	}

	var cd clientData
	if err := json.Unmarshal(a.ClientDataJSON, &cd); err != nil {
		return Result{}, fmt.Errorf("%w: client data: %v", ErrMalformed, err)
	}
	if cd.Type != "webauthn.get" {
		return Result{}, ErrTypeMismatch
	}
	got, err := base64.RawURLEncoding.DecodeString(cd.Challenge)
	if err != nil {
		return Result{}, fmt.Errorf("%w: challenge encoding", ErrMalformed)
	}
	if len(exp.Challenge) == 0 || subtle.ConstantTimeCompare(got, exp.Challenge) != 1 {
		return Result{}, ErrChallengeMismatch
	}
	if !originAllowed(cd.Origin, exp.Origins) {
		return Result{}, ErrOriginMismatch
	}

	rpHash := sha256.Sum256([]byte(exp.RPID))
	if subtle.ConstantTimeCompare(a.AuthenticatorData[:32], rpHash[:]) != 1 {
		return Result{}, ErrRPIDMismatch
	}
	flags := a.AuthenticatorData[32]
	if flags&flagUserPresent == 0 {
		return Result{}, ErrUserNotPresent
	}
	uv := flags&flagUserVerified != 0
	if exp.RequireUserVerification && !uv {
		return Result{}, ErrUserNotVerified
	}
	counter := binary.BigEndian.Uint32(a.AuthenticatorData[33:37])

	pub, err := ParsePublicKey(publicKeyCOSE)
	if err != nil {
		return Result{}, err
	}

	cdHash := sha256.Sum256(a.ClientDataJSON)
	signed := make([]byte, 0, len(a.AuthenticatorData)+len(cdHash))
	signed = append(signed, a.AuthenticatorData...)
	signed = append(signed, cdHash[:]...)

	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(signed)
		if !ecdsa.VerifyASN1(k, digest[:], a.Signature) {
			return Result{}, ErrBadSignature
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(k, signed, a.Signature) {
			return Result{}, ErrBadSignature
		}
	default:
		return Result{}, ErrUnsupportedKey
	}

	return Result{SignCount: counter, UserVerified: uv}, nil
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}
	return false
}
