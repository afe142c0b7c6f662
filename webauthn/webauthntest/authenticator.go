// Package webauthntest provides a software authenticator for tests.
package webauthntest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/MrEthical07/careauth/webauthn"
)

// Authenticator is a P-256 platform authenticator bound to a single RP.
type Authenticator struct {
	RPID         string
	UserHandle   []byte
	UserVerified bool

	id  []byte
	key *ecdsa.PrivateKey
}

// NewAuthenticator creates an authenticator with a fresh key pair.
func NewAuthenticator(rpID string, userHandle []byte) (*Authenticator, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	return &Authenticator{RPID: rpID, UserHandle: userHandle, UserVerified: true, id: id, key: key}, nil
}

// CredentialID returns the credential identifier.
func (a *Authenticator) CredentialID() []byte {
	return append([]byte(nil), a.id...)
}

// PublicKeyCOSE returns the credential public key in COSE form.
func (a *Authenticator) PublicKeyCOSE() []byte {
	b, err := webauthn.EncodeEC2PublicKey(&a.key.PublicKey)
	if err != nil {
		panic(err)
	}
	return b
}

// Assert signs a "webauthn.get" response for challenge and origin,
// reporting counter as the signature counter.
func (a *Authenticator) Assert(challenge []byte, origin string, counter uint32) webauthn.Assertion {
	cd, err := json.Marshal(map[string]string{
		"type":      "webauthn.get",
		"challenge": base64.RawURLEncoding.EncodeToString(challenge),
		"origin":    origin,
	})
	if err != nil {
		panic(err)
	}

	rpHash := sha256.Sum256([]byte(a.RPID))
	authData := make([]byte, 37)
	copy(authData, rpHash[:])
	authData[32] = 0x01
	if a.UserVerified {
		authData[32] |= 0x04
	}
	binary.BigEndian.PutUint32(authData[33:], counter)

	cdHash := sha256.Sum256(cd)
	digest := sha256.Sum256(append(append([]byte(nil), authData...), cdHash[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		panic(err)
	}

	return webauthn.Assertion{
		CredentialID:      a.CredentialID(),
		ClientDataJSON:    cd,
		AuthenticatorData: authData,
		Signature:         sig,
		UserHandle:        a.UserHandle,
	}
}
