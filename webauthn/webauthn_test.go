package webauthn_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/careauth/webauthn"
	"github.com/MrEthical07/careauth/webauthn/webauthntest"
)

const (
	rpID   = "care.example"
	origin = "https://care.example"
)

func expectation(challenge []byte) webauthn.Expectation {
	return webauthn.Expectation{Challenge: challenge, RPID: rpID, Origins: []string{origin}}
}

func TestVerifyAssertionES256(t *testing.T) {
	auth, err := webauthntest.NewAuthenticator(rpID, []byte("u1"))
	require.NoError(t, err)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	res, err := webauthn.VerifyAssertion(auth.Assert(challenge, origin, 7), expectation(challenge), auth.PublicKeyCOSE())
	require.NoError(t, err)
	require.Equal(t, uint32(7), res.SignCount)
	require.True(t, res.UserVerified)
}

func TestVerifyAssertionRejections(t *testing.T) {
	auth, err := webauthntest.NewAuthenticator(rpID, []byte("u1"))
	require.NoError(t, err)
	other, err := webauthntest.NewAuthenticator(rpID, []byte("u1"))
	require.NoError(t, err)
	challenge := []byte("challenge-challenge-challenge-32")

	cases := []struct {
		name string
		a    func() webauthn.Assertion
		exp  func() webauthn.Expectation
		key  func() []byte
		want error
	}{
		{
			name: "wrong challenge",
			a:    func() webauthn.Assertion { return auth.Assert([]byte("something else"), origin, 1) },
			want: webauthn.ErrChallengeMismatch,
		},
		{
			name: "wrong origin",
			a:    func() webauthn.Assertion { return auth.Assert(challenge, "https://evil.example", 1) },
			want: webauthn.ErrOriginMismatch,
		},
		{
			name: "wrong rp",
			a:    func() webauthn.Assertion { return auth.Assert(challenge, origin, 1) },
			exp: func() webauthn.Expectation {
				e := expectation(challenge)
				e.RPID = "other.example"
				return e
			},
			want: webauthn.ErrRPIDMismatch,
		},
		{
			name: "other key",
			a:    func() webauthn.Assertion { return auth.Assert(challenge, origin, 1) },
			key:  other.PublicKeyCOSE,
			want: webauthn.ErrBadSignature,
		},
		{
			name: "tampered counter",
			a: func() webauthn.Assertion {
				a := auth.Assert(challenge, origin, 1)
				binary.BigEndian.PutUint32(a.AuthenticatorData[33:], 99)
				return a
			},
			want: webauthn.ErrBadSignature,
		},
		{
			name: "truncated auth data",
			a: func() webauthn.Assertion {
				a := auth.Assert(challenge, origin, 1)
				a.AuthenticatorData = a.AuthenticatorData[:20]
				return a
			},
			want: webauthn.ErrMalformed,
		},
		{
			name: "create type",
			a: func() webauthn.Assertion {
				a := auth.Assert(challenge, origin, 1)
				a.ClientDataJSON = []byte(`{"type":"webauthn.create","challenge":"","origin":"` + origin + `"}`)
				return a
			},
			want: webauthn.ErrTypeMismatch,
		},
		{
			name: "garbage key",
			a:    func() webauthn.Assertion { return auth.Assert(challenge, origin, 1) },
			key:  func() []byte { return []byte{0xff, 0x00} },
			want: webauthn.ErrUnsupportedKey,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exp := expectation(challenge)
			if tc.exp != nil {
				exp = tc.exp()
			}
			key := auth.PublicKeyCOSE()
			if tc.key != nil {
				key = tc.key()
			}
			_, err := webauthn.VerifyAssertion(tc.a(), exp, key)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerifyAssertionUserVerificationRequired(t *testing.T) {
	auth, err := webauthntest.NewAuthenticator(rpID, nil)
	require.NoError(t, err)
	auth.UserVerified = false
	challenge := []byte("uv-challenge")

	exp := expectation(challenge)
	res, err := webauthn.VerifyAssertion(auth.Assert(challenge, origin, 3), exp, auth.PublicKeyCOSE())
	require.NoError(t, err)
	require.False(t, res.UserVerified)

	exp.RequireUserVerification = true
	_, err = webauthn.VerifyAssertion(auth.Assert(challenge, origin, 4), exp, auth.PublicKeyCOSE())
	require.ErrorIs(t, err, webauthn.ErrUserNotVerified)
}

func TestVerifyAssertionEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := webauthn.EncodeEd25519PublicKey(pub)
	require.NoError(t, err)

	challenge := []byte("ed25519-challenge")
	cd, err := json.Marshal(map[string]string{
		"type":      "webauthn.get",
		"challenge": base64.RawURLEncoding.EncodeToString(challenge),
		"origin":    origin,
	})
	require.NoError(t, err)
	rpHash := sha256.Sum256([]byte(rpID))
	authData := append(rpHash[:], 0x05, 0, 0, 0, 9)
	cdHash := sha256.Sum256(cd)
	sig := ed25519.Sign(priv, append(append([]byte(nil), authData...), cdHash[:]...))

	res, err := webauthn.VerifyAssertion(webauthn.Assertion{
		ClientDataJSON:    cd,
		AuthenticatorData: authData,
		Signature:         sig,
	}, expectation(challenge), key)
	require.NoError(t, err)
	require.Equal(t, uint32(9), res.SignCount)
}

func TestParsePublicKeyRoundTrip(t *testing.T) {
	auth, err := webauthntest.NewAuthenticator(rpID, nil)
	require.NoError(t, err)
	pub, err := webauthn.ParsePublicKey(auth.PublicKeyCOSE())
	require.NoError(t, err)
	require.NotNil(t, pub)

	_, err = webauthn.EncodeEd25519PublicKey(ed25519.PublicKey{1, 2, 3})
	require.ErrorIs(t, err, webauthn.ErrUnsupportedKey)
}
