package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestSessionTokenRoundTripCarriesClaims(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "careauth"})
	require.NoError(t, err)

	expires := time.Now().Add(8 * time.Hour).Truncate(time.Second)
	token, err := m.CreateSessionToken(Subject{
		UserID:            "u1",
		Role:              "clinician",
		OrganizationID:    "org-1",
		SessionID:         "s1",
		Method:            "totp",
		TwoFactorVerified: true,
	}, expires)
	require.NoError(t, err)

	claims, err := m.ParseSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UID)
	assert.Equal(t, "clinician", claims.Role)
	assert.Equal(t, "org-1", claims.Org)
	assert.Equal(t, "s1", claims.SID)
	assert.Equal(t, "totp", claims.Method)
	assert.True(t, claims.TwoFactorVerified)
	assert.True(t, claims.ExpiresAt.Time.Equal(expires))
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub})
	require.NoError(t, err)

	claims := SessionClaims{UID: "u", SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret-secret"))
	require.NoError(t, err)

	_, err = m.ParseSessionToken(token)
	assert.Error(t, err)
}

func TestParseRejectsExpiredAndForeignIssuer(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "careauth",
		Audience:      "records",
	})
	require.NoError(t, err)

	expired := SessionClaims{UID: "u", SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "careauth",
		Audience:  gjwt.ClaimStrings{"records"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	tok, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, expired).SignedString(priv)
	_, err = m.ParseSessionToken(tok)
	assert.Error(t, err)

	foreign := SessionClaims{UID: "u", SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"records"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok, _ = gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, foreign).SignedString(priv)
	_, err = m.ParseSessionToken(tok)
	assert.Error(t, err)
}

func TestParseRejectsMissingSessionID(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: secret})
	require.NoError(t, err)

	claims := SessionClaims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(secret)
	_, err = m.ParseSessionToken(tok)
	assert.Error(t, err)
}

func TestKeyRotationByKid(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)

	oldSigner, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: oldPriv, PublicKey: oldPub, KeyID: "k-old"})
	require.NoError(t, err)
	verifier, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		KeyID:         "k-new",
		VerifyKeys:    map[string][]byte{"k-old": oldPub, "k-new": newPub},
	})
	require.NoError(t, err)

	tok, err := oldSigner.CreateSessionToken(Subject{UserID: "u", SessionID: "s"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = verifier.ParseSessionToken(tok)
	require.NoError(t, err)
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"unknown method", Config{SigningMethod: "rs256"}},
		{"short hs256 key", Config{SigningMethod: MethodHS256, PrivateKey: []byte("short")}},
		{"ed25519 without public key", Config{SigningMethod: MethodEd25519}},
		{"negative leeway", Config{SigningMethod: MethodHS256, PrivateKey: make([]byte, 32), Leeway: -time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewManager(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestCreateRejectsPastExpiry(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: make([]byte, 32)})
	require.NoError(t, err)
	_, err = m.CreateSessionToken(Subject{UserID: "u", SessionID: "s"}, time.Now().Add(-time.Second))
	assert.Error(t, err)
}
