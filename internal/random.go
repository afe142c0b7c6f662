package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
)

const (
	referenceSize = 16
	// ChallengeSize is the WebAuthn challenge length in bytes.
	ChallengeSize = 32
)

// NewReference returns an opaque, unguessable, URL-safe identifier used to
// address short-lived records such as passkey challenges.
func NewReference() (string, error) {
	var raw [referenceSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewChallenge returns ChallengeSize random bytes.
func NewChallenge() ([]byte, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// RandomIndex returns a uniform integer in [0, n).
func RandomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("invalid random bound")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
