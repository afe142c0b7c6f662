package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// COSE identifiers (RFC 9053).
const (
	coseKtyOKP = 1
	coseKtyEC2 = 2

	coseAlgES256 = -7
	coseAlgEdDSA = -8

	coseCrvP256    = 1
	coseCrvEd25519 = 6
)

// coseKey is the subset of a COSE_Key map used by ES256 and EdDSA keys.
type coseKey struct {
	Kty int    `cbor:"1,keyasint"`
	Alg int    `cbor:"3,keyasint,omitempty"`
	Crv int    `cbor:"-1,keyasint,omitempty"`
	X   []byte `cbor:"-2,keyasint,omitempty"`
	Y   []byte `cbor:"-3,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("webauthn: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 4,
	}.DecMode()
	if err != nil {
		panic("webauthn: CBOR decoder initialization failed: " + err.Error())
	}
}

// ParsePublicKey decodes a COSE_Key holding an ES256 (P-256) or Ed25519
// public key.
func ParsePublicKey(data []byte) (crypto.PublicKey, error) {
	var k coseKey
	if err := decMode.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}

	switch k.Kty {
	case coseKtyEC2:
		if (k.Alg != 0 && k.Alg != coseAlgES256) || k.Crv != coseCrvP256 || len(k.X) != 32 || len(k.Y) != 32 {
			return nil, fmt.Errorf("%w: ec2 key must be ES256 on P-256", ErrUnsupportedKey)
		}
		raw := make([]byte, 0, 65)
		raw = append(raw, 0x04)
		raw = append(raw, k.X...)
		raw = append(raw, k.Y...)
		pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
		}
		return pub, nil
	case coseKtyOKP:
		if (k.Alg != 0 && k.Alg != coseAlgEdDSA) || k.Crv != coseCrvEd25519 || len(k.X) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: okp key must be Ed25519", ErrUnsupportedKey)
		}
		return ed25519.PublicKey(append([]byte(nil), k.X...)), nil
	default:
		return nil, fmt.Errorf("%w: kty %d", ErrUnsupportedKey, k.Kty)
	}
}

// EncodeEC2PublicKey returns the COSE_Key form of a P-256 public key.
func EncodeEC2PublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: need a P-256 key", ErrUnsupportedKey)
	}
	raw, err := pub.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	return encMode.Marshal(coseKey{
		Kty: coseKtyEC2,
		Alg: coseAlgES256,
		Crv: coseCrvP256,
		X:   raw[1:33],
		Y:   raw[33:65],
	})
}

// EncodeEd25519PublicKey returns the COSE_Key form of an Ed25519 key.
func EncodeEd25519PublicKey(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad ed25519 key size", ErrUnsupportedKey)
	}
	return encMode.Marshal(coseKey{
		Kty: coseKtyOKP,
		Alg: coseAlgEdDSA,
		Crv: coseCrvEd25519,
		X:   pub,
	})
}
