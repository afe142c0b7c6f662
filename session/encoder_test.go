package session

import (
	"strings"
	"testing"
)

func TestEncodeDecodeFlags(t *testing.T) {
	for _, tc := range []struct {
		name string
		sess Session
	}{
		{"password", Session{UserID: "u", Method: MethodPassword}},
		{"passkey remember", Session{UserID: "u", Method: MethodPasskey, RememberMe: true}},
		{"backup code", Session{UserID: "u", OrganizationID: "o", Role: "admin", Method: MethodBackupCode, TwoFactorVerified: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.sess.CreatedAt = 1700000000
			tc.sess.ExpiresAt = 1700028800
			data, err := Encode(&tc.sess)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if *got != tc.sess {
				t.Fatalf("mismatch: got %+v want %+v", got, tc.sess)
			}
		})
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := Decode([]byte{99})
	if err == nil || !strings.Contains(err.Error(), "unsupported session format version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	if _, err := Encode(&Session{UserID: strings.Repeat("u", 256)}); err == nil {
		t.Fatal("expected oversized user id to fail")
	}
}

func TestMethodStringRoundTrip(t *testing.T) {
	for _, m := range []Method{MethodPassword, MethodTOTP, MethodBackupCode, MethodPasskey} {
		if ParseMethod(m.String()) != m {
			t.Fatalf("round trip failed for %v", m)
		}
	}
	if ParseMethod("sms") != MethodUnknown {
		t.Fatal("unknown method should parse to MethodUnknown")
	}
}
