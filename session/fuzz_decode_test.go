package session

import "testing"

// FuzzSessionDecode feeds arbitrary bytes to the decoder. It must never
// panic, and anything it accepts must re-encode to the same bytes.
func FuzzSessionDecode(f *testing.F) {
	sess := &Session{
		UserID:         "user1",
		OrganizationID: "org1",
		Role:           "admin",
		Method:         MethodTOTP,
		CreatedAt:      1700000000,
		ExpiresAt:      1700003600,
	}
	encoded, err := Encode(sess)
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(s)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if string(again) != string(data) {
			t.Fatal("decode/encode is not stable")
		}
	})
}
