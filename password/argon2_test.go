package password

import (
	"errors"
	"strings"
	"testing"
)

func secureConfig() Config {
	return Config{
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// fastConfig keeps argon2 cheap for tests that hash many passwords.
func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher, err := NewArgon2(Config{
		Memory:      32768,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2(old) error: %v", err)
	}

	hash, err := oldHasher.Hash("test-password-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	newHasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2(new) error: %v", err)
	}

	needsUpgrade, err := newHasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !needsUpgrade {
		t.Fatal("expected NeedsUpgrade to return true for weaker hash parameters")
	}
}

func TestNeedsUpgradeSameConfig(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("same-config-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	needsUpgrade, err := hasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if needsUpgrade {
		t.Fatal("expected NeedsUpgrade to return false for current parameters")
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	good, err := hasher.Hash("ward-round-7")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	parts := strings.Split(good, "$")
	with := func(i int, v string) string {
		cp := append([]string(nil), parts...)
		cp[i] = v
		return strings.Join(cp, "$")
	}

	cases := map[string]string{
		"not phc":         "not-a-phc-hash",
		"bcrypt":          "$2a$10$abcdefghijklmnopqrstuu",
		"argon2i":         with(1, "argon2i"),
		"old version":     with(2, "v=18"),
		"memory too low":  with(3, "m=1024,t=1,p=1"),
		"duplicate key":   with(3, "m=8192,m=8192,p=1"),
		"unknown key":     with(3, "m=8192,t=1,x=1"),
		"missing key":     with(3, "m=8192,t=1"),
		"parallelism 300": with(3, "m=8192,t=1,p=300"),
		"short salt":      with(4, "AAAA"),
		"salt not base64": with(4, "!!!!"),
		"empty key":       with(5, ""),
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := hasher.Verify("ward-round-7", encoded); !errors.Is(err, ErrMalformedHash) {
				t.Fatalf("Verify error = %v, want ErrMalformedHash", err)
			}
		})
	}

	if ok, err := hasher.Verify("ward-round-7", good); err != nil || !ok {
		t.Fatalf("control hash: ok=%v err=%v", ok, err)
	}
}

func TestHashEmptyPassword(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if _, err := hasher.Hash(""); err == nil {
		t.Fatal("expected empty password hash to fail")
	}
}

func TestHashTooShortPassword(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if _, err := hasher.Hash("short"); err == nil {
		t.Fatal("expected short password hash to fail")
	}
}

func TestLengthPolicyBoundaries(t *testing.T) {
	cfg := fastConfig()
	cfg.MinLength = 9
	cfg.MaxLength = 64
	hasher, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if _, err := hasher.Hash("Correct1!"); err != nil {
		t.Fatalf("nine-byte password should pass: %v", err)
	}
	if _, err := hasher.Hash("Correct1"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if _, err := hasher.Verify(strings.Repeat("a", 65), "$argon2id$v=19$m=8192,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("Verify should reject oversized input, got %v", err)
	}
}

func TestDefaultMinLengthIsEight(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	if err := hasher.CheckPolicy("1234567"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if err := hasher.CheckPolicy("12345678"); err != nil {
		t.Fatalf("eight bytes should pass: %v", err)
	}
}

func TestMatchesAnyHistory(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	var history []string
	for _, pw := range []string{"History-1!", "History-2!", "History-3!"} {
		h, err := hasher.Hash(pw)
		if err != nil {
			t.Fatalf("Hash error: %v", err)
		}
		history = append(history, h)
	}
	history = append(history, "garbage-entry")

	if !hasher.MatchesAny("History-2!", history) {
		t.Fatal("expected history match")
	}
	if hasher.MatchesAny("Brand-New-1!", history) {
		t.Fatal("unexpected history match")
	}
	if hasher.MatchesAny("History-1!", nil) {
		t.Fatal("empty history cannot match")
	}
}

func TestVerifyDummyDoesNotPanic(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	hasher.VerifyDummy("anything")
}
