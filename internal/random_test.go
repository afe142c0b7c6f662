package internal

import (
	"encoding/base64"
	"testing"
)

func TestNewReferenceIsURLSafeAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		ref, err := NewReference()
		if err != nil {
			t.Fatalf("NewReference: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(ref)
		if err != nil || len(raw) != referenceSize {
			t.Fatalf("bad reference %q: %v", ref, err)
		}
		if _, dup := seen[ref]; dup {
			t.Fatalf("duplicate reference %q", ref)
		}
		seen[ref] = struct{}{}
	}
}

func TestNewChallengeLength(t *testing.T) {
	c, err := NewChallenge()
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	if len(c) != ChallengeSize {
		t.Fatalf("expected %d bytes, got %d", ChallengeSize, len(c))
	}
}

func TestRandomIndexBounds(t *testing.T) {
	if _, err := RandomIndex(0); err == nil {
		t.Fatal("expected error for zero bound")
	}
	for i := 0; i < 200; i++ {
		v, err := RandomIndex(32)
		if err != nil {
			t.Fatalf("RandomIndex: %v", err)
		}
		if v < 0 || v >= 32 {
			t.Fatalf("out of range: %d", v)
		}
	}
}
