// Package auth tests cover secret hashing and API key matching.
package auth

import (
	"strings"
	"testing"
)

// TestHashAndVerifySecret checks the positive and negative verify paths.
func TestHashAndVerifySecret(t *testing.T) {
	h, err := HashSecret("hunter2")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if !strings.Contains(h, "argon2id") {
		t.Fatalf("unexpected hash format: %q", h)
	}

	ok, err := VerifySecret("hunter2", h)
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if !ok {
		t.Fatalf("expected secret to verify")
	}

	ok, err = VerifySecret("hunter3", h)
	if err != nil {
		t.Fatalf("VerifySecret(wrong): %v", err)
	}
	if ok {
		t.Fatalf("expected wrong secret to fail")
	}
}

// TestVerifySecretRejectsGarbage errors on malformed encodings.
func TestVerifySecretRejectsGarbage(t *testing.T) {
	for _, bad := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=4$c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=0,t=3,p=4$c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
	} {
		if _, err := VerifySecret("x", bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

// TestVerifySecretEmptyInputs treats empty input as a clean mismatch.
func TestVerifySecretEmptyInputs(t *testing.T) {
	ok, err := VerifySecret("", "whatever")
	if err != nil || ok {
		t.Fatalf("empty secret: ok=%v err=%v", ok, err)
	}
	ok, err = VerifySecret("x", "")
	if err != nil || ok {
		t.Fatalf("empty hash: ok=%v err=%v", ok, err)
	}
}

// TestNewToken produces distinct URL-safe tokens.
func TestNewToken(t *testing.T) {
	a, err := NewToken(32)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	b, err := NewToken(32)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if a == b {
		t.Fatalf("tokens must differ")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("token not URL-safe: %q", a)
	}
	if _, err := NewToken(8); err == nil {
		t.Fatalf("expected error for small token size")
	}
}

// TestMatchAPIKey matches members only.
func TestMatchAPIKey(t *testing.T) {
	keys := []string{"alpha-key", "beta-key"}
	if !MatchAPIKey("beta-key", keys) {
		t.Fatalf("expected member key to match")
	}
	if MatchAPIKey("gamma-key", keys) {
		t.Fatalf("unexpected match")
	}
	if MatchAPIKey("", keys) {
		t.Fatalf("empty candidate must not match")
	}
	if MatchAPIKey("alpha-key", nil) {
		t.Fatalf("no keys configured must not match")
	}
}
