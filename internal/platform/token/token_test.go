package token

import (
	"strings"
	"testing"
)

func TestNewShareToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, err := NewShareToken()
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		if len(tok) != 8 {
			t.Fatalf("expected 8 characters, got %q", tok)
		}
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("token %q is not URL-safe", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q after %d draws", tok, i)
		}
		seen[tok] = true
	}
}

func TestHashIP(t *testing.T) {
	h := HashIP("salt", "203.0.113.5")
	if len(h) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", h)
	}
	for _, c := range h {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("non-hex character %q in %q", c, h)
		}
	}

	if HashIP("salt", "203.0.113.5") != h {
		t.Fatalf("hash is not deterministic")
	}
	if HashIP("salt", "203.0.113.6") == h {
		t.Fatalf("distinct addresses must not collide")
	}
	if HashIP("other", "203.0.113.5") == h {
		t.Fatalf("distinct salts must produce distinct hashes")
	}
}

func TestHashIPEmptyAddress(t *testing.T) {
	h := HashIP("salt", "")
	if h != HashIP("salt", "unknown") {
		t.Fatalf("empty address should hash as unknown")
	}
	if len(h) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", h)
	}
}

func TestHashIPOversizedSalt(t *testing.T) {
	long := strings.Repeat("x", 200)
	if HashIP(long, "203.0.113.5") == "" {
		t.Fatalf("oversized salt must still produce a hash")
	}
}
