package token

import (
	"strings"
	"testing"
)

func TestHashKeyDeterministic(t *testing.T) {
	a := HashKey("gk_live_abcdef123456")
	b := HashKey("gk_live_abcdef123456")
	if a != b {
		t.Errorf("same input hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}

func TestHashKeyDistinct(t *testing.T) {
	if HashKey("key-one") == HashKey("key-two") {
		t.Error("different keys produced the same digest")
	}
}

func TestNewSessionToken(t *testing.T) {
	tok, err := NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken: %v", err)
	}
	if !strings.HasPrefix(tok, SessionTokenPrefix) {
		t.Errorf("token %q missing prefix %q", tok, SessionTokenPrefix)
	}
	// 32 random bytes hex-encoded
	if got := len(tok) - len(SessionTokenPrefix); got != 64 {
		t.Errorf("token entropy hex length = %d, want 64", got)
	}
}

func TestNewAPIKey(t *testing.T) {
	minted, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	if !strings.HasPrefix(minted.Raw, APIKeyPrefix) {
		t.Errorf("raw key %q missing prefix %q", minted.Raw, APIKeyPrefix)
	}
	if got := len(minted.Raw) - len(APIKeyPrefix); got != 64 {
		t.Errorf("raw key entropy hex length = %d, want 64", got)
	}
	if minted.Hash != HashKey(minted.Raw) {
		t.Error("hash does not match HashKey of the raw key")
	}
	if !strings.HasPrefix(minted.Raw, minted.Prefix) || len(minted.Prefix) != 16 {
		t.Errorf("display prefix %q is not the first 16 chars of the raw key", minted.Prefix)
	}
}

func TestNewSessionTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewSessionToken()
		if err != nil {
			t.Fatalf("NewSessionToken: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = true
	}
}
