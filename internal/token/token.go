// Package token hashes raw credentials for storage lookup and generates
// opaque API keys and session tokens.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SessionTokenPrefix identifies session tokens at a glance without
// revealing anything about their contents.
const SessionTokenPrefix = "gk_sess_"

// sessionTokenBytes is the entropy of a session token. 32 bytes is well
// above the 128-bit floor required for the token to double as an
// unguessable lookup key.
const sessionTokenBytes = 32

// HashKey returns the hex-encoded SHA-256 digest of a raw API key. The
// digest is the only form of the key that is ever persisted or compared;
// callers must discard the raw key immediately after hashing.
func HashKey(rawKey string) string {
	h := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(h[:])
}

// NewSessionToken generates a cryptographically random session token.
// An RNG failure is fatal to the request: a weak token must never be
// silently returned.
func NewSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return SessionTokenPrefix + hex.EncodeToString(buf), nil
}

// APIKeyPrefix identifies raw API keys at a glance.
const APIKeyPrefix = "gk_live_"

// apiKeyBytes is the entropy of a raw API key.
const apiKeyBytes = 32

// apiKeyDisplayLen is how much of the raw key is kept as the stored,
// listable prefix: "gk_live_" plus the first 8 hex characters.
const apiKeyDisplayLen = 16

// MintedKey is a freshly generated API key in the forms its callers need:
// the raw key for one-time display, the hash for storage, and the display
// prefix. Only Hash and Prefix may be persisted.
type MintedKey struct {
	Raw    string
	Hash   string
	Prefix string
}

// NewAPIKey generates a cryptographically random API key.
func NewAPIKey() (*MintedKey, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := APIKeyPrefix + hex.EncodeToString(buf)
	return &MintedKey{
		Raw:    raw,
		Hash:   HashKey(raw),
		Prefix: raw[:apiKeyDisplayLen],
	}, nil
}
