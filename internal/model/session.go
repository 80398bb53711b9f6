package model

import (
	"encoding/json"
	"time"
)

// Session is the short-lived trust object minted from a valid API key and
// license. The token is the external handle and the lookup key; it is
// high-entropy random, so it is stored as-is rather than hashed.
type Session struct {
	ID         int64     `json:"id" db:"id"`
	Token      string    `json:"token" db:"token"`
	APIKeyID   int64     `json:"api_key_id" db:"api_key_id"`
	GameID     int64     `json:"game_id" db:"game_id"`
	UniverseID string    `json:"universe_id" db:"universe_id"`
	PlaceID    *string   `json:"place_id,omitempty" db:"place_id"`
	JobID      *string   `json:"job_id,omitempty" db:"job_id"`
	Tier       Tier      `json:"tier" db:"tier"`
	ScopesJSON string    `json:"-" db:"scopes"` // JSON-encoded scope array as stored
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Scopes decodes the stored scope set. A corrupt scopes column yields an
// empty set, never an error: a session that cannot prove its scopes has none.
func (s *Session) Scopes() []string {
	var scopes []string
	if err := json.Unmarshal([]byte(s.ScopesJSON), &scopes); err != nil {
		return nil
	}
	return scopes
}

// SetScopes encodes the scope set for storage.
func (s *Session) SetScopes(scopes []string) {
	b, _ := json.Marshal(scopes)
	s.ScopesJSON = string(b)
}

// Expired reports whether the session's expiry has passed. A durable row
// past its expiry is invalid even if not yet deleted.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
