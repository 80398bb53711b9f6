package model

import "time"

// Game is a tenant on the hosting platform. UniverseID is the external
// platform identifier the game server must present at validation time;
// a key bound to one game cannot be replayed against another universe.
type Game struct {
	ID         int64     `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	UniverseID string    `json:"universe_id" db:"universe_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
