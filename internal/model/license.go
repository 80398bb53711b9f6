package model

import "time"

// License status values. Suspended and expired are terminal for issuance
// but do not retroactively invalidate already-issued sessions.
const (
	LicenseActive    = "active"
	LicenseSuspended = "suspended"
	LicenseExpired   = "expired"
)

// License governs whether a game may mint sessions and at what tier.
type License struct {
	ID         int64      `json:"id" db:"id"`
	GameID     int64      `json:"game_id" db:"game_id"`
	Tier       Tier       `json:"tier" db:"tier"`
	Status     string     `json:"status" db:"status"`
	IsInternal bool       `json:"is_internal" db:"is_internal"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// CanIssue reports whether this license currently permits minting a new
// session. Status and time-based expiry are checked independently: a
// license can be past its expiry before the status field catches up.
func (l *License) CanIssue(now time.Time) bool {
	if l.Status != LicenseActive {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return true
}

// TimeExpired reports whether the license has a hard expiry in the past,
// regardless of its status field.
func (l *License) TimeExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}
