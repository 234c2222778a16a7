package domain

import "time"

// Session represents a user session created at login. A session stays valid
// until it expires or is revoked, whichever comes first.
type Session struct {
	ID               string
	UserID           string
	IPAddress        string
	UserAgent        string
	Fingerprint      string
	ExpiresAt        time.Time
	RevokedAt        *time.Time // nil when not revoked
	LastSeenAt       *time.Time
	RefreshJti       string // current refresh token jti for rotation; empty if not set
	RefreshTokenHash string // SHA-256 hash of current refresh token
	CreatedAt        time.Time
}

// Live reports whether the session is usable at the given instant. A session
// exactly at its expiry is no longer live.
func (s *Session) Live(now time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return now.Before(s.ExpiresAt)
}
