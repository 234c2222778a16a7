package domain

import "time"

// Reset is a single-use password reset grant. Only the SHA-256 hash of the
// token is stored; the plaintext token leaves the system once, in the email.
type Reset struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time // nil until the token is used
	CreatedAt  time.Time
}

// Usable reports whether the reset can still be redeemed at the given instant.
func (r *Reset) Usable(now time.Time) bool {
	if r.ConsumedAt != nil {
		return false
	}
	return now.Before(r.ExpiresAt)
}
