// Package events publishes security events to Kafka for downstream consumers
// (fraud detection, analytics). Emission is best-effort and never blocks or
// fails the auth flow that produced the event.
package events

import "time"

// Event types published by the auth flows.
const (
	TypeUserRegistered         = "user.registered"
	TypeLoginSucceeded         = "user.login_succeeded"
	TypeLoginFailed            = "user.login_failed"
	TypeSessionRevoked         = "session.revoked"
	TypeTokenRefreshed         = "session.token_refreshed"
	TypeRefreshReuseDetected   = "session.refresh_reuse_detected"
	TypePasswordResetRequested = "password.reset_requested"
	TypePasswordResetCompleted = "password.reset_completed"
)

// Event is one security event. UserID and SessionID are empty when unknown,
// e.g. a failed login for a nonexistent account.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	At        time.Time `json:"at"`
}
