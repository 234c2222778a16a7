package domain

import "time"

// AuditLog represents one recorded auth event.
type AuditLog struct {
	ID        string
	UserID    string // empty when the actor is unknown, e.g. a failed login
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
