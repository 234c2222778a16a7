// Package notification delivers password reset emails.
package notification

import (
	"context"
	"log"
)

// Sender delivers a password reset link to the given address.
// Implementations must not log the reset URL.
type Sender interface {
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// LogSender records that a reset email would have been sent. Used in
// development when no mail provider is configured. The URL itself is not
// logged.
type LogSender struct{}

// SendPasswordReset logs the delivery without the reset URL.
func (LogSender) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	log.Printf("notification: password reset email for %s (delivery disabled)", email)
	return nil
}
