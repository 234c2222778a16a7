package repository

import (
	"context"
	"time"

	"tripdeck/backend/internal/passwordreset/domain"
)

// Repository defines persistence for password resets.
type Repository interface {
	Create(ctx context.Context, r *domain.Reset) error
	// Consume atomically marks the reset matching tokenHash as used and
	// returns it. Returns nil if no unconsumed reset matches, so two
	// concurrent redemptions of the same token yield one winner.
	Consume(ctx context.Context, tokenHash string, at time.Time) (*domain.Reset, error)
	InvalidateByUser(ctx context.Context, userID string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
