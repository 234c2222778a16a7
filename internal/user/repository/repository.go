package repository

import (
	"context"
	"errors"

	"tripdeck/backend/internal/user/domain"
)

// ErrDuplicateEmail is returned by Create when a user with the same email
// already exists. The database unique index on LOWER(email) is the arbiter,
// so concurrent registrations cannot both succeed.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}
