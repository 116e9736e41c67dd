package scylla

import (
	"context"
	"errors"

	"estate-auth/internal/models"
)

// ErrUserNotFound is returned when no user row matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// UserStore is the persistence surface the auth services depend on.
type UserStore interface {
	// FindByPhone resolves a user through any of the given phone number
	// representations. Returns ErrUserNotFound when none match.
	FindByPhone(ctx context.Context, candidates []string) (*models.AuthUser, error)

	// FindByID loads a user by id. Returns ErrUserNotFound when absent.
	FindByID(ctx context.Context, userID string) (*models.AuthUser, error)

	// UpdateLoginBookkeeping records a successful login on the user row.
	UpdateLoginBookkeeping(ctx context.Context, user *models.AuthUser) error

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}
