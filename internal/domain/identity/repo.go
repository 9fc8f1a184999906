package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetForShare reads the user with a share lock held until the caller's
	// transaction ends, so role and active flag cannot change underneath it.
	GetForShare(ctx context.Context, id uuid.UUID) (*User, error)
	// Mutate loads the user locked for update, applies fn and persists the
	// result when fn returns nil.
	Mutate(ctx context.Context, id uuid.UUID, fn func(u *User) error) (*User, error)
	List(ctx context.Context, f ListFilter) ([]*User, int, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}
