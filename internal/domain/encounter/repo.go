package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// GetForUpdate locks the row for the rest of the caller's transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// Mutate loads the encounter locked for update, applies fn and persists
	// the result when fn returns nil.
	Mutate(ctx context.Context, id uuid.UUID, fn func(e *Encounter) error) (*Encounter, error)
	List(ctx context.Context, f Filter) ([]*Encounter, int, error)
}
