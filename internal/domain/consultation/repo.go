package consultation

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts c. A second consultation for the same encounter is a
	// StateConflict.
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	// GetByEncounter returns NotFound when the encounter has no consultation.
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Consultation, error)
	// Mutate loads the consultation locked for update, applies fn and
	// persists the result when fn returns nil.
	Mutate(ctx context.Context, id uuid.UUID, fn func(c *Consultation) error) (*Consultation, error)
	List(ctx context.Context, f Filter) ([]*Consultation, int, error)
}
