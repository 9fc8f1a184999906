package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// Mutate loads the message locked for update, applies fn and persists
	// the result when fn returns nil.
	Mutate(ctx context.Context, id uuid.UUID, fn func(m *Message) error) (*Message, error)
	// MarkManyRead marks the unread messages among ids addressed to
	// recipientID and returns the ids it changed.
	MarkManyRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error)
	List(ctx context.Context, q Query) ([]*Message, int, error)
	Count(ctx context.Context, q Query) (int, error)
}
