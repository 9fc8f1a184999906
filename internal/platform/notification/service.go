package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/apperror"
)

// Service exposes a user's own inbox. Every operation is scoped to the
// acting user; nobody, admins included, reads another user's inbox here.
type Service struct {
	store Store
	guard access.Guard
}

func NewService(store Store, guard access.Guard) *Service {
	return &Service{store: store, guard: guard}
}

func (s *Service) check(actor access.Actor) error {
	return s.guard.Check(actor, access.ActionNotificationRead, access.Resource{Type: "notification", OwnerID: actor.ID})
}

func (s *Service) List(ctx context.Context, actor access.Actor, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	if err := s.check(actor); err != nil {
		return nil, 0, err
	}
	return s.store.ListForUser(ctx, actor.ID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, actor access.Actor) (int, error) {
	if err := s.check(actor); err != nil {
		return 0, err
	}
	return s.store.UnreadCount(ctx, actor.ID)
}

// MarkRead is idempotent. A notification owned by someone else is reported
// as not found.
func (s *Service) MarkRead(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := s.check(actor); err != nil {
		return err
	}
	ok, err := s.store.MarkRead(ctx, actor.ID, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("notification %s not found", id)
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, actor access.Actor) (int, error) {
	if err := s.check(actor); err != nil {
		return 0, err
	}
	return s.store.MarkAllRead(ctx, actor.ID)
}
