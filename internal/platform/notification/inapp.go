package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification is the in-app inbox entry derived from an Event.
type Notification struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Type           EventType  `json:"type"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	ConsultationID *uuid.UUID `json:"consultation_id,omitempty"`
	MessageID      *uuid.UUID `json:"message_id,omitempty"`
	EncounterID    *uuid.UUID `json:"encounter_id,omitempty"`
	IsRead         bool       `json:"is_read"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkRead marks the notification read if it belongs to userID and
	// reports whether such a notification exists.
	MarkRead(ctx context.Context, userID, id uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
}

// InApp is the Publisher that writes events into the inbox store.
type InApp struct {
	store Store
}

func NewInApp(store Store) *InApp {
	return &InApp{store: store}
}

func (p *InApp) Publish(ctx context.Context, ev Event) error {
	n := Render(ev)
	if err := p.store.Create(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

// Render turns an event into the inbox entry shown to its target.
func Render(ev Event) *Notification {
	n := &Notification{
		ID:             uuid.New(),
		UserID:         ev.TargetUserID,
		Type:           ev.Type,
		ConsultationID: payloadID(ev.Payload, KeyConsultationID),
		MessageID:      payloadID(ev.Payload, KeyMessageID),
		EncounterID:    payloadID(ev.Payload, KeyEncounterID),
		CreatedAt:      ev.OccurredAt,
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	p := ev.Payload
	switch ev.Type {
	case EventConsultationRequested:
		n.Title = "New consultation request"
		n.Content = fmt.Sprintf("A %s consultation is waiting for a doctor.", orDefault(p[KeyPriority], "routine"))
	case EventConsultationAssigned:
		n.Title = "Consultation assigned"
		n.Content = "A doctor has accepted the consultation."
	case EventConsultationStarted:
		n.Title = "Consultation started"
		n.Content = "The doctor has started reviewing the case."
	case EventConsultationCompleted:
		n.Title = "Consultation completed"
		n.Content = "The doctor's assessment and recommendations are available."
	case EventConsultationCancelled:
		n.Title = "Consultation cancelled"
		n.Content = orDefault(p[KeyReason], "The consultation was cancelled.")
	case EventPriorityChanged:
		n.Title = "Consultation priority changed"
		n.Content = fmt.Sprintf("Priority is now %s.", p[KeyPriority])
	case EventMessageNew:
		n.Title = "New message"
		n.Content = orDefault(p[KeyPreview], "You have a new message.")
	default:
		n.Title = "Notification"
		n.Content = orDefault(p[KeyPreview], string(ev.Type))
	}
	return n
}

func payloadID(p map[string]string, key string) *uuid.UUID {
	raw, ok := p[key]
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
