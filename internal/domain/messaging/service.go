package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/domain/consultation"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/attachment"
	"github.com/vivamoms/consult/internal/platform/audit"
	"github.com/vivamoms/consult/internal/platform/db"
	"github.com/vivamoms/consult/internal/platform/notification"
	"github.com/vivamoms/consult/internal/platform/telemetry"
)

const (
	resourceType      = "message"
	DefaultEditWindow = 24 * time.Hour
	defaultLimit      = 50
	defaultStatsDays  = 30
	maxBulkRead       = 500
	previewLength     = 80
)

// Consultations gives messaging the participants of a consultation.
type Consultations interface {
	Lookup(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, evs ...notification.Event)
}

type Service struct {
	repo          Repository
	tx            db.Transactor
	audit         audit.Sink
	consultations Consultations
	attachments   *attachment.Verifier
	guard         access.Guard
	notifier      Notifier
	metrics       *telemetry.Metrics
	editWindow    time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

type Option func(*Service)

func WithGuard(g access.Guard) Option               { return func(s *Service) { s.guard = g } }
func WithLogger(l zerolog.Logger) Option            { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option         { return func(s *Service) { s.now = now } }
func WithNotifier(n Notifier) Option                { return func(s *Service) { s.notifier = n } }
func WithMetrics(m *telemetry.Metrics) Option       { return func(s *Service) { s.metrics = m } }
func WithAttachments(v *attachment.Verifier) Option { return func(s *Service) { s.attachments = v } }
func WithEditWindow(d time.Duration) Option         { return func(s *Service) { s.editWindow = d } }

func NewService(repo Repository, tx db.Transactor, sink audit.Sink, consultations Consultations, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		tx:            tx,
		audit:         sink,
		consultations: consultations,
		attachments:   attachment.NewVerifier(nil),
		editWindow:    DefaultEditWindow,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func resourceFor(c *consultation.Consultation) access.Resource {
	res := access.Resource{Type: resourceType, ChwID: c.ChwID, Status: string(c.Status)}
	if c.DoctorID != nil {
		res.DoctorID = *c.DoctorID
	}
	return res
}

func isParticipant(id uuid.UUID, res access.Resource) bool {
	return id != uuid.Nil && (id == res.ChwID || id == res.DoctorID)
}

// Send appends a participant message. The consultation's status does not
// matter: a closed consultation can still be discussed.
func (s *Service) Send(ctx context.Context, actor access.Actor, in SendInput) (*Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	c, err := s.consultations.Lookup(ctx, in.ConsultationID)
	if err != nil {
		return nil, err
	}
	res := resourceFor(c)
	res.SenderID = actor.ID
	res.RecipientID = in.RecipientID
	if err := s.guard.Check(actor, access.ActionMessageSend, res); err != nil {
		return nil, err
	}
	// Admins pass the guard but may still only address a participant.
	if !isParticipant(in.RecipientID, res) {
		return nil, apperror.StateConflict("recipient %s is not a participant of this consultation", in.RecipientID)
	}
	if in.Attachment != nil {
		if err := s.attachments.Check(ctx, *in.Attachment, in.Type.mediaPrefix()); err != nil {
			return nil, err
		}
	}

	m := &Message{
		ID:             uuid.New(),
		ConsultationID: c.ID,
		SenderID:       actor.ID,
		RecipientID:    in.RecipientID,
		Type:           in.Type,
		Content:        in.Content,
		Attachment:     in.Attachment,
		SentAt:         s.now().UTC(),
	}
	if in.ThreadID != "" {
		m.ThreadID = &in.ThreadID
	}
	if err := s.create(ctx, actor.ID, "message.send", m); err != nil {
		return nil, err
	}
	return m, nil
}

// SendSystem posts an admin-triggered notice into a consultation. It is
// authored on behalf of the recipient, so sender and recipient coincide.
func (s *Service) SendSystem(ctx context.Context, actor access.Actor, consultationID, recipientID uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.Validation("content is required")
	}
	if err := validContent(content); err != nil {
		return nil, err
	}
	c, err := s.consultations.Lookup(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	res := resourceFor(c)
	if err := s.guard.Check(actor, access.ActionMessageSystem, res); err != nil {
		return nil, err
	}
	if !isParticipant(recipientID, res) {
		return nil, apperror.StateConflict("recipient %s is not a participant of this consultation", recipientID)
	}
	m := &Message{
		ID:             uuid.New(),
		ConsultationID: c.ID,
		SenderID:       recipientID,
		RecipientID:    recipientID,
		Type:           TypeSystem,
		Content:        content,
		SentAt:         s.now().UTC(),
	}
	if err := s.create(ctx, actor.ID, "message.system", m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) create(ctx context.Context, actorID uuid.UUID, action string, m *Message) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, m); err != nil {
			return err
		}
		return s.record(ctx, actorID, action, m.ID, nil, m)
	})
	if err != nil {
		return err
	}
	s.metrics.MessageSent(string(m.Type))
	s.logger.Debug().
		Str("message_id", m.ID.String()).
		Str("consultation_id", m.ConsultationID.String()).
		Str("type", string(m.Type)).
		Msg("message sent")
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, notification.Event{
			Type:         notification.EventMessageNew,
			TargetUserID: m.RecipientID,
			OccurredAt:   m.SentAt,
			Payload: map[string]string{
				notification.KeyConsultationID: m.ConsultationID.String(),
				notification.KeyMessageID:      m.ID.String(),
				notification.KeyActorID:        actorID.String(),
				notification.KeyPreview:        preview(m),
			},
		})
	}
	return nil
}

func preview(m *Message) string {
	switch m.Type {
	case TypeImage:
		return "Sent an image"
	case TypeAudio:
		return "Sent a voice note"
	case TypeFile:
		return "Sent a file"
	}
	r := []rune(m.Content)
	if len(r) > previewLength {
		return string(r[:previewLength]) + "…"
	}
	return m.Content
}

// Edit replaces the content of the caller's own message within the edit
// window.
func (s *Service) Edit(ctx context.Context, actor access.Actor, id uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.Validation("content is required")
	}
	if err := validContent(content); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, access.ActionMessageEdit, "message.edit", id, func(m *Message, now time.Time) (bool, error) {
		switch {
		case m.Type == TypeSystem:
			return false, apperror.StateConflict("system messages cannot be edited")
		case m.IsDeleted:
			return false, apperror.StateConflict("message %s has been deleted", m.ID)
		case now.Sub(m.SentAt) > s.editWindow:
			return false, apperror.StateConflict("messages can only be edited within %s of sending", s.editWindow)
		}
		m.Content = content
		m.EditedAt = &now
		return true, nil
	})
}

// Delete soft-deletes the caller's own message, leaving a tombstone.
func (s *Service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) (*Message, error) {
	return s.mutate(ctx, actor, access.ActionMessageDelete, "message.delete", id, func(m *Message, _ time.Time) (bool, error) {
		if m.Type == TypeSystem {
			return false, apperror.StateConflict("system messages cannot be deleted")
		}
		if m.IsDeleted {
			return false, apperror.StateConflict("message %s is already deleted", m.ID)
		}
		m.IsDeleted = true
		m.Content = Tombstone
		m.Attachment = nil
		return true, nil
	})
}

// MarkRead is idempotent: marking a read message again changes nothing and
// records nothing.
func (s *Service) MarkRead(ctx context.Context, actor access.Actor, id uuid.UUID) (*Message, error) {
	return s.mutate(ctx, actor, access.ActionMessageMarkRead, "message.mark_read", id, func(m *Message, now time.Time) (bool, error) {
		if m.IsRead {
			return false, nil
		}
		m.IsRead = true
		m.ReadAt = &now
		return true, nil
	})
}

func (s *Service) mutate(
	ctx context.Context,
	actor access.Actor,
	action access.Action,
	auditAction string,
	id uuid.UUID,
	fn func(m *Message, now time.Time) (bool, error),
) (*Message, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := s.consultations.Lookup(ctx, current.ConsultationID)
	if err != nil {
		return nil, err
	}

	var out *Message
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var before Message
		changed := false
		m, err := s.repo.Mutate(ctx, id, func(m *Message) error {
			res := resourceFor(c)
			res.SenderID = m.SenderID
			res.RecipientID = m.RecipientID
			if err := s.guard.Check(actor, action, res); err != nil {
				return err
			}
			before = *m
			var err error
			changed, err = fn(m, s.now().UTC())
			return err
		})
		if err != nil {
			return err
		}
		out = m
		if !changed {
			return nil
		}
		return s.record(ctx, actor.ID, auditAction, id, &before, m)
	})
	return out, err
}

// MarkManyRead marks those of ids that are addressed to the caller and
// unread, and returns how many changed. Other ids are ignored.
func (s *Service) MarkManyRead(ctx context.Context, actor access.Actor, ids []uuid.UUID) (int, error) {
	if err := s.requireActive(actor); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > maxBulkRead {
		return 0, apperror.Validation("at most %d ids per request", maxBulkRead)
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	var changed []uuid.UUID
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		var err error
		if changed, err = s.repo.MarkManyRead(ctx, actor.ID, unique, now); err != nil {
			return err
		}
		for _, id := range changed {
			if err := s.record(ctx, actor.ID, "message.mark_read", id, nil, map[string]interface{}{"is_read": true, "read_at": now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}

// requireActive rejects inactive callers of queries that are implicitly
// scoped to the caller's own messages.
func (s *Service) requireActive(actor access.Actor) error {
	if actor.IsActive {
		return nil
	}
	return s.guard.Check(actor, access.ActionMessageRead, access.Resource{Type: resourceType})
}

// checkRead confirms the caller may read consultationID's messages.
func (s *Service) checkRead(ctx context.Context, actor access.Actor, consultationID uuid.UUID) error {
	c, err := s.consultations.Lookup(ctx, consultationID)
	if err != nil {
		return err
	}
	return s.guard.Check(actor, access.ActionMessageRead, resourceFor(c))
}

// scoped applies the common read checks: the caller is active and, when a
// consultation is named, may read it.
func (s *Service) scoped(ctx context.Context, actor access.Actor, consultationID *uuid.UUID) error {
	if err := s.requireActive(actor); err != nil {
		return err
	}
	if consultationID != nil {
		return s.checkRead(ctx, actor, *consultationID)
	}
	return nil
}

// UnreadCount counts messages addressed to the caller that are neither read
// nor deleted, optionally within one consultation.
func (s *Service) UnreadCount(ctx context.Context, actor access.Actor, consultationID *uuid.UUID) (int, error) {
	if err := s.scoped(ctx, actor, consultationID); err != nil {
		return 0, err
	}
	return s.repo.Count(ctx, Query{RecipientID: &actor.ID, UnreadOnly: true, ConsultationID: consultationID})
}

func (s *Service) ListUnread(ctx context.Context, actor access.Actor, consultationID *uuid.UUID, limit int) ([]*Message, error) {
	if err := s.scoped(ctx, actor, consultationID); err != nil {
		return nil, err
	}
	msgs, _, err := s.repo.List(ctx, Query{
		RecipientID:    &actor.ID,
		UnreadOnly:     true,
		ConsultationID: consultationID,
		NewestFirst:    true,
		Limit:          orDefault(limit),
	})
	return msgs, err
}

// ListForConsultation returns a consultation's messages oldest first.
func (s *Service) ListForConsultation(ctx context.Context, actor access.Actor, consultationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if err := s.checkRead(ctx, actor, consultationID); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, Query{ConsultationID: &consultationID, Limit: orDefault(limit), Offset: offset})
}

// Conversation returns the messages exchanged between the caller and other,
// in both directions, oldest first.
func (s *Service) Conversation(ctx context.Context, actor access.Actor, other uuid.UUID, consultationID *uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if other == actor.ID {
		return nil, 0, apperror.Validation("conversation needs another user")
	}
	if err := s.scoped(ctx, actor, consultationID); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, Query{
		Between:        &[2]uuid.UUID{actor.ID, other},
		ConsultationID: consultationID,
		Limit:          orDefault(limit),
		Offset:         offset,
	})
}

// Search finds the caller's messages containing term, newest first. Admins
// search every message.
func (s *Service) Search(ctx context.Context, actor access.Actor, term string, consultationID *uuid.UUID, typ Type, limit int) ([]*Message, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, apperror.Validation("search term is required")
	}
	if typ != "" && !typ.Valid() {
		return nil, apperror.Validation("invalid message_type %q", typ)
	}
	if err := s.scoped(ctx, actor, consultationID); err != nil {
		return nil, err
	}
	q := Query{ConsultationID: consultationID, Type: typ, Search: term, NewestFirst: true, Limit: orDefault(limit)}
	if actor.Role != access.RoleAdmin {
		q.Participant = &actor.ID
	}
	msgs, _, err := s.repo.List(ctx, q)
	return msgs, err
}

// Stats summarises the caller's messages sent over the last days days.
func (s *Service) Stats(ctx context.Context, actor access.Actor, consultationID *uuid.UUID, days int) (Stats, error) {
	if days <= 0 {
		days = defaultStatsDays
	}
	if err := s.scoped(ctx, actor, consultationID); err != nil {
		return Stats{}, err
	}
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	q := Query{ConsultationID: consultationID, Since: &since}
	if consultationID == nil && actor.Role != access.RoleAdmin {
		q.Participant = &actor.ID
	}
	msgs, _, err := s.repo.List(ctx, q)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(msgs, actor.ID), nil
}

func orDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

func (s *Service) record(ctx context.Context, actorID uuid.UUID, action string, id uuid.UUID, before, after interface{}) error {
	rec, err := audit.New(actorID, action, resourceType, id, before, after, s.now())
	if err != nil {
		return err
	}
	return s.audit.Record(ctx, rec)
}
