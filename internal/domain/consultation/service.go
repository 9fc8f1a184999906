package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/domain/encounter"
	"github.com/vivamoms/consult/internal/domain/identity"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/audit"
	"github.com/vivamoms/consult/internal/platform/db"
	"github.com/vivamoms/consult/internal/platform/notification"
	"github.com/vivamoms/consult/internal/platform/telemetry"
)

const (
	resourceType     = "consultation"
	defaultPoolLimit = 50
	poolBroadcastMax = 200
)

// EncounterStore is the part of the encounter service consultations drive.
type EncounterStore interface {
	Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*encounter.Encounter, error)
	Lock(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	SyncStatus(ctx context.Context, actorID, id uuid.UUID, to encounter.Status) (bool, error)
}

// Directory resolves users referenced by a transition.
type Directory interface {
	Lookup(ctx context.Context, id uuid.UUID) (*identity.User, error)
	LookupLocked(ctx context.Context, id uuid.UUID) (*identity.User, error)
	ActiveIDs(ctx context.Context, role access.Role, max int) ([]uuid.UUID, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, evs ...notification.Event)
}

type Service struct {
	repo       Repository
	tx         db.Transactor
	audit      audit.Sink
	encounters EncounterStore
	users      Directory
	guard      access.Guard
	notifier   Notifier
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithGuard(g access.Guard) Option         { return func(s *Service) { s.guard = g } }
func WithLogger(l zerolog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }
func WithNotifier(n Notifier) Option          { return func(s *Service) { s.notifier = n } }
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }

func NewService(repo Repository, tx db.Transactor, sink audit.Sink, encounters EncounterStore, users Directory, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		tx:         tx,
		audit:      sink,
		encounters: encounters,
		users:      users,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create escalates an encounter into a consultation request. The encounter
// row stays locked until commit, so two concurrent requests for the same
// encounter cannot both pass the existence check.
func (s *Service) Create(ctx context.Context, actor access.Actor, in CreateInput) (*Consultation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var c *Consultation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		enc, err := s.encounters.Lock(ctx, in.EncounterID)
		if err != nil {
			return err
		}
		if err := s.guard.Check(actor, access.ActionConsultationCreate, access.Resource{Type: resourceType, ChwID: enc.ChwID}); err != nil {
			return err
		}
		switch existing, err := s.repo.GetByEncounter(ctx, enc.ID); {
		case err == nil:
			return apperror.StateConflict("encounter %s already has consultation %s", enc.ID, existing.ID)
		case !apperror.Is(err, apperror.KindNotFound):
			return err
		}

		c = &Consultation{
			ID:               uuid.New(),
			EncounterID:      enc.ID,
			PatientID:        enc.PatientID,
			ChwID:            enc.ChwID,
			Status:           StatusRequested,
			Priority:         in.Priority,
			ConsultationType: in.ConsultationType,
			Reason:           in.Reason,
			RequestedAt:      s.now().UTC(),
		}
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		if err := s.record(ctx, actor.ID, "consultation.create", c.ID, nil, c); err != nil {
			return err
		}
		_, err = s.encounters.SyncStatus(ctx, actor.ID, enc.ID, encounter.StatusInConsultation)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition("create")
	s.logger.Info().
		Str("consultation_id", c.ID.String()).
		Str("encounter_id", c.EncounterID.String()).
		Str("priority", string(c.Priority)).
		Msg("consultation requested")
	s.dispatch(ctx, s.requestedEvents(ctx, actor, c))
	return c, nil
}

// requestedEvents tells every active doctor about the new pool entry, and
// the chw when an admin filed the request on their behalf.
func (s *Service) requestedEvents(ctx context.Context, actor access.Actor, c *Consultation) []notification.Event {
	if s.notifier == nil {
		return nil
	}
	var evs []notification.Event
	doctors, err := s.users.ActiveIDs(ctx, access.RoleDoctor, poolBroadcastMax)
	if err != nil {
		s.logger.Warn().Err(err).Msg("listing doctors for pool notification")
	}
	for _, id := range doctors {
		evs = append(evs, s.event(notification.EventConsultationRequested, id, actor.ID, c))
	}
	if actor.ID != c.ChwID {
		evs = append(evs, s.event(notification.EventConsultationRequested, c.ChwID, actor.ID, c))
	}
	return evs
}

// Assign hands a requested consultation to a doctor. A doctor may only take
// it for themselves; admins may pick any active doctor.
func (s *Service) Assign(ctx context.Context, actor access.Actor, id, doctorID uuid.UUID) (*Consultation, error) {
	if doctorID == uuid.Nil {
		return nil, apperror.Validation("doctor_id is required")
	}
	if err := s.requireActiveDoctor(ctx, s.users.Lookup, doctorID); err != nil {
		return nil, err
	}

	prospective := func(c *Consultation) access.Resource {
		return access.Resource{Type: resourceType, ChwID: c.ChwID, DoctorID: doctorID, Status: string(c.Status)}
	}
	return s.transition(ctx, actor, id, access.ActionConsultationAssign, StatusAssigned, prospective, func(ctx context.Context, c *Consultation, now time.Time) error {
		// Re-read under a row lock: a concurrent deactivation either
		// commits first and fails this check, or waits for the assignment.
		if err := s.requireActiveDoctor(ctx, s.users.LookupLocked, doctorID); err != nil {
			return err
		}
		c.DoctorID = &doctorID
		c.AssignedAt = &now
		return nil
	}, nil)
}

func (s *Service) requireActiveDoctor(ctx context.Context, lookup func(context.Context, uuid.UUID) (*identity.User, error), id uuid.UUID) error {
	doc, err := lookup(ctx, id)
	if err != nil {
		return err
	}
	if doc.Role != access.RoleDoctor || !doc.IsActive {
		return apperror.Validation("user %s is not an active doctor", id)
	}
	return nil
}

func (s *Service) Start(ctx context.Context, actor access.Actor, id uuid.UUID) (*Consultation, error) {
	return s.transition(ctx, actor, id, access.ActionConsultationStart, StatusInProgress, nil, func(_ context.Context, c *Consultation, now time.Time) error {
		c.StartedAt = &now
		return nil
	}, nil)
}

// Complete closes an in-progress consultation with the doctor's outcome and
// closes the encounter with it.
func (s *Service) Complete(ctx context.Context, actor access.Actor, id uuid.UUID, in CompleteInput) (*Consultation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	c, err := s.transition(ctx, actor, id, access.ActionConsultationComplete, StatusCompleted, nil, func(_ context.Context, c *Consultation, now time.Time) error {
		started := now
		if c.StartedAt != nil {
			started = *c.StartedAt
		}
		minutes, anomaly := Duration(started, now)
		c.CompletedAt = &now
		c.DurationMinutes = &minutes
		c.DurationAnomaly = anomaly
		c.Assessment = &in.Assessment
		c.Recommendations = in.Recommendations
		c.FollowUp = in.FollowUp
		c.Referral = in.Referral
		if in.DoctorNotes != "" {
			notes := in.DoctorNotes
			c.DoctorNotes = &notes
		}
		if anomaly {
			s.logger.Warn().
				Str("consultation_id", c.ID.String()).
				Time("started_at", started).
				Time("completed_at", now).
				Msg("consultation duration clamped")
		}
		return nil
	}, s.syncEncounter(encounter.StatusCompleted))
	if err != nil {
		return nil, err
	}
	s.metrics.Completed(*c.DurationMinutes, c.DurationAnomaly)
	return c, nil
}

// Cancel ends a consultation that has not finished. The reason, if any, is
// kept in the notes.
func (s *Service) Cancel(ctx context.Context, actor access.Actor, id uuid.UUID, reason string) (*Consultation, error) {
	notes := "Cancelled"
	if reason != "" {
		notes = "Cancelled: " + reason
	}
	return s.transition(ctx, actor, id, access.ActionConsultationCancel, StatusCancelled, nil, func(_ context.Context, c *Consultation, _ time.Time) error {
		c.Notes = &notes
		return nil
	}, s.syncEncounter(encounter.StatusCancelled))
}

// UpdatePriority changes the priority of an open consultation. It is not a
// status transition, so it is checked and audited on its own.
func (s *Service) UpdatePriority(ctx context.Context, actor access.Actor, id uuid.UUID, p Priority) (*Consultation, error) {
	if !p.Valid() {
		return nil, apperror.Validation("invalid priority %q", p)
	}
	var out *Consultation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var before Consultation
		c, err := s.repo.Mutate(ctx, id, func(c *Consultation) error {
			if err := s.guard.Check(actor, access.ActionConsultationPriority, s.resource(c)); err != nil {
				return err
			}
			if c.Status.Terminal() {
				return apperror.StateConflict("consultation %s is %s", c.ID, c.Status)
			}
			before = *c
			c.Priority = p
			return nil
		})
		if err != nil {
			return err
		}
		out = c
		return s.record(ctx, actor.ID, "consultation.update_priority", id, &before, c)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition("update_priority")
	s.dispatch(ctx, s.counterparties(notification.EventPriorityChanged, actor.ID, out))
	return out, nil
}

// transition runs one lifecycle edge: lock, check the guard against res (or
// the stored ownership), check the edge, apply, audit, then run after inside
// the same transaction. Events go out after commit.
func (s *Service) transition(
	ctx context.Context,
	actor access.Actor,
	id uuid.UUID,
	action access.Action,
	to Status,
	res func(*Consultation) access.Resource,
	apply func(ctx context.Context, c *Consultation, now time.Time) error,
	after func(ctx context.Context, actorID uuid.UUID, c *Consultation) error,
) (*Consultation, error) {
	if res == nil {
		res = s.resource
	}
	name := transitionName(to)
	var out *Consultation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var before Consultation
		c, err := s.repo.Mutate(ctx, id, func(c *Consultation) error {
			if err := s.guard.Check(actor, action, res(c)); err != nil {
				return err
			}
			if !CanTransition(c.Status, to) {
				return apperror.StateConflict("consultation cannot move from %s to %s", c.Status, to)
			}
			before = *c
			c.Status = to
			return apply(ctx, c, s.now().UTC())
		})
		if err != nil {
			return err
		}
		out = c
		if err := s.record(ctx, actor.ID, "consultation."+name, id, &before, c); err != nil {
			return err
		}
		if after != nil {
			return after(ctx, actor.ID, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(name)
	s.logger.Info().
		Str("consultation_id", out.ID.String()).
		Str("actor_id", actor.ID.String()).
		Str("status", string(out.Status)).
		Msg("consultation " + name)
	s.dispatch(ctx, s.counterparties(eventFor(to), actor.ID, out))
	return out, nil
}

func (s *Service) dispatch(ctx context.Context, evs []notification.Event) {
	if s.notifier != nil && len(evs) > 0 {
		s.notifier.Dispatch(ctx, evs...)
	}
}

func (s *Service) syncEncounter(to encounter.Status) func(context.Context, uuid.UUID, *Consultation) error {
	return func(ctx context.Context, actorID uuid.UUID, c *Consultation) error {
		_, err := s.encounters.SyncStatus(ctx, actorID, c.EncounterID, to)
		return err
	}
}

func transitionName(to Status) string {
	switch to {
	case StatusAssigned:
		return "assign"
	case StatusInProgress:
		return "start"
	case StatusCompleted:
		return "complete"
	case StatusCancelled:
		return "cancel"
	}
	return string(to)
}

func eventFor(to Status) notification.EventType {
	switch to {
	case StatusAssigned:
		return notification.EventConsultationAssigned
	case StatusInProgress:
		return notification.EventConsultationStarted
	case StatusCompleted:
		return notification.EventConsultationCompleted
	case StatusCancelled:
		return notification.EventConsultationCancelled
	}
	return notification.EventType("consultation." + string(to))
}

// counterparties addresses one event to each participant other than the
// actor.
func (s *Service) counterparties(typ notification.EventType, actorID uuid.UUID, c *Consultation) []notification.Event {
	if s.notifier == nil {
		return nil
	}
	var evs []notification.Event
	for _, id := range []uuid.UUID{c.ChwID, c.doctor()} {
		if id != uuid.Nil && id != actorID {
			evs = append(evs, s.event(typ, id, actorID, c))
		}
	}
	return evs
}

func (s *Service) event(typ notification.EventType, target, actorID uuid.UUID, c *Consultation) notification.Event {
	payload := map[string]string{
		notification.KeyConsultationID: c.ID.String(),
		notification.KeyEncounterID:    c.EncounterID.String(),
		notification.KeyActorID:        actorID.String(),
		notification.KeyPriority:       string(c.Priority),
	}
	if c.Notes != nil && c.Status == StatusCancelled {
		payload[notification.KeyReason] = *c.Notes
	}
	return notification.Event{Type: typ, TargetUserID: target, Payload: payload, OccurredAt: s.now().UTC()}
}

func (s *Service) resource(c *Consultation) access.Resource {
	return access.Resource{Type: resourceType, ChwID: c.ChwID, DoctorID: c.doctor(), Status: string(c.Status)}
}

func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(actor, access.ActionConsultationRead, s.resource(c)); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup reads a consultation without an access check. Messaging uses it to
// find the two participants and applies its own rules.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetByID(ctx, id)
}

// Details is a consultation together with the encounter it escalates.
type Details struct {
	*Consultation
	Encounter *encounter.Encounter `json:"encounter"`
}

func (s *Service) GetDetails(ctx context.Context, actor access.Actor, id uuid.UUID) (*Details, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	enc, err := s.encounters.Get(ctx, actor, c.EncounterID)
	if err != nil {
		return nil, err
	}
	return &Details{Consultation: c, Encounter: enc}, nil
}

// LinkFor implements encounter.LinkResolver.
func (s *Service) LinkFor(ctx context.Context, encounterID uuid.UUID) (*encounter.Link, error) {
	c, err := s.repo.GetByEncounter(ctx, encounterID)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &encounter.Link{ConsultationID: c.ID, DoctorID: c.doctor(), Status: string(c.Status)}, nil
}

// List returns consultations in the caller's scope, newest request first.
// Without an explicit filter a chw sees their requests and a doctor their
// assignments; naming somebody else's id is Forbidden.
func (s *Service) List(ctx context.Context, actor access.Actor, f Filter) ([]*Consultation, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperror.Validation("invalid status %q", f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, 0, apperror.Validation("invalid priority %q", f.Priority)
	}
	switch actor.Role {
	case access.RoleCHW:
		if f.ChwID == nil {
			f.ChwID = &actor.ID
		}
	case access.RoleDoctor:
		if f.DoctorID == nil {
			f.DoctorID = &actor.ID
		}
	}
	res := access.Resource{Type: resourceType}
	if f.ChwID != nil {
		res.ChwID = *f.ChwID
	}
	if f.DoctorID != nil {
		res.DoctorID = *f.DoctorID
	}
	if err := s.guard.Check(actor, access.ActionConsultationRead, res); err != nil {
		return nil, 0, err
	}
	f.PoolOrder = false
	return s.repo.List(ctx, f)
}

// PendingPool lists requested consultations in triage order. Assigned
// consultations drop out of the pool as soon as the assignment commits.
func (s *Service) PendingPool(ctx context.Context, actor access.Actor, p Priority, limit int) ([]*Consultation, error) {
	if err := s.guard.Check(actor, access.ActionPendingPoolRead, access.Resource{Type: resourceType, Status: string(StatusRequested)}); err != nil {
		return nil, err
	}
	if p != "" && !p.Valid() {
		return nil, apperror.Validation("invalid priority %q", p)
	}
	if limit <= 0 {
		limit = defaultPoolLimit
	}
	cs, _, err := s.repo.List(ctx, Filter{Status: StatusRequested, Priority: p, PoolOrder: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	SortPendingPool(cs)
	return cs, nil
}

func (s *Service) record(ctx context.Context, actorID uuid.UUID, action string, id uuid.UUID, before, after interface{}) error {
	rec, err := audit.New(actorID, action, resourceType, id, before, after, s.now())
	if err != nil {
		return err
	}
	return s.audit.Record(ctx, rec)
}
