package encounter

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/audit"
	"github.com/vivamoms/consult/internal/platform/db"
)

const (
	resourceType      = "encounter"
	defaultRecentDays = 7
	defaultUrgentMax  = 50
)

// Link describes the consultation escalated from an encounter.
type Link struct {
	ConsultationID uuid.UUID
	DoctorID       uuid.UUID
	Status         string
}

// LinkResolver finds the consultation of an encounter, or nil when there is
// none. Doctors read encounters through that consultation.
type LinkResolver interface {
	LinkFor(ctx context.Context, encounterID uuid.UUID) (*Link, error)
}

type Service struct {
	repo   Repository
	tx     db.Transactor
	audit  audit.Sink
	guard  access.Guard
	links  LinkResolver
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithGuard(g access.Guard) Option       { return func(s *Service) { s.guard = g } }
func WithLogger(l zerolog.Logger) Option    { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, tx db.Transactor, sink audit.Sink, opts ...Option) *Service {
	s := &Service{repo: repo, tx: tx, audit: sink, logger: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetLinkResolver wires the consultation lookup. It is set after
// construction because the consultation service itself depends on this one.
func (s *Service) SetLinkResolver(l LinkResolver) {
	s.links = l
}

func (s *Service) Create(ctx context.Context, actor access.Actor, in CreateInput) (*Encounter, error) {
	if in.ChwID == uuid.Nil {
		if actor.Role == access.RoleAdmin {
			return nil, apperror.Validation("chw_id is required")
		}
		in.ChwID = actor.ID
	}
	if err := s.guard.Check(actor, access.ActionEncounterCreate, access.Resource{Type: resourceType, ChwID: in.ChwID}); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if in.EncounterDate.IsZero() {
		in.EncounterDate = now
	}
	if in.EncounterDate.After(now.Add(time.Hour)) {
		return nil, apperror.Validation("encounter_date is in the future")
	}

	e := &Encounter{
		ID:                      uuid.New(),
		PatientID:               in.PatientID,
		ChwID:                   in.ChwID,
		EncounterType:           in.EncounterType,
		Status:                  StatusPending,
		UrgencyLevel:            in.UrgencyLevel,
		Vitals:                  in.Vitals,
		Symptoms:                in.Symptoms,
		ChiefComplaint:          strings.TrimSpace(in.ChiefComplaint),
		HistoryOfPresentIllness: in.HistoryOfPresentIllness,
		PhysicalExamination:     in.PhysicalExamination,
		ClinicalNotes:           in.ClinicalNotes,
		Location:                in.Location,
		EncounterDate:           in.EncounterDate.UTC(),
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		return s.record(ctx, actor.ID, "encounter.create", e.ID, nil, e)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("encounter_id", e.ID.String()).Str("urgency", string(e.UrgencyLevel)).Msg("encounter recorded")
	return e, nil
}

func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Encounter, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.resource(ctx, actor, e)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(actor, access.ActionEncounterRead, res); err != nil {
		return nil, err
	}
	return e, nil
}

// resource builds the guard resource for e. Doctor reads are decided by the
// linked consultation, so only they pay for the lookup.
func (s *Service) resource(ctx context.Context, actor access.Actor, e *Encounter) (access.Resource, error) {
	res := access.Resource{Type: resourceType, ChwID: e.ChwID}
	if actor.Role != access.RoleDoctor || s.links == nil {
		return res, nil
	}
	link, err := s.links.LinkFor(ctx, e.ID)
	if err != nil {
		return res, err
	}
	if link != nil {
		res.DoctorID = link.DoctorID
		res.Status = link.Status
	}
	return res, nil
}

// UpdateContent edits the clinical content of an open encounter.
func (s *Service) UpdateContent(ctx context.Context, actor access.Actor, id uuid.UUID, upd ContentUpdate) (*Encounter, error) {
	return s.mutate(ctx, actor, "encounter.update", id, func(e *Encounter) error {
		if e.Status.Terminal() {
			return apperror.StateConflict("encounter %s is %s and can no longer be edited", e.ID, e.Status)
		}
		return upd.apply(e)
	})
}

// UpdateStatus moves the encounter forward. Backward moves and moves out of
// a terminal status are conflicts.
func (s *Service) UpdateStatus(ctx context.Context, actor access.Actor, id uuid.UUID, to Status) (*Encounter, error) {
	if !to.Valid() {
		return nil, apperror.Validation("invalid status %q", to)
	}
	return s.mutate(ctx, actor, "encounter.status."+string(to), id, func(e *Encounter) error {
		if !CanTransition(e.Status, to) {
			return apperror.StateConflict("encounter cannot move from %s to %s", e.Status, to)
		}
		e.Status = to
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, actor access.Actor, action string, id uuid.UUID, fn func(*Encounter) error) (*Encounter, error) {
	var out *Encounter
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var before Encounter
		e, err := s.repo.Mutate(ctx, id, func(e *Encounter) error {
			if err := s.guard.Check(actor, access.ActionEncounterUpdate, access.Resource{Type: resourceType, ChwID: e.ChwID}); err != nil {
				return err
			}
			before = *e
			return fn(e)
		})
		if err != nil {
			return err
		}
		out = e
		return s.record(ctx, actor.ID, action, id, &before, e)
	})
	return out, err
}

// Lock reads the encounter with a row lock held until the caller's
// transaction ends. No access check; callers apply their own.
func (s *Service) Lock(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetForUpdate(ctx, id)
}

// SyncStatus applies a status change driven by the encounter's consultation.
// It is a no-op when the encounter already moved past the point where to is
// reachable, and reports whether anything changed.
func (s *Service) SyncStatus(ctx context.Context, actorID uuid.UUID, id uuid.UUID, to Status) (bool, error) {
	changed := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var before Encounter
		e, err := s.repo.Mutate(ctx, id, func(e *Encounter) error {
			before = *e
			if CanTransition(e.Status, to) {
				e.Status = to
				changed = true
			}
			return nil
		})
		if err != nil || !changed {
			return err
		}
		return s.record(ctx, actorID, "encounter.status."+string(to), id, &before, e)
	})
	return changed, err
}

// scope resolves which chw's encounters a list query covers. A nil result
// means every chw, which only admins get.
func (s *Service) scope(actor access.Actor, requested *uuid.UUID) (*uuid.UUID, error) {
	if requested == nil && actor.Role == access.RoleCHW {
		id := actor.ID
		requested = &id
	}
	res := access.Resource{Type: resourceType}
	if requested != nil {
		res.ChwID = *requested
	}
	if err := s.guard.Check(actor, access.ActionEncounterRead, res); err != nil {
		return nil, err
	}
	return requested, nil
}

func (s *Service) List(ctx context.Context, actor access.Actor, f Filter) ([]*Encounter, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperror.Validation("invalid status %q", f.Status)
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, apperror.Validation("invalid encounter_type %q", f.Type)
	}
	for _, u := range f.Urgencies {
		if !u.Valid() {
			return nil, 0, apperror.Validation("invalid urgency_level %q", u)
		}
	}
	chw, err := s.scope(actor, f.ChwID)
	if err != nil {
		return nil, 0, err
	}
	f.ChwID = chw
	return s.repo.List(ctx, f)
}

// Urgent lists high and critical encounters in triage order. Doctors see the
// urgent list of every chw as part of the triage view.
func (s *Service) Urgent(ctx context.Context, actor access.Actor, chwID *uuid.UUID, limit int) ([]*Encounter, error) {
	if limit <= 0 {
		limit = defaultUrgentMax
	}
	var scope *uuid.UUID
	if actor.Role == access.RoleDoctor && chwID == nil {
		if err := s.guard.Check(actor, access.ActionPendingPoolRead, access.Resource{Type: resourceType, Status: "requested"}); err != nil {
			return nil, err
		}
	} else {
		var err error
		if scope, err = s.scope(actor, chwID); err != nil {
			return nil, err
		}
	}
	encs, _, err := s.repo.List(ctx, Filter{ChwID: scope, Urgencies: UrgentLevels, TriageOrder: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	SortUrgent(encs)
	return encs, nil
}

// Recent lists encounters dated within the last days days, newest first.
func (s *Service) Recent(ctx context.Context, actor access.Actor, chwID *uuid.UUID, days, limit int) ([]*Encounter, error) {
	if days <= 0 {
		days = defaultRecentDays
	}
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	encs, _, err := s.List(ctx, actor, Filter{ChwID: chwID, Since: &since, Limit: limit})
	return encs, err
}

// Search matches term against complaint, history, examination, notes and
// symptoms, case-insensitively.
func (s *Service) Search(ctx context.Context, actor access.Actor, term string, f Filter) ([]*Encounter, int, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, 0, apperror.Validation("search term is required")
	}
	f.Search = term
	return s.List(ctx, actor, f)
}

func (s *Service) record(ctx context.Context, actorID uuid.UUID, action string, id uuid.UUID, before, after interface{}) error {
	rec, err := audit.New(actorID, action, resourceType, id, before, after, s.now())
	if err != nil {
		return err
	}
	return s.audit.Record(ctx, rec)
}
