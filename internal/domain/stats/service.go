package stats

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/domain/consultation"
	"github.com/vivamoms/consult/internal/domain/encounter"
	"github.com/vivamoms/consult/internal/domain/messaging"
	"github.com/vivamoms/consult/internal/platform/apperror"
)

const (
	resourceType = "stats"
	DefaultDays  = 30
)

type ConsultationLister interface {
	List(ctx context.Context, f consultation.Filter) ([]*consultation.Consultation, int, error)
}

type EncounterLister interface {
	List(ctx context.Context, f encounter.Filter) ([]*encounter.Encounter, int, error)
}

type MessageStats interface {
	Stats(ctx context.Context, actor access.Actor, consultationID *uuid.UUID, days int) (messaging.Stats, error)
}

// Scope narrows a statistics query. Nil ids mean "the caller's own" for chws
// and doctors and "everyone" for admins.
type Scope struct {
	ChwID    *uuid.UUID
	DoctorID *uuid.UUID
	Days     int
}

type Service struct {
	consultations ConsultationLister
	encounters    EncounterLister
	messages      MessageStats
	guard         access.Guard
	now           func() time.Time
}

type Option func(*Service)

func WithGuard(g access.Guard) Option       { return func(s *Service) { s.guard = g } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(consultations ConsultationLister, encounters EncounterLister, messages MessageStats, opts ...Option) *Service {
	s := &Service{
		consultations: consultations,
		encounters:    encounters,
		messages:      messages,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) since(days int) time.Time {
	if days <= 0 {
		days = DefaultDays
	}
	return s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

func deref(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

// Consultations counts consultations requested within the window.
func (s *Service) Consultations(ctx context.Context, actor access.Actor, sc Scope) (ConsultationStats, error) {
	switch actor.Role {
	case access.RoleCHW:
		if sc.ChwID == nil {
			sc.ChwID = &actor.ID
		}
	case access.RoleDoctor:
		if sc.DoctorID == nil {
			sc.DoctorID = &actor.ID
		}
	}
	res := access.Resource{Type: resourceType, ChwID: deref(sc.ChwID), DoctorID: deref(sc.DoctorID)}
	if err := s.guard.Check(actor, access.ActionStatsRead, res); err != nil {
		return ConsultationStats{}, err
	}
	since := s.since(sc.Days)
	cs, _, err := s.consultations.List(ctx, consultation.Filter{ChwID: sc.ChwID, DoctorID: sc.DoctorID, Since: &since})
	if err != nil {
		return ConsultationStats{}, err
	}
	return AggregateConsultations(cs), nil
}

// Encounters counts encounters dated within the window. Encounters belong to
// chws, so a doctor has no scope of their own here.
func (s *Service) Encounters(ctx context.Context, actor access.Actor, sc Scope) (EncounterStats, error) {
	if sc.DoctorID != nil {
		return EncounterStats{}, apperror.Validation("doctor_id does not apply to encounter statistics")
	}
	if sc.ChwID == nil && actor.Role == access.RoleCHW {
		sc.ChwID = &actor.ID
	}
	res := access.Resource{Type: resourceType, ChwID: deref(sc.ChwID)}
	if err := s.guard.Check(actor, access.ActionStatsRead, res); err != nil {
		return EncounterStats{}, err
	}
	since := s.since(sc.Days)
	es, _, err := s.encounters.List(ctx, encounter.Filter{ChwID: sc.ChwID, Since: &since})
	if err != nil {
		return EncounterStats{}, err
	}
	return AggregateEncounters(es), nil
}

// Messages reports the caller's own message counters.
func (s *Service) Messages(ctx context.Context, actor access.Actor, consultationID *uuid.UUID, days int) (messaging.Stats, error) {
	return s.messages.Stats(ctx, actor, consultationID, days)
}
