package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/domain/consultation"
	"github.com/vivamoms/consult/internal/domain/encounter"
	"github.com/vivamoms/consult/internal/domain/messaging"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/auth"
)

type fakeConsultations []*consultation.Consultation

func (f fakeConsultations) List(_ context.Context, flt consultation.Filter) ([]*consultation.Consultation, int, error) {
	var out []*consultation.Consultation
	for _, c := range f {
		if flt.ChwID != nil && c.ChwID != *flt.ChwID {
			continue
		}
		if flt.DoctorID != nil && (c.DoctorID == nil || *c.DoctorID != *flt.DoctorID) {
			continue
		}
		if flt.Since != nil && c.RequestedAt.Before(*flt.Since) {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

type fakeEncounters []*encounter.Encounter

func (f fakeEncounters) List(_ context.Context, flt encounter.Filter) ([]*encounter.Encounter, int, error) {
	var out []*encounter.Encounter
	for _, e := range f {
		if flt.ChwID != nil && e.ChwID != *flt.ChwID {
			continue
		}
		if flt.Since != nil && e.EncounterDate.Before(*flt.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

type fakeMessages struct {
	gotDays int
}

func (f *fakeMessages) Stats(_ context.Context, _ access.Actor, _ *uuid.UUID, days int) (messaging.Stats, error) {
	f.gotDays = days
	return messaging.Stats{Total: 4, Sent: 3, Received: 1}, nil
}

var (
	now   = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	chwA  = access.Actor{ID: uuid.New(), Role: access.RoleCHW, IsActive: true}
	chwB  = access.Actor{ID: uuid.New(), Role: access.RoleCHW, IsActive: true}
	docA  = access.Actor{ID: uuid.New(), Role: access.RoleDoctor, IsActive: true}
	docB  = access.Actor{ID: uuid.New(), Role: access.RoleDoctor, IsActive: true}
	admin = access.Actor{ID: uuid.New(), Role: access.RoleAdmin, IsActive: true}
)

func minutes(n int) *int { return &n }

func consult(chw access.Actor, doc *access.Actor, status consultation.Status, p consultation.Priority, age time.Duration, duration *int) *consultation.Consultation {
	c := &consultation.Consultation{
		ID:              uuid.New(),
		ChwID:           chw.ID,
		Status:          status,
		Priority:        p,
		RequestedAt:     now.Add(-age),
		DurationMinutes: duration,
	}
	if doc != nil {
		id := doc.ID
		c.DoctorID = &id
	}
	return c
}

func newService() (*Service, *fakeMessages) {
	day := 24 * time.Hour
	cs := fakeConsultations{
		consult(chwA, &docA, consultation.StatusCompleted, consultation.PriorityUrgent, day, minutes(30)),
		consult(chwA, &docA, consultation.StatusInProgress, consultation.PriorityRoutine, 2*day, nil),
		consult(chwA, &docA, consultation.StatusCompleted, consultation.PriorityEmergency, 3*day, minutes(10)),
		consult(chwA, nil, consultation.StatusRequested, consultation.PriorityRoutine, 4*day, nil),
		consult(chwB, &docB, consultation.StatusCompleted, consultation.PriorityRoutine, day, minutes(60)),
		consult(chwA, &docA, consultation.StatusCompleted, consultation.PriorityRoutine, 45*day, minutes(90)),
	}
	es := fakeEncounters{
		{ID: uuid.New(), ChwID: chwA.ID, Status: encounter.StatusPending, UrgencyLevel: encounter.UrgencyHigh, EncounterType: encounter.TypeAntenatal, EncounterDate: now.Add(-day)},
		{ID: uuid.New(), ChwID: chwA.ID, Status: encounter.StatusCompleted, UrgencyLevel: encounter.UrgencyLow, EncounterType: encounter.TypeNewborn, EncounterDate: now.Add(-2 * day)},
		{ID: uuid.New(), ChwID: chwB.ID, Status: encounter.StatusPending, UrgencyLevel: encounter.UrgencyCritical, EncounterType: encounter.TypeEmergency, EncounterDate: now.Add(-day)},
		{ID: uuid.New(), ChwID: chwA.ID, Status: encounter.StatusCancelled, UrgencyLevel: encounter.UrgencyLow, EncounterType: encounter.TypeAntenatal, EncounterDate: now.Add(-40 * day)},
	}
	msgs := &fakeMessages{}
	return NewService(cs, es, msgs, WithClock(func() time.Time { return now })), msgs
}

func TestAggregateConsultations_AverageSkipsMissingDurations(t *testing.T) {
	st := AggregateConsultations([]*consultation.Consultation{
		{Status: consultation.StatusCompleted, Priority: consultation.PriorityUrgent, DurationMinutes: minutes(30)},
		{Status: consultation.StatusInProgress, Priority: consultation.PriorityRoutine},
		{Status: consultation.StatusCompleted, Priority: consultation.PriorityRoutine, DurationMinutes: minutes(10), DurationAnomaly: true},
	})
	if st.AverageDuration != 20 {
		t.Errorf("expected average 20 over the two recorded durations, got %v", st.AverageDuration)
	}
	if st.WithDuration != 2 || st.DurationAnomalies != 1 || st.Total != 3 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestAggregate_Empty(t *testing.T) {
	st := AggregateConsultations(nil)
	if st.AverageDuration != 0 || st.Total != 0 {
		t.Errorf("expected zero stats, got %+v", st)
	}
	if n, ok := st.ByStatus[consultation.StatusCancelled]; !ok || n != 0 {
		t.Errorf("expected every status key present, got %v", st.ByStatus)
	}
	es := AggregateEncounters(nil)
	if len(es.ByType) != len(encounter.Types) || len(es.ByUrgency) != len(encounter.Urgencies) {
		t.Errorf("expected every encounter key present, got %+v", es)
	}
}

func TestConsultations_Scoping(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	st, err := svc.Consultations(ctx, chwA, Scope{})
	if err != nil {
		t.Fatalf("chw own: %v", err)
	}
	if st.Total != 4 || st.ByStatus[consultation.StatusCompleted] != 2 || st.AverageDuration != 20 {
		t.Errorf("chw should see own consultations in the last 30 days, got %+v", st)
	}

	st, err = svc.Consultations(ctx, docA, Scope{})
	if err != nil {
		t.Fatalf("doctor own: %v", err)
	}
	if st.Total != 3 || st.ByPriority[consultation.PriorityEmergency] != 1 {
		t.Errorf("doctor should see consultations assigned to them, got %+v", st)
	}

	st, err = svc.Consultations(ctx, admin, Scope{Days: 60})
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if st.Total != 6 || st.AverageDuration != 47.5 {
		t.Errorf("admin with 60 days should see everything, got %+v", st)
	}

	_, err = svc.Consultations(ctx, chwA, Scope{ChwID: &chwB.ID})
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("expected Forbidden for another chw's scope, got %v", err)
	}
	_, err = svc.Consultations(ctx, docA, Scope{DoctorID: &docB.ID})
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("expected Forbidden for another doctor's scope, got %v", err)
	}
	gone := chwA
	gone.IsActive = false
	if _, err = svc.Consultations(ctx, gone, Scope{}); !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("expected Forbidden for inactive caller, got %v", err)
	}
}

func TestEncounters_Scoping(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	st, err := svc.Encounters(ctx, chwA, Scope{})
	if err != nil {
		t.Fatalf("chw own: %v", err)
	}
	if st.Total != 2 || st.ByType[encounter.TypeAntenatal] != 1 || st.ByUrgency[encounter.UrgencyLow] != 1 {
		t.Errorf("unexpected chw encounter stats %+v", st)
	}

	st, err = svc.Encounters(ctx, admin, Scope{ChwID: &chwB.ID})
	if err != nil || st.Total != 1 || st.ByUrgency[encounter.UrgencyCritical] != 1 {
		t.Errorf("admin scoped to chwB: %+v (%v)", st, err)
	}

	if _, err = svc.Encounters(ctx, chwA, Scope{ChwID: &chwB.ID}); !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("expected Forbidden for another chw, got %v", err)
	}
	if _, err = svc.Encounters(ctx, docA, Scope{}); !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("expected Forbidden for doctor, got %v", err)
	}
	if _, err = svc.Encounters(ctx, admin, Scope{DoctorID: &docA.ID}); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected Validation for doctor_id, got %v", err)
	}
}

func TestHandler_MessagesDelegates(t *testing.T) {
	svc, msgs := newService()
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/messages?days=7", nil)
	req = req.WithContext(auth.WithActor(req.Context(), chwA))
	rec := httptest.NewRecorder()
	if err := h.Messages(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if msgs.gotDays != 7 {
		t.Errorf("expected days=7 to be passed through, got %d", msgs.gotDays)
	}
	var st messaging.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.Sent != 3 {
		t.Errorf("unexpected body %s (%v)", rec.Body.String(), err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats/consultations?days=-1", nil)
	req = req.WithContext(auth.WithActor(req.Context(), chwA))
	if err := h.Consultations(e.NewContext(req, httptest.NewRecorder())); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected Validation for negative days, got %v", err)
	}
}
