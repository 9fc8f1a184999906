package encounter

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestSortUrgent_CriticalFirstThenMostRecent(t *testing.T) {
	high1 := &Encounter{ID: uuid.New(), UrgencyLevel: UrgencyHigh, EncounterDate: day(1)}
	crit3 := &Encounter{ID: uuid.New(), UrgencyLevel: UrgencyCritical, EncounterDate: day(3)}
	crit2 := &Encounter{ID: uuid.New(), UrgencyLevel: UrgencyCritical, EncounterDate: day(2)}

	encs := []*Encounter{high1, crit3, crit2}
	SortUrgent(encs)

	want := []*Encounter{crit3, crit2, high1}
	for i := range want {
		if encs[i] != want[i] {
			t.Fatalf("position %d: expected %s@%s, got %s@%s", i,
				want[i].UrgencyLevel, want[i].EncounterDate.Format("2006-01-02"),
				encs[i].UrgencyLevel, encs[i].EncounterDate.Format("2006-01-02"))
		}
	}
}

func TestSortUrgent_AllLevels(t *testing.T) {
	var encs []*Encounter
	for _, u := range []Urgency{UrgencyLow, UrgencyMedium, UrgencyCritical, UrgencyHigh} {
		encs = append(encs, &Encounter{ID: uuid.New(), UrgencyLevel: u, EncounterDate: day(5)})
	}
	SortUrgent(encs)
	for i, want := range Urgencies {
		if encs[i].UrgencyLevel != want {
			t.Errorf("position %d: expected %s, got %s", i, want, encs[i].UrgencyLevel)
		}
	}
}

func TestSortUrgent_TieBrokenByID(t *testing.T) {
	a := &Encounter{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), UrgencyLevel: UrgencyHigh, EncounterDate: day(1)}
	b := &Encounter{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), UrgencyLevel: UrgencyHigh, EncounterDate: day(1)}
	encs := []*Encounter{b, a}
	SortUrgent(encs)
	if encs[0] != a {
		t.Error("expected equal urgency and date to fall back to id order")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInConsultation, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusInConsultation, StatusCompleted, true},
		{StatusInConsultation, StatusCancelled, true},
		{StatusInConsultation, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusPending, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}
