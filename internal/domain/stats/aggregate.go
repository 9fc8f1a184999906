// Package stats derives dashboard counters from consultation, encounter and
// message history.
package stats

import (
	"github.com/vivamoms/consult/internal/domain/consultation"
	"github.com/vivamoms/consult/internal/domain/encounter"
)

type ConsultationStats struct {
	Total      int                           `json:"total"`
	ByStatus   map[consultation.Status]int   `json:"by_status"`
	ByPriority map[consultation.Priority]int `json:"by_priority"`
	// AverageDuration is in minutes, over consultations with a recorded
	// duration only. Zero when none have one.
	AverageDuration   float64 `json:"average_duration"`
	WithDuration      int     `json:"with_duration"`
	DurationAnomalies int     `json:"duration_anomalies"`
}

type EncounterStats struct {
	Total     int                       `json:"total"`
	ByStatus  map[encounter.Status]int  `json:"by_status"`
	ByUrgency map[encounter.Urgency]int `json:"by_urgency"`
	ByType    map[encounter.Type]int    `json:"by_type"`
}

// AggregateConsultations is pure: every counter key is present even when
// its count is zero.
func AggregateConsultations(cs []*consultation.Consultation) ConsultationStats {
	st := ConsultationStats{
		ByStatus:   make(map[consultation.Status]int, len(consultation.Statuses)),
		ByPriority: make(map[consultation.Priority]int, len(consultation.Priorities)),
	}
	for _, s := range consultation.Statuses {
		st.ByStatus[s] = 0
	}
	for _, p := range consultation.Priorities {
		st.ByPriority[p] = 0
	}

	sum := 0
	for _, c := range cs {
		st.Total++
		st.ByStatus[c.Status]++
		st.ByPriority[c.Priority]++
		if c.DurationAnomaly {
			st.DurationAnomalies++
		}
		if c.DurationMinutes != nil {
			sum += *c.DurationMinutes
			st.WithDuration++
		}
	}
	if st.WithDuration > 0 {
		st.AverageDuration = float64(sum) / float64(st.WithDuration)
	}
	return st
}

func AggregateEncounters(es []*encounter.Encounter) EncounterStats {
	st := EncounterStats{
		ByStatus:  make(map[encounter.Status]int, len(encounter.Statuses)),
		ByUrgency: make(map[encounter.Urgency]int, len(encounter.Urgencies)),
		ByType:    make(map[encounter.Type]int, len(encounter.Types)),
	}
	for _, s := range encounter.Statuses {
		st.ByStatus[s] = 0
	}
	for _, u := range encounter.Urgencies {
		st.ByUrgency[u] = 0
	}
	for _, t := range encounter.Types {
		st.ByType[t] = 0
	}
	for _, e := range es {
		st.Total++
		st.ByStatus[e.Status]++
		st.ByUrgency[e.UrgencyLevel]++
		st.ByType[e.EncounterType]++
	}
	return st
}
