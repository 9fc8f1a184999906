package consultation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vivamoms/consult/internal/platform/apperror"
)

type Status string

const (
	StatusRequested  Status = "requested"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var Statuses = []Status{StatusRequested, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled}

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Priority string

const (
	PriorityEmergency Priority = "emergency"
	PriorityUrgent    Priority = "urgent"
	PriorityRoutine   Priority = "routine"
)

var Priorities = []Priority{PriorityEmergency, PriorityUrgent, PriorityRoutine}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

type Type string

const (
	TypeText  Type = "text"
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

func (t Type) Valid() bool {
	return t == TypeText || t == TypeAudio || t == TypeVideo
}

type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

type Assessment struct {
	ClinicalImpression    string   `json:"clinical_impression"`
	DifferentialDiagnosis []string `json:"differential_diagnosis,omitempty"`
	WorkingDiagnosis      string   `json:"working_diagnosis,omitempty"`
	Severity              Severity `json:"severity,omitempty"`
}

type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

type Recommendations struct {
	Treatment   []string     `json:"treatment"`
	Medications []Medication `json:"medications,omitempty"`
	Lifestyle   []string     `json:"lifestyle,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
}

type FollowUp struct {
	Required      bool       `json:"required"`
	Timeframe     string     `json:"timeframe,omitempty"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	Instructions  string     `json:"instructions,omitempty"`
}

type Referral struct {
	Required   bool     `json:"required"`
	Facility   string   `json:"facility,omitempty"`
	Specialist string   `json:"specialist,omitempty"`
	Urgency    Priority `json:"urgency,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

type Consultation struct {
	ID               uuid.UUID        `json:"id"`
	EncounterID      uuid.UUID        `json:"encounter_id"`
	PatientID        uuid.UUID        `json:"patient_id"`
	ChwID            uuid.UUID        `json:"chw_id"`
	DoctorID         *uuid.UUID       `json:"doctor_id,omitempty"`
	Status           Status           `json:"status"`
	Priority         Priority         `json:"priority"`
	ConsultationType Type             `json:"consultation_type"`
	Reason           string           `json:"reason,omitempty"`
	RequestedAt      time.Time        `json:"requested_at"`
	AssignedAt       *time.Time       `json:"assigned_at,omitempty"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	DurationMinutes  *int             `json:"duration_minutes,omitempty"`
	DurationAnomaly  bool             `json:"duration_anomaly,omitempty"`
	Assessment       *Assessment      `json:"assessment,omitempty"`
	Recommendations  *Recommendations `json:"recommendations,omitempty"`
	FollowUp         *FollowUp        `json:"follow_up,omitempty"`
	Referral         *Referral        `json:"referral,omitempty"`
	DoctorNotes      *string          `json:"doctor_notes,omitempty"`
	Notes            *string          `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// doctor returns the assigned doctor or uuid.Nil.
func (c *Consultation) doctor() uuid.UUID {
	if c.DoctorID == nil {
		return uuid.Nil
	}
	return *c.DoctorID
}

type CreateInput struct {
	EncounterID      uuid.UUID `json:"encounter_id"`
	Priority         Priority  `json:"priority"`
	ConsultationType Type      `json:"consultation_type"`
	Reason           string    `json:"reason"`
}

func (in *CreateInput) Validate() error {
	if in.EncounterID == uuid.Nil {
		return apperror.Validation("encounter_id is required")
	}
	if !in.Priority.Valid() {
		return apperror.Validation("invalid priority %q", in.Priority)
	}
	if in.ConsultationType == "" {
		in.ConsultationType = TypeText
	}
	if !in.ConsultationType.Valid() {
		return apperror.Validation("invalid consultation_type %q", in.ConsultationType)
	}
	in.Reason = strings.TrimSpace(in.Reason)
	return nil
}

// CompleteInput is the clinical outcome recorded when a consultation closes.
type CompleteInput struct {
	Assessment      Assessment       `json:"assessment"`
	Recommendations *Recommendations `json:"recommendations,omitempty"`
	FollowUp        *FollowUp        `json:"follow_up,omitempty"`
	Referral        *Referral        `json:"referral,omitempty"`
	DoctorNotes     string           `json:"doctor_notes,omitempty"`
}

func (in *CompleteInput) Validate() error {
	in.Assessment.ClinicalImpression = strings.TrimSpace(in.Assessment.ClinicalImpression)
	if in.Assessment.ClinicalImpression == "" {
		return apperror.Validation("assessment.clinical_impression is required")
	}
	switch in.Assessment.Severity {
	case "", SeverityMild, SeverityModerate, SeveritySevere:
	default:
		return apperror.Validation("invalid assessment.severity %q", in.Assessment.Severity)
	}
	if r := in.Recommendations; r != nil {
		for i, m := range r.Medications {
			if strings.TrimSpace(m.Name) == "" {
				return apperror.Validation("recommendations.medications[%d].name is required", i)
			}
		}
	}
	if r := in.Referral; r != nil && r.Urgency != "" && !r.Urgency.Valid() {
		return apperror.Validation("invalid referral.urgency %q", r.Urgency)
	}
	return nil
}

// Filter scopes a consultation list. Nil pointers mean "any".
type Filter struct {
	ChwID    *uuid.UUID
	DoctorID *uuid.UUID
	Status   Status
	Priority Priority
	Since    *time.Time

	// PoolOrder sorts by triage rank instead of newest request first.
	PoolOrder bool
	Limit     int
	Offset    int
}
