package encounter

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vivamoms/consult/internal/platform/apperror"
)

type Type string

const (
	TypeAntenatal      Type = "antenatal"
	TypePostnatal      Type = "postnatal"
	TypeNewborn        Type = "newborn"
	TypeChildHealth    Type = "child_health"
	TypeFamilyPlanning Type = "family_planning"
	TypeEmergency      Type = "emergency"
)

var Types = []Type{TypeAntenatal, TypePostnatal, TypeNewborn, TypeChildHealth, TypeFamilyPlanning, TypeEmergency}

func (t Type) Valid() bool {
	for _, v := range Types {
		if t == v {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending        Status = "pending"
	StatusInConsultation Status = "in_consultation"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

var Statuses = []Status{StatusPending, StatusInConsultation, StatusCompleted, StatusCancelled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInConsultation, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses freeze the encounter's content.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// forward lists the statuses reachable from each status. Status never moves
// backwards.
var forward = map[Status][]Status{
	StatusPending:        {StatusInConsultation, StatusCompleted, StatusCancelled},
	StatusInConsultation: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range forward[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

var Urgencies = []Urgency{UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow}

func (u Urgency) Valid() bool {
	_, ok := urgencyRank[u]
	return ok
}

type BloodPressure struct {
	Systolic  float64   `json:"systolic"`
	Diastolic float64   `json:"diastolic"`
	Timestamp time.Time `json:"timestamp"`
}

type Measurement struct {
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Vitals struct {
	BloodPressure    *BloodPressure `json:"blood_pressure,omitempty"`
	HeartRate        *Measurement   `json:"heart_rate,omitempty"`
	Temperature      *Measurement   `json:"temperature,omitempty"`
	Weight           *Measurement   `json:"weight,omitempty"`
	Height           *Measurement   `json:"height,omitempty"`
	RespiratoryRate  *Measurement   `json:"respiratory_rate,omitempty"`
	OxygenSaturation *Measurement   `json:"oxygen_saturation,omitempty"`
}

func (v Vitals) validate() error {
	if bp := v.BloodPressure; bp != nil {
		if bp.Systolic <= 0 || bp.Diastolic <= 0 || bp.Diastolic >= bp.Systolic {
			return apperror.Validation("blood pressure %v/%v is not plausible", bp.Systolic, bp.Diastolic)
		}
	}
	if t := v.Temperature; t != nil && t.Unit != "celsius" && t.Unit != "fahrenheit" {
		return apperror.Validation("temperature unit must be celsius or fahrenheit")
	}
	if w := v.Weight; w != nil && w.Unit != "" && w.Unit != "kg" {
		return apperror.Validation("weight unit must be kg")
	}
	if h := v.Height; h != nil && h.Unit != "" && h.Unit != "cm" {
		return apperror.Validation("height unit must be cm")
	}
	if o := v.OxygenSaturation; o != nil && (o.Value < 0 || o.Value > 100) {
		return apperror.Validation("oxygen saturation must be between 0 and 100")
	}
	for name, m := range map[string]*Measurement{
		"heart_rate": v.HeartRate, "weight": v.Weight, "height": v.Height, "respiratory_rate": v.RespiratoryRate,
	} {
		if m != nil && m.Value <= 0 {
			return apperror.Validation("%s must be positive", name)
		}
	}
	return nil
}

type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address"`
}

type Encounter struct {
	ID                      uuid.UUID `json:"id"`
	PatientID               uuid.UUID `json:"patient_id"`
	ChwID                   uuid.UUID `json:"chw_id"`
	EncounterType           Type      `json:"encounter_type"`
	Status                  Status    `json:"status"`
	UrgencyLevel            Urgency   `json:"urgency_level"`
	Vitals                  Vitals    `json:"vitals"`
	Symptoms                []string  `json:"symptoms"`
	ChiefComplaint          string    `json:"chief_complaint"`
	HistoryOfPresentIllness *string   `json:"history_of_present_illness,omitempty"`
	PhysicalExamination     *string   `json:"physical_examination,omitempty"`
	ClinicalNotes           *string   `json:"clinical_notes,omitempty"`
	Location                *Location `json:"location,omitempty"`
	EncounterDate           time.Time `json:"encounter_date"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

type CreateInput struct {
	PatientID               uuid.UUID `json:"patient_id"`
	ChwID                   uuid.UUID `json:"chw_id,omitempty"`
	EncounterType           Type      `json:"encounter_type"`
	UrgencyLevel            Urgency   `json:"urgency_level"`
	Vitals                  Vitals    `json:"vitals"`
	Symptoms                []string  `json:"symptoms,omitempty"`
	ChiefComplaint          string    `json:"chief_complaint"`
	HistoryOfPresentIllness *string   `json:"history_of_present_illness,omitempty"`
	PhysicalExamination     *string   `json:"physical_examination,omitempty"`
	ClinicalNotes           *string   `json:"clinical_notes,omitempty"`
	Location                *Location `json:"location,omitempty"`
	EncounterDate           time.Time `json:"encounter_date"`
}

func (in *CreateInput) Validate() error {
	if in.PatientID == uuid.Nil {
		return apperror.Validation("patient_id is required")
	}
	if !in.EncounterType.Valid() {
		return apperror.Validation("invalid encounter_type %q", in.EncounterType)
	}
	if !in.UrgencyLevel.Valid() {
		return apperror.Validation("invalid urgency_level %q", in.UrgencyLevel)
	}
	in.Symptoms = cleanSymptoms(in.Symptoms)
	return in.Vitals.validate()
}

// ContentUpdate patches clinical content. Nil fields are left unchanged.
type ContentUpdate struct {
	Vitals                  *Vitals  `json:"vitals,omitempty"`
	Symptoms                []string `json:"symptoms,omitempty"`
	ChiefComplaint          *string  `json:"chief_complaint,omitempty"`
	HistoryOfPresentIllness *string  `json:"history_of_present_illness,omitempty"`
	PhysicalExamination     *string  `json:"physical_examination,omitempty"`
	ClinicalNotes           *string  `json:"clinical_notes,omitempty"`
	UrgencyLevel            *Urgency `json:"urgency_level,omitempty"`
}

func (u ContentUpdate) apply(e *Encounter) error {
	if u.Vitals != nil {
		if err := u.Vitals.validate(); err != nil {
			return err
		}
		e.Vitals = *u.Vitals
	}
	if u.UrgencyLevel != nil {
		if !u.UrgencyLevel.Valid() {
			return apperror.Validation("invalid urgency_level %q", *u.UrgencyLevel)
		}
		e.UrgencyLevel = *u.UrgencyLevel
	}
	if u.Symptoms != nil {
		e.Symptoms = cleanSymptoms(u.Symptoms)
	}
	if u.ChiefComplaint != nil {
		e.ChiefComplaint = *u.ChiefComplaint
	}
	if u.HistoryOfPresentIllness != nil {
		e.HistoryOfPresentIllness = u.HistoryOfPresentIllness
	}
	if u.PhysicalExamination != nil {
		e.PhysicalExamination = u.PhysicalExamination
	}
	if u.ClinicalNotes != nil {
		e.ClinicalNotes = u.ClinicalNotes
	}
	return nil
}

func cleanSymptoms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Matches reports whether term occurs, case-insensitively, in the chief
// complaint, history, examination, notes or any symptom.
func (e *Encounter) Matches(term string) bool {
	term = strings.ToLower(term)
	contains := func(s string) bool { return strings.Contains(strings.ToLower(s), term) }
	if contains(e.ChiefComplaint) {
		return true
	}
	for _, p := range []*string{e.HistoryOfPresentIllness, e.PhysicalExamination, e.ClinicalNotes} {
		if p != nil && contains(*p) {
			return true
		}
	}
	for _, s := range e.Symptoms {
		if contains(s) {
			return true
		}
	}
	return false
}

// Filter selects encounters. Zero fields do not filter. A Limit of zero
// returns every match.
type Filter struct {
	ChwID     *uuid.UUID
	PatientID *uuid.UUID
	Status    Status
	Type      Type
	Urgencies []Urgency
	Since     *time.Time
	Search    string
	Limit     int
	Offset    int

	// TriageOrder sorts by urgency rank before the limit applies, instead of
	// by encounter date alone.
	TriageOrder bool
}
