package encounter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const encCols = `id, patient_id, chw_id, encounter_type, status, urgency_level, vitals, symptoms,
	chief_complaint, history_of_present_illness, physical_examination, clinical_notes, location,
	encounter_date, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Symptoms == nil {
		e.Symptoms = []string{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO encounter (id, patient_id, chw_id, encounter_type, status, urgency_level, vitals, symptoms,
			chief_complaint, history_of_present_illness, physical_examination, clinical_notes, location, encounter_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		e.ID, e.PatientID, e.ChwID, e.EncounterType, e.Status, e.UrgencyLevel, e.Vitals, e.Symptoms,
		e.ChiefComplaint, e.HistoryOfPresentIllness, e.PhysicalExamination, e.ClinicalNotes, e.Location, e.EncounterDate,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.get(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.get(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Encounter, error) {
	e, err := scanEncounter(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("encounter %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get encounter: %w", err)
	}
	return e, nil
}

func (r *repoPG) Mutate(ctx context.Context, id uuid.UUID, fn func(e *Encounter) error) (*Encounter, error) {
	e, err := r.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(e); err != nil {
		return nil, err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE encounter SET status=$2, urgency_level=$3, vitals=$4, symptoms=$5, chief_complaint=$6,
			history_of_present_illness=$7, physical_examination=$8, clinical_notes=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.Status, e.UrgencyLevel, e.Vitals, e.Symptoms, e.ChiefComplaint,
		e.HistoryOfPresentIllness, e.PhysicalExamination, e.ClinicalNotes,
	).Scan(&e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update encounter: %w", err)
	}
	return e, nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Encounter, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ChwID != nil {
		add("chw_id = $%d", *f.ChwID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Type != "" {
		add("encounter_type = $%d", f.Type)
	}
	if len(f.Urgencies) > 0 {
		levels := make([]string, len(f.Urgencies))
		for i, u := range f.Urgencies {
			levels[i] = string(u)
		}
		add("urgency_level = ANY($%d)", levels)
	}
	if f.Since != nil {
		add("encounter_date >= $%d", *f.Since)
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(`(chief_complaint ILIKE $%[1]d
			OR history_of_present_illness ILIKE $%[1]d
			OR physical_examination ILIKE $%[1]d
			OR clinical_notes ILIKE $%[1]d
			OR EXISTS (SELECT 1 FROM unnest(symptoms) s WHERE s ILIKE $%[1]d))`, n))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM encounter`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	order := ` ORDER BY encounter_date DESC, id`
	if f.TriageOrder {
		order = ` ORDER BY ` + triageOrder
	}
	query := `SELECT ` + encCols + ` FROM encounter` + clause + order
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	var out []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// triageOrder mirrors SortUrgent so LIMIT cuts the least urgent rows.
const triageOrder = `CASE urgency_level WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, encounter_date DESC, id`

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.PatientID, &e.ChwID, &e.EncounterType, &e.Status, &e.UrgencyLevel,
		&e.Vitals, &e.Symptoms, &e.ChiefComplaint, &e.HistoryOfPresentIllness, &e.PhysicalExamination,
		&e.ClinicalNotes, &e.Location, &e.EncounterDate, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
