package consultation

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

const consultCols = `id, encounter_id, patient_id, chw_id, doctor_id, status, priority, consultation_type, reason,
	requested_at, assigned_at, started_at, completed_at, duration_minutes, duration_anomaly,
	assessment, recommendations, follow_up, referral, doctor_notes, notes, created_at, updated_at`

const poolOrder = `CASE priority WHEN 'emergency' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END, requested_at ASC, id`

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consultation (id, encounter_id, patient_id, chw_id, status, priority, consultation_type, reason, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		c.ID, c.EncounterID, c.PatientID, c.ChwID, c.Status, c.Priority, c.ConsultationType, c.Reason, c.RequestedAt,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperror.StateConflict("encounter %s already has a consultation", c.EncounterID)
	}
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return r.get(ctx, `SELECT `+consultCols+` FROM consultation WHERE id = $1`, id, "consultation %s not found")
}

func (r *repoPG) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Consultation, error) {
	return r.get(ctx, `SELECT `+consultCols+` FROM consultation WHERE encounter_id = $1`, encounterID, "no consultation for encounter %s")
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID, notFound string) (*Consultation, error) {
	c, err := scanConsultation(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound(notFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

// Mutate holds the row lock from the read to the write, so two concurrent
// transitions on the same consultation serialise and the second one sees
// the first one's status.
func (r *repoPG) Mutate(ctx context.Context, id uuid.UUID, fn func(c *Consultation) error) (*Consultation, error) {
	c, err := r.get(ctx, `SELECT `+consultCols+` FROM consultation WHERE id = $1 FOR UPDATE`, id, "consultation %s not found")
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE consultation SET doctor_id=$2, status=$3, priority=$4, assigned_at=$5, started_at=$6,
			completed_at=$7, duration_minutes=$8, duration_anomaly=$9, assessment=$10, recommendations=$11,
			follow_up=$12, referral=$13, doctor_notes=$14, notes=$15, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.DoctorID, c.Status, c.Priority, c.AssignedAt, c.StartedAt, c.CompletedAt,
		c.DurationMinutes, c.DurationAnomaly, c.Assessment, c.Recommendations, c.FollowUp, c.Referral,
		c.DoctorNotes, c.Notes,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update consultation: %w", err)
	}
	return c, nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Consultation, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ChwID != nil {
		add("chw_id = $%d", *f.ChwID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.Since != nil {
		add("requested_at >= $%d", *f.Since)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM consultation`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consultations: %w", err)
	}

	order := ` ORDER BY requested_at DESC, id`
	if f.PoolOrder {
		order = ` ORDER BY ` + poolOrder
	}
	query := `SELECT ` + consultCols + ` FROM consultation` + clause + order
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.EncounterID, &c.PatientID, &c.ChwID, &c.DoctorID, &c.Status, &c.Priority,
		&c.ConsultationType, &c.Reason, &c.RequestedAt, &c.AssignedAt, &c.StartedAt, &c.CompletedAt,
		&c.DurationMinutes, &c.DurationAnomaly, &c.Assessment, &c.Recommendations, &c.FollowUp, &c.Referral,
		&c.DoctorNotes, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
