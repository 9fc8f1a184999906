package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vivamoms/consult/internal/platform/db"
)

// PGSink stores records in audit_record using the transaction carried by ctx.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Record(ctx context.Context, rec Record) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO audit_record (id, actor_id, action, resource_type, resource_id, before_state, after_state, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.ActorID, rec.Action, rec.ResourceType, rec.ResourceID,
		nullJSON(rec.Before), nullJSON(rec.After), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListByResource returns the trail of one resource, oldest first.
func (s *PGSink) ListByResource(ctx context.Context, resourceType string, resourceID uuid.UUID, limit int) ([]Record, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT id, actor_id, action, resource_type, resource_id, before_state, after_state, recorded_at
		FROM audit_record WHERE resource_type = $1 AND resource_id = $2
		ORDER BY id LIMIT $3`, resourceType, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var before, after []byte
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&before, &after, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Before, rec.After = before, after
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
