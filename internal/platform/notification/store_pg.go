package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vivamoms/consult/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

const notificationCols = `id, user_id, type, title, content, consultation_id, message_id, encounter_id, is_read, created_at`

func (s *storePG) Create(ctx context.Context, n *Notification) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO notification (`+notificationCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		n.ID, n.UserID, n.Type, n.Title, n.Content, n.ConsultationID, n.MessageID, n.EncounterID, n.IsRead, n.CreatedAt)
	return err
}

func (s *storePG) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := `WHERE user_id = $1`
	if unreadOnly {
		where += ` AND NOT is_read`
	}
	conn := db.Conn(ctx, s.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notification `+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	rows, err := conn.Query(ctx,
		`SELECT `+notificationCols+` FROM notification `+where+` ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *storePG) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM notification WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	return n, err
}

func (s *storePG) MarkRead(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		WITH upd AS (
			UPDATE notification SET is_read = TRUE WHERE id = $1 AND user_id = $2 RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM upd)`, id, userID).Scan(&exists)
	return exists, err
}

func (s *storePG) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE notification SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content,
		&n.ConsultationID, &n.MessageID, &n.EncounterID, &n.IsRead, &n.CreatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}
