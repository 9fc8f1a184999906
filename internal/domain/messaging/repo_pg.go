package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

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

const msgCols = `id, consultation_id, thread_id, sender_id, recipient_id, message_type, content, attachment,
	is_read, read_at, sent_at, edited_at, is_deleted`

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO message (`+msgCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		m.ID, m.ConsultationID, m.ThreadID, m.SenderID, m.RecipientID, m.Type, m.Content, m.Attachment,
		m.IsRead, m.ReadAt, m.SentAt, m.EditedAt, m.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return r.get(ctx, `SELECT `+msgCols+` FROM message WHERE id = $1`, id)
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("message %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *repoPG) Mutate(ctx context.Context, id uuid.UUID, fn func(m *Message) error) (*Message, error) {
	m, err := r.get(ctx, `SELECT `+msgCols+` FROM message WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE message SET content=$2, attachment=$3, is_read=$4, read_at=$5, edited_at=$6, is_deleted=$7
		WHERE id = $1`,
		m.ID, m.Content, m.Attachment, m.IsRead, m.ReadAt, m.EditedAt, m.IsDeleted)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

func (r *repoPG) MarkManyRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		UPDATE message SET is_read = TRUE, read_at = $3
		WHERE recipient_id = $1 AND id = ANY($2) AND NOT is_read
		RETURNING id`, recipientID, ids, at)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// where renders q as a WHERE clause and its arguments.
func where(q Query) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.ConsultationID != nil {
		add("consultation_id = $%d", *q.ConsultationID)
	}
	if q.Participant != nil {
		add("(sender_id = $%[1]d OR recipient_id = $%[1]d)", *q.Participant)
	}
	if q.RecipientID != nil {
		add("recipient_id = $%d", *q.RecipientID)
	}
	if q.Between != nil {
		args = append(args, q.Between[0], q.Between[1])
		a, b := len(args)-1, len(args)
		conds = append(conds, fmt.Sprintf("((sender_id = $%[1]d AND recipient_id = $%[2]d) OR (sender_id = $%[2]d AND recipient_id = $%[1]d))", a, b))
	}
	if q.UnreadOnly {
		conds = append(conds, "NOT is_read")
	}
	if q.Type != "" {
		add("message_type = $%d", q.Type)
	}
	if q.Since != nil {
		add("sent_at >= $%d", *q.Since)
	}
	if q.Search != "" {
		add("content ILIKE $%d", "%"+escapeLike(q.Search)+"%")
	}
	if !q.IncludeDeleted {
		conds = append(conds, "NOT is_deleted")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repoPG) Count(ctx context.Context, q Query) (int, error) {
	clause, args := where(q)
	var n int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM message`+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (r *repoPG) List(ctx context.Context, q Query) ([]*Message, int, error) {
	total, err := r.Count(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	clause, args := where(q)
	order := ` ORDER BY sent_at ASC, id`
	if q.NewestFirst {
		order = ` ORDER BY sent_at DESC, id`
	}
	query := `SELECT ` + msgCols + ` FROM message` + clause + order
	if q.Limit > 0 {
		args = append(args, q.Limit, q.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConsultationID, &m.ThreadID, &m.SenderID, &m.RecipientID, &m.Type, &m.Content,
		&m.Attachment, &m.IsRead, &m.ReadAt, &m.SentAt, &m.EditedAt, &m.IsDeleted)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
