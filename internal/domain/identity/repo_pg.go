package identity

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

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, email, name, role, is_active, phone, specialization, location,
	license_number, years_of_experience, last_login_at, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO app_user (id, email, name, role, is_active, phone, specialization, location,
			license_number, years_of_experience)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.Name, u.Role, u.IsActive, u.Profile.Phone, u.Profile.Specialization,
		u.Profile.Location, u.Profile.LicenseNumber, u.Profile.YearsOfExperience,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperror.StateConflict("a user with email %s already exists", u.Email)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1`, id)
}

func (r *userRepoPG) GetForShare(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1 FOR SHARE`, id)
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM app_user WHERE email = $1`, strings.ToLower(email))
}

func (r *userRepoPG) getOne(ctx context.Context, query string, arg interface{}) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, query, arg))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("user %v not found", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) Mutate(ctx context.Context, id uuid.UUID, fn func(u *User) error) (*User, error) {
	u, err := r.getOne(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE app_user SET name=$2, role=$3, is_active=$4, phone=$5, specialization=$6,
			location=$7, license_number=$8, years_of_experience=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Name, u.Role, u.IsActive, u.Profile.Phone, u.Profile.Specialization,
		u.Profile.Location, u.Profile.LicenseNumber, u.Profile.YearsOfExperience,
	).Scan(&u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) List(ctx context.Context, f ListFilter) ([]*User, int, error) {
	var where []string
	var args []interface{}
	if f.Role != "" {
		args = append(args, f.Role)
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM app_user`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := conn.Query(ctx,
		fmt.Sprintf(`SELECT `+userCols+` FROM app_user%s ORDER BY name, id LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *userRepoPG) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE app_user SET last_login_at = $2 WHERE id = $1`, id, at)
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive,
		&u.Profile.Phone, &u.Profile.Specialization, &u.Profile.Location,
		&u.Profile.LicenseNumber, &u.Profile.YearsOfExperience,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
