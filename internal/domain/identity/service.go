package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/audit"
	"github.com/vivamoms/consult/internal/platform/db"
)

const resourceType = "user"

type Service struct {
	repo   Repository
	tx     db.Transactor
	audit  audit.Sink
	guard  access.Guard
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithGuard(g access.Guard) Option       { return func(s *Service) { s.guard = g } }
func WithLogger(l zerolog.Logger) Option    { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, tx db.Transactor, sink audit.Sink, opts ...Option) *Service {
	s := &Service{repo: repo, tx: tx, audit: sink, logger: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create registers a user. Only admins register users.
func (s *Service) Create(ctx context.Context, actor access.Actor, in CreateInput) (*User, error) {
	if err := s.guard.Check(actor, access.ActionUserAdmin, access.Resource{Type: resourceType}); err != nil {
		return nil, err
	}
	return s.create(ctx, actor.ID, in)
}

// Bootstrap creates a user without an acting principal. It backs the CLI
// command that seeds the first admin.
func (s *Service) Bootstrap(ctx context.Context, in CreateInput) (*User, error) {
	return s.create(ctx, uuid.Nil, in)
}

func (s *Service) create(ctx context.Context, actorID uuid.UUID, in CreateInput) (*User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	u := &User{
		ID:       uuid.New(),
		Email:    in.Email,
		Name:     in.Name,
		Role:     in.Role,
		IsActive: true,
		Profile:  in.Profile,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, u); err != nil {
			return err
		}
		return s.record(ctx, actorID, "user.create", u.ID, nil, u)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user created")
	return u, nil
}

func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*User, error) {
	if err := s.guard.Check(actor, access.ActionUserRead, access.Resource{Type: resourceType, OwnerID: id}); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Me(ctx context.Context, actor access.Actor) (*User, error) {
	return s.Get(ctx, actor, actor.ID)
}

// Lookup reads a user without an access check. Other services use it to
// validate references such as the doctor being assigned.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// LookupLocked is Lookup inside the caller's transaction, holding the user
// row until it commits.
func (s *Service) LookupLocked(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetForShare(ctx, id)
}

// ActiveIDs returns the ids of up to max active users of role. It backs
// broadcast notifications such as a new request entering the pending pool.
func (s *Service) ActiveIDs(ctx context.Context, role access.Role, max int) ([]uuid.UUID, error) {
	users, _, err := s.repo.List(ctx, ListFilter{Role: role, ActiveOnly: true, Limit: max})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}

// Directory lists active users of one role. Any active user may see the
// doctor and chw directories; full listings with inactive users are admin
// only.
func (s *Service) Directory(ctx context.Context, actor access.Actor, role access.Role, limit, offset int) ([]*User, int, error) {
	if !actor.IsActive {
		return nil, 0, s.guard.Check(actor, access.ActionUserRead, access.Resource{})
	}
	if role != access.RoleDoctor && role != access.RoleCHW {
		return nil, 0, apperror.Validation("directory role must be doctor or chw")
	}
	return s.repo.List(ctx, ListFilter{Role: role, ActiveOnly: true, Limit: limit, Offset: offset})
}

func (s *Service) List(ctx context.Context, actor access.Actor, f ListFilter) ([]*User, int, error) {
	if err := s.guard.Check(actor, access.ActionUserAdmin, access.Resource{Type: resourceType}); err != nil {
		return nil, 0, err
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, apperror.Validation("invalid role %q", f.Role)
	}
	return s.repo.List(ctx, f)
}

func (s *Service) UpdateProfile(ctx context.Context, actor access.Actor, id uuid.UUID, upd ProfileUpdate) (*User, error) {
	if err := s.guard.Check(actor, access.ActionUserUpdate, access.Resource{Type: resourceType, OwnerID: id}); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, "user.update_profile", id, upd.apply)
}

// SetRole changes a user's role. Admin only.
func (s *Service) SetRole(ctx context.Context, actor access.Actor, id uuid.UUID, role access.Role) (*User, error) {
	if err := s.guard.Check(actor, access.ActionUserAdmin, access.Resource{Type: resourceType, OwnerID: id}); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperror.Validation("invalid role %q", role)
	}
	return s.mutate(ctx, actor, "user.set_role", id, func(u *User) error {
		u.Role = role
		return nil
	})
}

// SetActive activates or deactivates a user. Users are never deleted.
func (s *Service) SetActive(ctx context.Context, actor access.Actor, id uuid.UUID, active bool) (*User, error) {
	if err := s.guard.Check(actor, access.ActionUserAdmin, access.Resource{Type: resourceType, OwnerID: id}); err != nil {
		return nil, err
	}
	if id == actor.ID && !active {
		return nil, apperror.StateConflict("admins cannot deactivate themselves")
	}
	action := "user.deactivate"
	if active {
		action = "user.activate"
	}
	return s.mutate(ctx, actor, action, id, func(u *User) error {
		u.IsActive = active
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, actor access.Actor, action string, id uuid.UUID, fn func(*User) error) (*User, error) {
	var out *User
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var before User
		u, err := s.repo.Mutate(ctx, id, func(u *User) error {
			before = *u
			return fn(u)
		})
		if err != nil {
			return err
		}
		out = u
		return s.record(ctx, actor.ID, action, id, &before, u)
	})
	return out, err
}

func (s *Service) record(ctx context.Context, actorID uuid.UUID, action string, id uuid.UUID, before, after interface{}) error {
	rec, err := audit.New(actorID, action, resourceType, id, before, after, s.now())
	if err != nil {
		return err
	}
	return s.audit.Record(ctx, rec)
}
