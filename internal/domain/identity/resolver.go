package identity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/auth"
)

// lastLoginResolution bounds how often a busy session rewrites last_login_at.
const lastLoginResolution = 5 * time.Minute

// Resolver maps a session token to the stored user. The role and active flag
// always come from the user record, never from token claims, so an admin's
// role change or deactivation takes effect on the next request.
type Resolver struct {
	verifier auth.TokenVerifier
	repo     Repository
	logger   zerolog.Logger
	now      func() time.Time
}

func NewResolver(verifier auth.TokenVerifier, repo Repository, logger zerolog.Logger) *Resolver {
	return &Resolver{verifier: verifier, repo: repo, logger: logger, now: time.Now}
}

func (r *Resolver) ResolveCurrentUser(ctx context.Context, token string) (access.Actor, error) {
	if token == "" {
		return access.Actor{}, apperror.Unauthenticated("missing session token")
	}
	id, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return access.Actor{}, apperror.Wrap(apperror.KindUnauthenticated, err, "invalid session token")
	}
	u, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return access.Actor{}, apperror.Unauthenticated("unknown user")
		}
		return access.Actor{}, err
	}

	// Inactive users still resolve; the access guard denies them everything,
	// so their visit is not a login.
	if !u.IsActive {
		return u.Actor(), nil
	}
	now := r.now()
	if u.LastLoginAt == nil || now.Sub(*u.LastLoginAt) > lastLoginResolution {
		if err := r.repo.TouchLastLogin(ctx, u.ID, now); err != nil {
			r.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to record last login")
		}
	}
	return u.Actor(), nil
}
