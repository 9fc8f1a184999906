package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/apperror"
)

type contextKey string

const actorKey contextKey = "actor"

// Resolver maps a session token to the acting user.
type Resolver interface {
	ResolveCurrentUser(ctx context.Context, sessionToken string) (access.Actor, error)
}

// WithActor stores the resolved actor on ctx.
func WithActor(ctx context.Context, actor access.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor stored by Authenticate.
func ActorFromContext(ctx context.Context) (access.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(access.Actor)
	return actor, ok
}

// Actor is the handler-side accessor: it fails with Unauthenticated when the
// request carries no resolved identity.
func Actor(c echo.Context) (access.Actor, error) {
	actor, ok := ActorFromContext(c.Request().Context())
	if !ok {
		return access.Actor{}, apperror.Unauthenticated("no authenticated user")
	}
	return actor, nil
}

// Authenticate resolves the bearer token of every request not matched by
// skip. The token may also arrive as the access_token query parameter, which
// browsers need for WebSocket upgrades.
func Authenticate(resolver Resolver, skip func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}

			token, err := bearerToken(c)
			if err != nil {
				return err
			}

			actor, err := resolver.ResolveCurrentUser(c.Request().Context(), token)
			if err != nil {
				if apperror.KindOf(err) == apperror.KindInternal {
					return err
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
			}

			c.Set("user_id", actor.ID.String())
			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		if q := c.QueryParam("access_token"); q != "" {
			return q, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}
