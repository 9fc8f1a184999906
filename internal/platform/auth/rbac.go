package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vivamoms/consult/internal/domain/access"
)

// RequireRole rejects requests whose actor holds none of roles. Admins always
// pass. This is a coarse route filter; record-level decisions stay with the
// access guard inside the services.
func RequireRole(roles ...access.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
			}
			if actor.Role == access.RoleAdmin {
				return next(c)
			}
			for _, r := range roles {
				if actor.Role == r {
					return next(c)
				}
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = string(r)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}
