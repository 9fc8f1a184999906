package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/auth"
)

// Recovery turns a handler panic into an internal error. The panic value is
// logged with the stack; the client only sees a generic message.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				ev := logger.Error().
					Str("request_id", requestID(c)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Interface("panic", r).
					Bytes("stack", debug.Stack())
				if actor, ok := auth.ActorFromContext(c.Request().Context()); ok {
					ev = ev.Str("actor_id", actor.ID.String())
				}
				ev.Msg("handler panicked")
				err = apperror.Wrap(apperror.KindInternal, fmt.Errorf("panic: %v", r), "internal server error")
			}()
			return next(c)
		}
	}
}
