package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const (
	RequestIDHeader = echo.HeaderXRequestID
	requestIDKey    = "request_id"
)

// RequestID keeps a caller-supplied X-Request-ID or generates a uuid, echoes
// it on the response and stores it for the logger.
func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: RequestIDHeader,
		RequestIDHandler: func(c echo.Context, rid string) {
			c.Set(requestIDKey, rid)
		},
	})
}

func requestID(c echo.Context) string {
	rid, _ := c.Get(requestIDKey).(string)
	return rid
}
