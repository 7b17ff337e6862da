package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/surgicenter/emr/internal/platform/auth"
)

// Logger emits one structured line per request. Clinic and actor are
// resolved after the handler runs, so lines carry whatever the tenant and
// auth middleware established downstream.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			if clinic, ok := c.Get("tenant_id").(string); ok && clinic != "" {
				evt = evt.Str("clinic", clinic)
			}
			if actor := auth.UserIDFromContext(c.Request().Context()); actor != "" {
				evt = evt.Str("actor", actor)
			}

			evt.Msg("request")
			return err
		}
	}
}
