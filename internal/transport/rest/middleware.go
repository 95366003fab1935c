package rest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"mathavam/backend/internal/auth"
	"mathavam/backend/internal/domain"
)

func Recovery(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					log.Error("panic recovered",
						slog.String("request_id", requestID(c)),
						slog.String("panic", fmt.Sprintf("%v", r)),
						slog.String("stack", string(stack[:n])),
					)
					err = echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{Error: "internal server error"})
				}
			}()
			return next(c)
		}
	}
}

// Logger writes one access log line per request. Handlers have already
// logged the outcome, so the level only reflects the status class.
func Logger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			log.LogAttrs(req.Context(), level, "request",
				slog.String("request_id", requestID(c)),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", status),
				slog.Duration("latency", time.Since(start)),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		}
	}
}

type authenticator interface {
	Authenticate(get auth.HeaderFunc) (domain.Actor, error)
}

// Authenticate puts the request actor on the request context.
func Authenticate(a authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := a.Authenticate(c.Request().Header.Get)
			if err != nil {
				msg := "authentication required"
				if errors.Is(err, auth.ErrInvalidToken) {
					msg = "invalid token"
				}
				return echo.NewHTTPError(http.StatusUnauthorized, ErrorBody{Error: msg})
			}
			ctx := auth.WithActor(c.Request().Context(), actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}
