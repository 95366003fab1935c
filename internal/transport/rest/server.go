package rest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// Pinger is satisfied by anything that can prove a backing store is up.
type Pinger interface {
	Ping(ctx context.Context) error
}

const readyTimeout = 2 * time.Second

// NewEcho assembles the HTTP server. Health checks are unauthenticated;
// everything else requires an actor. ready may be nil for stores that are
// always available.
func NewEcho(log *slog.Logger, a authenticator, h *Handler, ready Pinger) *echo.Echo {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(log))
	e.Use(echomw.RequestID())
	e.Use(Logger(log.With(slog.String("component", "http"))))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
			defer cancel()
			if err := ready.Ping(ctx); err != nil {
				log.Warn("readiness check failed", slog.Any("err", err))
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	h.RegisterRoutes(e.Group("", Authenticate(a)))
	return e
}
