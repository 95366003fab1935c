package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"mathavam/backend/internal/auth"
	"mathavam/backend/internal/directory"
	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/service/appointments"
	"mathavam/backend/internal/service/availability"
	"mathavam/backend/internal/store"
	"mathavam/backend/internal/transport/wire"
)

// HeaderIdempotencyKey makes POST /appointments safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

type scheduler interface {
	Book(ctx context.Context, actor domain.Actor, in appointments.BookInput) (domain.Appointment, error)
	SetStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, next domain.Status) (domain.Appointment, error)
	Reschedule(ctx context.Context, actor domain.Actor, in appointments.RescheduleInput) (domain.Appointment, error)
	Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Appointment, error)
	Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error
	List(ctx context.Context, actor domain.Actor, filter store.AppointmentFilter, page, pageSize int) (appointments.Page, error)
	Windows(ctx context.Context, actor domain.Actor, practitionerID string, date time.Time) ([]domain.AvailabilityWindow, error)
	ListWindows(ctx context.Context, actor domain.Actor, practitionerID string) ([]domain.AvailabilityWindow, error)
	SetWindow(ctx context.Context, actor domain.Actor, in availability.SetWindowInput) (domain.AvailabilityWindow, error)
	RemoveWindow(ctx context.Context, actor domain.Actor, id uuid.UUID) error
	FreeSlots(ctx context.Context, actor domain.Actor, practitionerID string, date time.Time, length time.Duration) ([]domain.Interval, error)
	Practitioners(ctx context.Context, actor domain.Actor) ([]directory.Practitioner, error)
}

type Handler struct {
	svc      scheduler
	patients directory.Patients
	log      *slog.Logger
}

// NewHandler builds the HTTP handlers. patients may be nil, in which case
// appointment details carry no patient name.
func NewHandler(svc scheduler, patients directory.Patients, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, patients: patients, log: log.With(slog.String("component", "rest"))}
}

// RegisterRoutes mounts every authenticated route on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/appointments", h.Book)
	g.GET("/appointments", h.List)
	g.GET("/appointments/:id", h.Get)
	g.PUT("/appointments/:id/status", h.SetStatus)
	g.POST("/appointments/:id/reschedule", h.Reschedule)
	g.DELETE("/appointments/:id", h.Delete)

	g.DELETE("/availability/windows/:id", h.RemoveWindow)
	g.GET("/availability/:practitionerId", h.Windows)
	g.POST("/availability/:practitionerId/windows", h.SetWindow)
	g.GET("/availability/:practitionerId/slots", h.FreeSlots)

	g.GET("/practitioners", h.Practitioners)
}

func (h *Handler) route(c echo.Context) (*slog.Logger, domain.Actor, error) {
	log := h.log.With(slog.String("route", c.Request().Method+" "+c.Path()))
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return log, domain.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, ErrorBody{Error: "authentication required"})
	}
	return log.With(slog.String("actor_id", actor.ID)), actor, nil
}

func (h *Handler) Book(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	var req wire.BookRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(log, err)
	}
	in, err := req.Input(strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey)))
	if err != nil {
		return badRequest(log, err)
	}

	appt, err := h.svc.Book(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(log, "appointment book", err)
	}
	log.Info("appointment booked",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("practitioner_id", appt.PractitionerID),
		slog.String("date", domain.FormatDate(appt.Date)),
		slog.String("slot", appt.Interval().String()),
	)
	return c.JSON(http.StatusCreated, wire.FromAppointment(appt))
}

func (h *Handler) List(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	var q wire.ListQuery
	if err := c.Bind(&q); err != nil {
		return badRequest(log, err)
	}
	filter, err := q.Filter()
	if err != nil {
		return badRequest(log, err)
	}

	page, err := h.svc.List(c.Request().Context(), actor, filter, q.Page, q.PageSize)
	if err != nil {
		return httpError(log, "appointments list", err)
	}
	return c.JSON(http.StatusOK, wire.FromPage(page))
}

func (h *Handler) Get(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	id, err := wire.ParseID("id", c.Param("id"))
	if err != nil {
		return badRequest(log, err)
	}

	appt, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(log, "appointment get", err)
	}
	out := wire.FromAppointment(appt)
	if h.patients != nil {
		p, err := h.patients.Patient(c.Request().Context(), appt.PatientID)
		if err != nil {
			log.Debug("patient lookup failed", slog.String("patient_id", appt.PatientID), slog.Any("err", err))
		} else {
			out.PatientName = p.Name
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SetStatus(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	id, err := wire.ParseID("id", c.Param("id"))
	if err != nil {
		return badRequest(log, err)
	}
	var req wire.StatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(log, err)
	}
	next, err := req.Parse()
	if err != nil {
		return badRequest(log, err)
	}

	appt, err := h.svc.SetStatus(c.Request().Context(), actor, id, next)
	if err != nil {
		return httpError(log, "appointment status", err)
	}
	log.Info("appointment status set", slog.String("appointment_id", id.String()), slog.String("status", string(appt.Status)))
	return c.JSON(http.StatusOK, wire.FromAppointment(appt))
}

func (h *Handler) Reschedule(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	id, err := wire.ParseID("id", c.Param("id"))
	if err != nil {
		return badRequest(log, err)
	}
	var req wire.RescheduleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(log, err)
	}
	in, err := req.Input(id)
	if err != nil {
		return badRequest(log, err)
	}

	appt, err := h.svc.Reschedule(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(log, "appointment reschedule", err)
	}
	log.Info("appointment rescheduled",
		slog.String("appointment_id", id.String()),
		slog.String("successor_id", appt.ID.String()),
	)
	return c.JSON(http.StatusOK, wire.FromAppointment(appt))
}

func (h *Handler) Delete(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	id, err := wire.ParseID("id", c.Param("id"))
	if err != nil {
		return badRequest(log, err)
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return httpError(log, "appointment delete", err)
	}
	log.Info("appointment deleted", slog.String("appointment_id", id.String()))
	return c.JSON(http.StatusOK, map[string]any{"id": id.String(), "deleted": true})
}

// Windows returns the resolved windows for ?date=, or every rule and
// exception of the practitioner when no date is given.
func (h *Handler) Windows(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	practitionerID := c.Param("practitionerId")
	ctx := c.Request().Context()

	var windows []domain.AvailabilityWindow
	if raw := strings.TrimSpace(c.QueryParam("date")); raw != "" {
		date, err := domain.ParseDate(raw)
		if err != nil {
			return badRequest(log, &wire.FieldError{Field: "date", Msg: "must be YYYY-MM-DD"})
		}
		windows, err = h.svc.Windows(ctx, actor, practitionerID, date)
		if err != nil {
			return httpError(log, "availability windows", err)
		}
	} else {
		windows, err = h.svc.ListWindows(ctx, actor, practitionerID)
		if err != nil {
			return httpError(log, "availability list", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": wire.FromWindows(windows)})
}

func (h *Handler) SetWindow(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	var req wire.WindowRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(log, err)
	}
	in, err := req.Input(c.Param("practitionerId"))
	if err != nil {
		return badRequest(log, err)
	}

	w, err := h.svc.SetWindow(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(log, "availability set", err)
	}
	return c.JSON(http.StatusCreated, wire.FromWindow(w))
}

func (h *Handler) RemoveWindow(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	id, err := wire.ParseID("id", c.Param("id"))
	if err != nil {
		return badRequest(log, err)
	}
	if err := h.svc.RemoveWindow(c.Request().Context(), actor, id); err != nil {
		return httpError(log, "availability remove", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id.String(), "deleted": true})
}

func (h *Handler) FreeSlots(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	date, err := domain.ParseDate(c.QueryParam("date"))
	if err != nil {
		return badRequest(log, &wire.FieldError{Field: "date", Msg: "must be YYYY-MM-DD"})
	}
	length, err := wire.ParseDuration(c.QueryParam("duration"))
	if err != nil {
		return badRequest(log, err)
	}

	slots, err := h.svc.FreeSlots(c.Request().Context(), actor, c.Param("practitionerId"), date, length)
	if err != nil {
		return httpError(log, "availability slots", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": wire.FromSlots(slots)})
}

func (h *Handler) Practitioners(c echo.Context) error {
	log, actor, err := h.route(c)
	if err != nil {
		return err
	}
	list, err := h.svc.Practitioners(c.Request().Context(), actor)
	if err != nil {
		return httpError(log, "practitioners list", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": list})
}
