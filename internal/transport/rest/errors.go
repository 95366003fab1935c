package rest

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"mathavam/backend/internal/conflict"
	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/service/appointments"
	"mathavam/backend/internal/service/availability"
	"mathavam/backend/internal/store"
	"mathavam/backend/internal/transport/wire"
)

const (
	ReasonDoubleBooked        = "double_booked"
	ReasonOutsideAvailability = "outside_availability"
	ReasonIdempotencyConflict = "idempotency_conflict"
	ReasonWindowOverlap       = "window_overlap"
	ReasonInvalidTransition   = "invalid_transition"
	ReasonValidation          = "validation"
)

type ErrorBody struct {
	Error                    string `json:"error"`
	Reason                   string `json:"reason,omitempty"`
	ConflictingAppointmentID string `json:"conflictingAppointmentId,omitempty"`
	ExistingWindowID         string `json:"existingWindowId,omitempty"`
}

// httpError maps service errors to responses and logs them at the level
// their kind deserves.
func httpError(log *slog.Logger, op string, err error) error {
	var (
		cErr  *conflict.Error
		oErr  *store.OverlapError
		tErr  *appointments.InvalidTransitionError
		vErr  *appointments.ValidationError
		avErr *availability.ValidationError
		fErr  *wire.FieldError
	)
	switch {
	case errors.As(err, &cErr):
		reason := ReasonOutsideAvailability
		if errors.Is(cErr.Reason, conflict.ErrDoubleBooked) {
			reason = ReasonDoubleBooked
		}
		body := ErrorBody{Error: cErr.Reason.Error(), Reason: reason}
		if cErr.ConflictingID != uuid.Nil {
			body.ConflictingAppointmentID = cErr.ConflictingID.String()
		}
		log.Info(op+" conflict", slog.String("reason", reason), slog.String("conflicting_id", body.ConflictingAppointmentID))
		return echo.NewHTTPError(http.StatusConflict, body)
	case errors.As(err, &oErr):
		log.Info(op+" window overlap", slog.String("existing_id", oErr.ExistingID.String()))
		return echo.NewHTTPError(http.StatusConflict, ErrorBody{Error: oErr.Error(), Reason: ReasonWindowOverlap, ExistingWindowID: oErr.ExistingID.String()})
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info(op+" idempotency conflict")
		return echo.NewHTTPError(http.StatusConflict, ErrorBody{Error: "this Idempotency-Key was already used for a different appointment", Reason: ReasonIdempotencyConflict})
	case errors.Is(err, store.ErrConflict):
		log.Info(op+" conflict", slog.Any("err", err))
		return echo.NewHTTPError(http.StatusConflict, ErrorBody{Error: conflict.ErrDoubleBooked.Error(), Reason: ReasonDoubleBooked})
	case errors.As(err, &tErr):
		log.Info(op+" invalid transition", slog.String("from", string(tErr.From)), slog.String("to", string(tErr.To)))
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Error: tErr.Error(), Reason: ReasonInvalidTransition})
	case errors.As(err, &vErr), errors.As(err, &avErr), errors.As(err, &fErr):
		log.Warn("invalid request", slog.Any("err", err))
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Error: err.Error(), Reason: ReasonValidation})
	case errors.Is(err, domain.ErrForbidden):
		log.Warn(op+" forbidden")
		return echo.NewHTTPError(http.StatusForbidden, ErrorBody{Error: "forbidden"})
	case errors.Is(err, store.ErrNotFound):
		log.Info(op+" not found")
		return echo.NewHTTPError(http.StatusNotFound, ErrorBody{Error: "not found"})
	}
	log.Error(op+" failed", slog.Any("err", err))
	return echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{Error: "internal error"})
}

func badRequest(log *slog.Logger, err error) error {
	log.Warn("invalid request", slog.Any("err", err))
	return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Error: err.Error(), Reason: ReasonValidation})
}
