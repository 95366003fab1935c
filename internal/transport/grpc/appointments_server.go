package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"mathavam/backend/internal/auth"
	"mathavam/backend/internal/conflict"
	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/service/appointments"
	"mathavam/backend/internal/store"
	"mathavam/backend/internal/transport/wire"
)

// ConflictTrailer carries the id of the appointment holding a requested slot.
const ConflictTrailer = "conflicting-appointment-id"

type AppointmentsServer struct {
	svc appointmentsService
	log *slog.Logger
}

type appointmentsService interface {
	Book(ctx context.Context, actor domain.Actor, in appointments.BookInput) (domain.Appointment, error)
	SetStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, next domain.Status) (domain.Appointment, error)
	Reschedule(ctx context.Context, actor domain.Actor, in appointments.RescheduleInput) (domain.Appointment, error)
	List(ctx context.Context, actor domain.Actor, filter store.AppointmentFilter, page, pageSize int) (appointments.Page, error)
	Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error
}

var _ AppointmentsServiceServer = (*AppointmentsServer)(nil)

func NewAppointmentsServer(svc appointmentsService, log *slog.Logger) *AppointmentsServer {
	if log == nil {
		log = slog.Default()
	}
	return &AppointmentsServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.appointments")),
	}
}

func (s *AppointmentsServer) Book(ctx context.Context, req *wire.BookRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "Book"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	log = log.With(slog.String("actor_id", actor.ID), slog.String("practitioner_id", req.PractitionerID))

	in, err := req.Input(idempotencyKey(ctx))
	if err != nil {
		return nil, s.fail(ctx, log, "appointment book", err)
	}
	appt, err := s.svc.Book(ctx, actor, in)
	if err != nil {
		return nil, s.fail(ctx, log, "appointment book", err)
	}

	log.Info(
		"appointment booked",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("date", domain.FormatDate(appt.Date)),
		slog.String("slot", appt.Interval().String()),
		slog.String("status", string(appt.Status)),
	)
	return &AppointmentResponse{Appointment: wire.FromAppointment(appt)}, nil
}

func (s *AppointmentsServer) SetStatus(ctx context.Context, req *wire.StatusRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "SetStatus"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := wire.ParseID("id", req.ID)
	if err != nil {
		return nil, s.fail(ctx, log, "appointment status", err)
	}
	next, err := req.Parse()
	if err != nil {
		return nil, s.fail(ctx, log, "appointment status", err)
	}
	log = log.With(slog.String("actor_id", actor.ID), slog.String("appointment_id", id.String()))

	appt, err := s.svc.SetStatus(ctx, actor, id, next)
	if err != nil {
		return nil, s.fail(ctx, log, "appointment status", err)
	}

	log.Info("appointment status set", slog.String("status", string(appt.Status)))
	return &AppointmentResponse{Appointment: wire.FromAppointment(appt)}, nil
}

func (s *AppointmentsServer) Reschedule(ctx context.Context, req *wire.RescheduleRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "Reschedule"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := wire.ParseID("id", req.ID)
	if err != nil {
		return nil, s.fail(ctx, log, "appointment reschedule", err)
	}
	in, err := req.Input(id)
	if err != nil {
		return nil, s.fail(ctx, log, "appointment reschedule", err)
	}
	log = log.With(slog.String("actor_id", actor.ID), slog.String("appointment_id", id.String()))

	appt, err := s.svc.Reschedule(ctx, actor, in)
	if err != nil {
		return nil, s.fail(ctx, log, "appointment reschedule", err)
	}

	log.Info(
		"appointment rescheduled",
		slog.String("successor_id", appt.ID.String()),
		slog.String("date", domain.FormatDate(appt.Date)),
		slog.String("slot", appt.Interval().String()),
	)
	return &AppointmentResponse{Appointment: wire.FromAppointment(appt)}, nil
}

func (s *AppointmentsServer) List(ctx context.Context, req *wire.ListQuery) (*wire.Page, error) {
	log := s.log.With(slog.String("rpc", "List"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &wire.ListQuery{}
	}
	filter, err := req.Filter()
	if err != nil {
		return nil, s.fail(ctx, log, "appointments list", err)
	}

	page, err := s.svc.List(ctx, actor, filter, req.Page, req.PageSize)
	if err != nil {
		return nil, s.fail(ctx, log, "appointments list", err)
	}

	out := wire.FromPage(page)
	log.Debug(
		"appointments listed",
		slog.String("actor_id", actor.ID),
		slog.Int("count", len(out.Data)),
		slog.Int("total", out.Total),
	)
	return &out, nil
}

func (s *AppointmentsServer) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	log := s.log.With(slog.String("rpc", "Delete"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := wire.ParseID("id", req.ID)
	if err != nil {
		return nil, s.fail(ctx, log, "appointment delete", err)
	}
	log = log.With(slog.String("actor_id", actor.ID), slog.String("appointment_id", id.String()))

	if err := s.svc.Delete(ctx, actor, id); err != nil {
		return nil, s.fail(ctx, log, "appointment delete", err)
	}

	log.Info("appointment deleted")
	return &DeleteResponse{}, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return actor, nil
}

// fail logs err at the level its kind deserves and converts it to a status.
func (s *AppointmentsServer) fail(ctx context.Context, log *slog.Logger, op string, err error) error {
	var (
		cErr *conflict.Error
		vErr *appointments.ValidationError
		fErr *wire.FieldError
		tErr *appointments.InvalidTransitionError
	)
	switch {
	case errors.As(err, &cErr):
		log.Info(op+" conflict", slog.String("reason", cErr.Reason.Error()), slog.String("conflicting_id", cErr.ConflictingID.String()))
		if cErr.ConflictingID != uuid.Nil {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(ConflictTrailer, cErr.ConflictingID.String()))
		}
		return status.Error(codes.FailedPrecondition, cErr.Error())
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info(op+" idempotency conflict")
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different appointment. Try again.")
	case errors.Is(err, store.ErrConflict):
		log.Info(op+" conflict", slog.Any("err", err))
		return status.Error(codes.FailedPrecondition, conflict.ErrDoubleBooked.Error())
	case errors.As(err, &tErr):
		log.Info(op+" invalid transition", slog.String("from", string(tErr.From)), slog.String("to", string(tErr.To)))
		return status.Error(codes.FailedPrecondition, tErr.Error())
	case errors.As(err, &vErr), errors.As(err, &fErr):
		log.Warn("invalid request", slog.Any("err", err))
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		log.Warn(op+" forbidden")
		return status.Error(codes.PermissionDenied, "not allowed")
	case errors.Is(err, store.ErrNotFound):
		log.Info(op+" not found")
		return status.Error(codes.NotFound, "appointment not found")
	}
	log.Error(op+" failed", slog.Any("err", err))
	return status.Error(codes.Internal, "internal error")
}
