package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mathavam/backend/internal/conflict"
	"mathavam/backend/internal/directory"
	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/notify"
	"mathavam/backend/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	maxNotesLength    = 2000
	maxSlotLength     = 8 * time.Hour
	maxIdempotencyKey = 256
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

type Service struct {
	repo          store.AppointmentRepository
	resolver      *conflict.Resolver
	practitioners directory.Practitioners
	sink          notify.Sink
	log           *slog.Logger
	tracer        trace.Tracer
	slotStep      time.Duration
}

type Option func(*Service)

// WithPractitioners enables the bookable practitioner check on Book.
func WithPractitioners(p directory.Practitioners) Option {
	return func(s *Service) { s.practitioners = p }
}

func WithNotifier(sink notify.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithSlotStep(step time.Duration) Option {
	return func(s *Service) { s.slotStep = step }
}

func NewService(repo store.AppointmentRepository, resolver *conflict.Resolver, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		resolver: resolver,
		sink:     notify.Discard{},
		log:      slog.Default(),
		tracer:   otel.Tracer("mathavam/backend/internal/service/appointments"),
		slotStep: conflict.DefaultSlotStep,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "service.appointments"))
	return s
}

type BookInput struct {
	Actor          domain.Actor
	PatientID      string
	PractitionerID string
	ServiceType    string
	Date           time.Time
	StartTime      domain.Clock
	EndTime        domain.Clock
	Notes          string
	IdempotencyKey string
}

// Book reserves a slot. Staff bookings start confirmed, everything else
// starts pending. A repeated idempotency key from the same actor returns the
// original appointment.
func (s *Service) Book(ctx context.Context, in BookInput) (out domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.Book", trace.WithAttributes(
		attribute.String("practitioner_id", in.PractitionerID),
		attribute.String("date", domain.FormatDate(in.Date)),
	))
	defer func() { endSpan(span, err) }()

	appt, err := s.newAppointment(ctx, in)
	if err != nil {
		return domain.Appointment{}, err
	}

	created := false
	keys := []store.DayKey{{PractitionerID: appt.PractitionerID, Date: appt.Date}}
	err = s.repo.InDayTransaction(ctx, keys, func(ctx context.Context, tx store.CalendarTx) error {
		if appt.ID != uuid.Nil {
			existing, err := tx.GetAppointment(ctx, appt.ID)
			switch {
			case err == nil:
				if !sameBooking(existing, appt) {
					return store.ErrIdempotencyConflict
				}
				out = existing
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if err := s.resolver.Check(ctx, tx, conflict.Request{
			PractitionerID: appt.PractitionerID,
			Date:           appt.Date,
			Slot:           appt.Interval(),
		}); err != nil {
			return err
		}

		a, err := tx.CreateAppointment(ctx, appt)
		if err != nil {
			return err
		}
		out = a
		created = true
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	if created {
		s.publish(ctx, out, "", in.Actor.Role)
	}
	return out, nil
}

func (s *Service) newAppointment(ctx context.Context, in BookInput) (domain.Appointment, error) {
	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		return domain.Appointment{}, validationError("patient_id is required")
	}
	practitionerID := strings.TrimSpace(in.PractitionerID)
	if practitionerID == "" {
		return domain.Appointment{}, validationError("practitioner_id is required")
	}
	serviceType, err := domain.ParseServiceType(in.ServiceType)
	if err != nil {
		return domain.Appointment{}, validationError(err.Error())
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, validationError("date is required")
	}
	slot := domain.Interval{Start: in.StartTime, End: in.EndTime}
	if !slot.Valid() {
		return domain.Appointment{}, validationError("end_time must be after start_time")
	}
	if len(in.Notes) > maxNotesLength {
		return domain.Appointment{}, validationError("notes too long")
	}

	if s.practitioners != nil {
		p, err := s.practitioners.Practitioner(ctx, practitionerID)
		if errors.Is(err, directory.ErrNotFound) {
			return domain.Appointment{}, fmt.Errorf("practitioner %s: %w", practitionerID, store.ErrNotFound)
		}
		if err != nil {
			return domain.Appointment{}, fmt.Errorf("look up practitioner: %w", err)
		}
		if !p.Bookable() {
			return domain.Appointment{}, validationError("practitioner does not take appointments")
		}
	}

	status := domain.StatusPending
	if in.Actor.Role.IsStaff() {
		status = domain.StatusConfirmed
	}

	appt := domain.Appointment{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		ServiceType:    serviceType,
		Date:           domain.DateOf(in.Date),
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		Status:         status,
		Notes:          strings.TrimSpace(in.Notes),
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > maxIdempotencyKey {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("mathavam:book:"+in.Actor.ID+":"+key))
	}
	return appt, nil
}

func sameBooking(existing, requested domain.Appointment) bool {
	return existing.PatientID == requested.PatientID &&
		existing.PractitionerID == requested.PractitionerID &&
		existing.ServiceType == requested.ServiceType &&
		domain.SameDate(existing.Date, requested.Date) &&
		existing.StartTime == requested.StartTime &&
		existing.EndTime == requested.EndTime
}

// SetStatus applies a lifecycle transition. Cancelling an already cancelled
// appointment succeeds without change.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, next domain.Status, actorRole domain.Role) (out domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.SetStatus", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("status", string(next)),
	))
	defer func() { endSpan(span, err) }()

	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if _, err := domain.ParseStatus(string(next)); err != nil {
		return domain.Appointment{}, validationError(err.Error())
	}
	if !transitionPermitted(actorRole, next) {
		return domain.Appointment{}, domain.ErrForbidden
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}

	var old domain.Status
	changed := false
	keys := []store.DayKey{{PractitionerID: current.PractitionerID, Date: current.Date}}
	err = s.repo.InDayTransaction(ctx, keys, func(ctx context.Context, tx store.CalendarTx) error {
		cur, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == domain.StatusCancelled && next == domain.StatusCancelled {
			out = cur
			return nil
		}
		// Rescheduling needs a successor, so it only happens through Reschedule.
		if next == domain.StatusRescheduled || !cur.Status.CanTransitionTo(next) {
			return &InvalidTransitionError{From: cur.Status, To: next}
		}

		old = cur.Status
		cur.Status = next
		updated, err := tx.UpdateAppointment(ctx, cur)
		if err != nil {
			return err
		}
		out = updated
		changed = true
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	if changed {
		s.publish(ctx, out, old, actorRole)
	}
	return out, nil
}

func transitionPermitted(role domain.Role, next domain.Status) bool {
	if _, ok := domain.ParseRole(string(role)); !ok {
		return false
	}
	if next == domain.StatusCancelled {
		return true
	}
	return role.IsStaff()
}

type RescheduleInput struct {
	ID        uuid.UUID
	Date      time.Time
	StartTime domain.Clock
	EndTime   domain.Clock
	ActorRole domain.Role
}

// Reschedule moves a confirmed appointment. The original is marked
// rescheduled and a pending successor linked to it is created in the same
// transaction; on any failure neither record changes.
func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (out domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.Reschedule", trace.WithAttributes(
		attribute.String("appointment_id", in.ID.String()),
		attribute.String("date", domain.FormatDate(in.Date)),
	))
	defer func() { endSpan(span, err) }()

	if in.ID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, validationError("date is required")
	}
	slot := domain.Interval{Start: in.StartTime, End: in.EndTime}
	if !slot.Valid() {
		return domain.Appointment{}, validationError("end_time must be after start_time")
	}
	newDate := domain.DateOf(in.Date)

	current, err := s.repo.Get(ctx, in.ID)
	if err != nil {
		return domain.Appointment{}, err
	}

	var previous domain.Appointment
	keys := []store.DayKey{
		{PractitionerID: current.PractitionerID, Date: current.Date},
		{PractitionerID: current.PractitionerID, Date: newDate},
	}
	err = s.repo.InDayTransaction(ctx, keys, func(ctx context.Context, tx store.CalendarTx) error {
		cur, err := tx.GetAppointment(ctx, in.ID)
		if err != nil {
			return err
		}
		if !cur.Status.CanTransitionTo(domain.StatusRescheduled) {
			return &InvalidTransitionError{From: cur.Status, To: domain.StatusRescheduled}
		}

		if err := s.resolver.Check(ctx, tx, conflict.Request{
			PractitionerID: cur.PractitionerID,
			Date:           newDate,
			Slot:           slot,
			ExcludeID:      cur.ID,
		}); err != nil {
			return err
		}

		successorID, err := uuid.NewV7()
		if err != nil {
			return err
		}
		fromID := cur.ID
		successor := domain.Appointment{
			ID:                successorID,
			PatientID:         cur.PatientID,
			PractitionerID:    cur.PractitionerID,
			ServiceType:       cur.ServiceType,
			Date:              newDate,
			StartTime:         in.StartTime,
			EndTime:           in.EndTime,
			Status:            domain.StatusPending,
			Notes:             cur.Notes,
			RescheduledFromID: &fromID,
		}

		cur.Status = domain.StatusRescheduled
		cur.RescheduledToID = &successorID
		if previous, err = tx.UpdateAppointment(ctx, cur); err != nil {
			return err
		}
		if out, err = tx.CreateAppointment(ctx, successor); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.publish(ctx, previous, domain.StatusConfirmed, in.ActorRole)
	s.publish(ctx, out, "", in.ActorRole)
	return out, nil
}

type Page struct {
	Items    []domain.Appointment
	Total    int
	Page     int
	PageSize int
}

func (p Page) HasMore() bool {
	return p.Page*p.PageSize < p.Total
}

// List returns appointments ordered by date and start time. page is 1-based;
// pageSize defaults to DefaultPageSize and is capped at MaxPageSize.
func (s *Service) List(ctx context.Context, filter store.AppointmentFilter, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page-1 > (math.MaxInt-pageSize)/pageSize {
		return Page{}, validationError("page out of range")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return Page{}, validationError("to must not be before from")
	}
	if filter.Status != "" {
		if _, err := domain.ParseStatus(string(filter.Status)); err != nil {
			return Page{}, validationError(err.Error())
		}
	}

	items, total, err := s.repo.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("list appointments: %w", err)
	}
	return Page{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.repo.Get(ctx, id)
}

// Delete removes an appointment outright. Only administrators may do this;
// everyone else cancels.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actorRole domain.Role) error {
	if id == uuid.Nil {
		return validationError("appointment_id is required")
	}
	if !actorRole.IsAdmin() {
		return domain.ErrForbidden
	}
	return s.repo.Delete(ctx, id)
}

// FreeSlots lists the bookable intervals of the given length on date.
func (s *Service) FreeSlots(ctx context.Context, practitionerID string, date time.Time, length time.Duration) ([]domain.Interval, error) {
	if strings.TrimSpace(practitionerID) == "" {
		return nil, validationError("practitioner_id is required")
	}
	if date.IsZero() {
		return nil, validationError("date is required")
	}
	if length < time.Minute || length > maxSlotLength {
		return nil, validationError("duration must be between 1 minute and 8 hours")
	}
	return s.resolver.FreeSlots(ctx, s.repo, practitionerID, domain.DateOf(date), length, s.slotStep)
}

// Practitioners lists the directory entries that take appointments.
func (s *Service) Practitioners(ctx context.Context) ([]directory.Practitioner, error) {
	if s.practitioners == nil {
		return []directory.Practitioner{}, nil
	}
	all, err := s.practitioners.ListPractitioners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list practitioners: %w", err)
	}
	out := make([]directory.Practitioner, 0, len(all))
	for _, p := range all {
		if p.Bookable() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, a domain.Appointment, old domain.Status, actorRole domain.Role) {
	if err := s.sink.Notify(ctx, notify.StatusChanged(a, old, actorRole)); err != nil {
		s.log.Warn("status notification failed",
			slog.Any("err", err),
			slog.String("appointment_id", a.ID.String()),
			slog.String("new_status", string(a.Status)),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
