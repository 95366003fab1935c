// Package notify delivers appointment status changes to downstream
// consumers. Delivery is best effort: callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
)

const EventStatusChanged = "appointment.status_changed.v1"

type Event struct {
	ID             uuid.UUID     `json:"event_id"`
	Type           string        `json:"event_type"`
	AppointmentID  uuid.UUID     `json:"appointment_id"`
	PatientID      string        `json:"patient_id"`
	PractitionerID string        `json:"practitioner_id"`
	OldStatus      domain.Status `json:"old_status,omitempty"`
	NewStatus      domain.Status `json:"new_status"`
	ActorRole      domain.Role   `json:"actor_role"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// StatusChanged builds the event for a transition of a. An empty old status
// marks a newly booked appointment.
func StatusChanged(a domain.Appointment, old domain.Status, actorRole domain.Role) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Event{
		ID:             id,
		Type:           EventStatusChanged,
		AppointmentID:  a.ID,
		PatientID:      a.PatientID,
		PractitionerID: a.PractitionerID,
		OldStatus:      old,
		NewStatus:      a.Status,
		ActorRole:      actorRole,
		OccurredAt:     time.Now().UTC(),
	}
}

type Sink interface {
	Notify(ctx context.Context, e Event) error
}

type Discard struct{}

func (Discard) Notify(context.Context, Event) error { return nil }

type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) LogSink {
	if log == nil {
		log = slog.Default()
	}
	return LogSink{log: log.With(slog.String("component", "notify.log"))}
}

func (s LogSink) Notify(ctx context.Context, e Event) error {
	s.log.InfoContext(ctx, "appointment status changed",
		slog.String("event_id", e.ID.String()),
		slog.String("appointment_id", e.AppointmentID.String()),
		slog.String("old_status", string(e.OldStatus)),
		slog.String("new_status", string(e.NewStatus)),
		slog.String("actor_role", string(e.ActorRole)),
	)
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
