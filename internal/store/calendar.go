package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
)

type CalendarTx interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListActiveAppointments(ctx context.Context, practitionerID string, date time.Time) ([]domain.Appointment, error)
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}
