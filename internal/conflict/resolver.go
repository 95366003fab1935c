// Package conflict decides whether a requested slot can be booked. It is
// the only place that applies the availability and overlap rules.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
)

var (
	ErrOutsideAvailability = errors.New("requested time is outside the practitioner's availability")
	ErrDoubleBooked        = errors.New("requested time overlaps an existing appointment")
)

// Error carries the rejection reason and, for double bookings, the
// appointment already holding the slot.
type Error struct {
	Reason        error
	ConflictingID uuid.UUID
}

func (e *Error) Error() string {
	if e.ConflictingID != uuid.Nil {
		return fmt.Sprintf("%v (appointment %s)", e.Reason, e.ConflictingID)
	}
	return e.Reason.Error()
}

func (e *Error) Unwrap() error {
	return e.Reason
}

type WindowSource interface {
	Windows(ctx context.Context, practitionerID string, date time.Time) ([]domain.AvailabilityWindow, error)
}

// AppointmentSource is satisfied by both the repository and a calendar
// transaction, so checks can run inside the write lock.
type AppointmentSource interface {
	ListActiveAppointments(ctx context.Context, practitionerID string, date time.Time) ([]domain.Appointment, error)
}

type Request struct {
	PractitionerID string
	Date           time.Time
	Slot           domain.Interval
	// ExcludeID is ignored when scanning for overlaps.
	ExcludeID uuid.UUID
}

type Resolver struct {
	windows WindowSource
}

func NewResolver(windows WindowSource) *Resolver {
	return &Resolver{windows: windows}
}

// Check returns nil when req fits a window and overlaps no active
// appointment, or a *Error otherwise.
func (r *Resolver) Check(ctx context.Context, appts AppointmentSource, req Request) error {
	windows, err := r.windows.Windows(ctx, req.PractitionerID, req.Date)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}
	if !fitsWindow(windows, req.Slot) {
		return &Error{Reason: ErrOutsideAvailability}
	}

	existing, err := appts.ListActiveAppointments(ctx, req.PractitionerID, req.Date)
	if err != nil {
		return fmt.Errorf("load appointments: %w", err)
	}
	if id, ok := firstOverlap(existing, req); ok {
		return &Error{Reason: ErrDoubleBooked, ConflictingID: id}
	}
	return nil
}

func fitsWindow(windows []domain.AvailabilityWindow, slot domain.Interval) bool {
	for _, w := range windows {
		if w.Kind == domain.WindowClosed {
			continue
		}
		if w.Interval().Contains(slot) {
			return true
		}
	}
	return false
}

func firstOverlap(existing []domain.Appointment, req Request) (uuid.UUID, bool) {
	for _, a := range existing {
		if a.ID == req.ExcludeID && req.ExcludeID != uuid.Nil {
			continue
		}
		if a.Occupies(req.Date, req.Slot) {
			return a.ID, true
		}
	}
	return uuid.Nil, false
}
