package conflict

import (
	"context"
	"fmt"
	"time"

	"mathavam/backend/internal/domain"
)

const DefaultSlotStep = 15 * time.Minute

// FreeSlots lists bookable intervals of the given length on a date. Starts
// are aligned to step from the opening of each window.
func (r *Resolver) FreeSlots(ctx context.Context, appts AppointmentSource, practitionerID string, date time.Time, length, step time.Duration) ([]domain.Interval, error) {
	windows, err := r.windows.Windows(ctx, practitionerID, date)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	existing, err := appts.ListActiveAppointments(ctx, practitionerID, date)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	return OpenSlots(windows, existing, date, length, step), nil
}

// OpenSlots is the pure part of FreeSlots.
func OpenSlots(windows []domain.AvailabilityWindow, existing []domain.Appointment, date time.Time, length, step time.Duration) []domain.Interval {
	if length < time.Minute {
		return nil
	}
	if step < time.Minute {
		step = DefaultSlotStep
	}

	out := make([]domain.Interval, 0)
	for _, w := range windows {
		if w.Kind == domain.WindowClosed {
			continue
		}
		for start := w.StartTime; start.Add(length) <= w.EndTime; start = start.Add(step) {
			slot := domain.Interval{Start: start, End: start.Add(length)}
			if _, taken := firstOverlap(existing, Request{Date: date, Slot: slot}); taken {
				continue
			}
			out = append(out, slot)
		}
	}
	return out
}
