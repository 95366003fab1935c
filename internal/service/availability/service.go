package availability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/store"
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

type Service struct {
	store store.AvailabilityStore
	log   *slog.Logger
}

func NewService(s store.AvailabilityStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, log: log.With(slog.String("component", "service.availability"))}
}

// Windows returns the windows bookable on date after exceptions are applied.
func (s *Service) Windows(ctx context.Context, practitionerID string, date time.Time) ([]domain.AvailabilityWindow, error) {
	if strings.TrimSpace(practitionerID) == "" {
		return nil, validationError("practitioner_id is required")
	}
	if date.IsZero() {
		return nil, validationError("date is required")
	}
	return s.store.Windows(ctx, practitionerID, domain.DateOf(date))
}

func (s *Service) ListWindows(ctx context.Context, practitionerID string) ([]domain.AvailabilityWindow, error) {
	if strings.TrimSpace(practitionerID) == "" {
		return nil, validationError("practitioner_id is required")
	}
	return s.store.ListWindows(ctx, practitionerID)
}

func (s *Service) GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	if id == uuid.Nil {
		return domain.AvailabilityWindow{}, validationError("window_id is required")
	}
	return s.store.GetWindow(ctx, id)
}

type SetWindowInput struct {
	// ID replaces an existing window when set.
	ID             uuid.UUID
	PractitionerID string
	Kind           string
	DayOfWeek      *time.Weekday
	Date           *time.Time
	StartTime      domain.Clock
	EndTime        domain.Clock
}

// SetWindow creates or replaces a window. Overlaps with another window of the
// same practitioner fail with *store.OverlapError.
func (s *Service) SetWindow(ctx context.Context, in SetWindowInput) (domain.AvailabilityWindow, error) {
	kind, err := domain.ParseWindowKind(strings.ToLower(strings.TrimSpace(in.Kind)))
	if err != nil {
		return domain.AvailabilityWindow{}, validationError(err.Error())
	}
	w := domain.AvailabilityWindow{
		ID:             in.ID,
		PractitionerID: strings.TrimSpace(in.PractitionerID),
		Kind:           kind,
		DayOfWeek:      in.DayOfWeek,
		Date:           in.Date,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
	}
	if err := w.Validate(); err != nil {
		return domain.AvailabilityWindow{}, validationError(err.Error())
	}
	if in.ID != uuid.Nil {
		prev, err := s.store.GetWindow(ctx, in.ID)
		if err != nil {
			return domain.AvailabilityWindow{}, err
		}
		if prev.PractitionerID != w.PractitionerID {
			return domain.AvailabilityWindow{}, validationError("window belongs to another practitioner")
		}
	}

	saved, err := s.store.SetWindow(ctx, w)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	s.log.Info("availability window saved",
		slog.String("window_id", saved.ID.String()),
		slog.String("practitioner_id", saved.PractitionerID),
		slog.String("kind", string(saved.Kind)),
	)
	return saved, nil
}

// RemoveWindow deletes a window. Appointments already booked inside it are
// left alone.
func (s *Service) RemoveWindow(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return validationError("window_id is required")
	}
	if err := s.store.RemoveWindow(ctx, id); err != nil {
		return fmt.Errorf("remove window %s: %w", id, err)
	}
	s.log.Info("availability window removed", slog.String("window_id", id.String()))
	return nil
}
