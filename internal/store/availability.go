package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
)

type AvailabilityStore interface {
	// Windows returns the resolved windows for date, ordered by start time.
	Windows(ctx context.Context, practitionerID string, date time.Time) ([]domain.AvailabilityWindow, error)
	ListWindows(ctx context.Context, practitionerID string) ([]domain.AvailabilityWindow, error)
	GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error)
	// SetWindow stores a validated window or fails with *OverlapError.
	SetWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	RemoveWindow(ctx context.Context, id uuid.UUID) error
}
