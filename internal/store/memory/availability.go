package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/store"
)

type AvailabilityStore struct {
	mu      sync.RWMutex
	windows map[uuid.UUID]domain.AvailabilityWindow
	now     func() time.Time
}

func NewAvailabilityStore() *AvailabilityStore {
	return &AvailabilityStore{
		windows: make(map[uuid.UUID]domain.AvailabilityWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *AvailabilityStore) Windows(ctx context.Context, practitionerID string, date time.Time) ([]domain.AvailabilityWindow, error) {
	s.mu.RLock()
	candidates := s.forPractitionerLocked(practitionerID)
	s.mu.RUnlock()
	return domain.ResolveWindows(candidates, date), nil
}

func (s *AvailabilityStore) ListWindows(ctx context.Context, practitionerID string) ([]domain.AvailabilityWindow, error) {
	s.mu.RLock()
	out := s.forPractitionerLocked(practitionerID)
	s.mu.RUnlock()
	sortWindows(out)
	return out, nil
}

func (s *AvailabilityStore) GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[id]
	if !ok {
		return domain.AvailabilityWindow{}, store.ErrNotFound
	}
	return w, nil
}

func (s *AvailabilityStore) SetWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.forPractitionerLocked(w.PractitionerID) {
		if existing.ID != w.ID && existing.ConflictsWith(w) {
			return domain.AvailabilityWindow{}, &store.OverlapError{ExistingID: existing.ID}
		}
	}

	now := s.now()
	if w.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.AvailabilityWindow{}, err
		}
		w.ID = id
		w.CreatedAt = now
	} else if prev, ok := s.windows[w.ID]; ok {
		w.CreatedAt = prev.CreatedAt
	} else {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	s.windows[w.ID] = w
	return w, nil
}

func (s *AvailabilityStore) RemoveWindow(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.windows, id)
	return nil
}

func (s *AvailabilityStore) forPractitionerLocked(practitionerID string) []domain.AvailabilityWindow {
	out := make([]domain.AvailabilityWindow, 0)
	for _, w := range s.windows {
		if w.PractitionerID == practitionerID {
			out = append(out, w)
		}
	}
	return out
}

// sortWindows orders weekly rules by weekday and exceptions by date, each by
// start time.
func sortWindows(rows []domain.AvailabilityWindow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Kind.Exception() != b.Kind.Exception() {
			return !a.Kind.Exception()
		}
		if a.DayOfWeek != nil && b.DayOfWeek != nil && *a.DayOfWeek != *b.DayOfWeek {
			return *a.DayOfWeek < *b.DayOfWeek
		}
		if a.Date != nil && b.Date != nil && !a.Date.Equal(*b.Date) {
			return a.Date.Before(*b.Date)
		}
		return a.StartTime < b.StartTime
	})
}
