// Package memory keeps appointments and availability in process memory. It
// backs tests and single-node deployments without a database.
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

type AppointmentStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]domain.Appointment
	locks *keyedMutex
	now   func() time.Time
}

func NewAppointmentStore() *AppointmentStore {
	return &AppointmentStore{
		byID:  make(map[uuid.UUID]domain.Appointment),
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *AppointmentStore) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *AppointmentStore) List(ctx context.Context, filter store.AppointmentFilter, limit, offset int) ([]domain.Appointment, int, error) {
	s.mu.RLock()
	matched := make([]domain.Appointment, 0)
	for _, a := range s.byID {
		if filter.Matches(a) {
			matched = append(matched, a)
		}
	}
	s.mu.RUnlock()

	sortAppointments(matched)
	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Appointment{}, total, nil
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (s *AppointmentStore) ListActiveAppointments(ctx context.Context, practitionerID string, date time.Time) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(practitionerID, date, nil), nil
}

func (s *AppointmentStore) Delete(ctx context.Context, id uuid.UUID) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(store.SortedKeys([]store.DayKey{{PractitionerID: a.PractitionerID, Date: a.Date}}))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.byID, id)
	for otherID, other := range s.byID {
		changed := false
		if other.RescheduledFromID != nil && *other.RescheduledFromID == id {
			other.RescheduledFromID = nil
			changed = true
		}
		if other.RescheduledToID != nil && *other.RescheduledToID == id {
			other.RescheduledToID = nil
			changed = true
		}
		if changed {
			s.byID[otherID] = other
		}
	}
	return nil
}

func (s *AppointmentStore) InDayTransaction(ctx context.Context, keys []store.DayKey, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	unlock := s.locks.lock(store.SortedKeys(keys))
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &calendarTx{s: s, staged: make(map[uuid.UUID]domain.Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies the staged writes in one step, rejecting them if they
// would leave two active appointments overlapping.
func (s *AppointmentStore) commit(tx *calendarTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tx.order {
		staged := tx.staged[id]
		if !staged.Status.Active() {
			continue
		}
		for _, other := range s.activeLocked(staged.PractitionerID, staged.Date, tx.staged) {
			if other.ID != staged.ID && other.Interval().Overlaps(staged.Interval()) {
				return store.ErrConflict
			}
		}
	}

	for _, id := range tx.order {
		s.byID[id] = tx.staged[id]
	}
	return nil
}

// activeLocked lists active appointments for the day, with staged writes
// shadowing stored rows. s.mu must be held.
func (s *AppointmentStore) activeLocked(practitionerID string, date time.Time, staged map[uuid.UUID]domain.Appointment) []domain.Appointment {
	out := make([]domain.Appointment, 0)
	keep := func(a domain.Appointment) {
		if a.PractitionerID == practitionerID && a.Status.Active() && domain.SameDate(a.Date, date) {
			out = append(out, a)
		}
	}
	for id, a := range s.byID {
		if st, ok := staged[id]; ok {
			a = st
		}
		keep(a)
	}
	for id, a := range staged {
		if _, ok := s.byID[id]; !ok {
			keep(a)
		}
	}
	sortAppointments(out)
	return out
}

type calendarTx struct {
	s      *AppointmentStore
	staged map[uuid.UUID]domain.Appointment
	order  []uuid.UUID
}

func (t *calendarTx) stage(a domain.Appointment) {
	if _, ok := t.staged[a.ID]; !ok {
		t.order = append(t.order, a.ID)
	}
	t.staged[a.ID] = a
}

func (t *calendarTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return a, nil
	}
	return t.s.Get(ctx, id)
}

func (t *calendarTx) ListActiveAppointments(ctx context.Context, practitionerID string, date time.Time) ([]domain.Appointment, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.activeLocked(practitionerID, date, t.staged), nil
}

func (t *calendarTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	} else if _, err := t.GetAppointment(ctx, appt.ID); err == nil {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}

	now := t.s.now()
	appt.Date = domain.DateOf(appt.Date)
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	t.stage(appt)
	return appt, nil
}

func (t *calendarTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if _, err := t.GetAppointment(ctx, appt.ID); err != nil {
		return domain.Appointment{}, err
	}
	appt.UpdatedAt = t.s.now()
	t.stage(appt)
	return appt, nil
}

func sortAppointments(rows []domain.Appointment) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID.String() < b.ID.String()
	})
}
