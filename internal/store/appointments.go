package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
)

// DayKey identifies one practitioner's calendar for one date. Writes that
// can change the occupancy of a day are serialized on its key.
type DayKey struct {
	PractitionerID string
	Date           time.Time
}

func (k DayKey) String() string {
	return k.PractitionerID + "|" + domain.FormatDate(k.Date)
}

// SortedKeys dedupes keys and orders them so every caller acquires locks in
// the same order.
func SortedKeys(keys []DayKey) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		s := k.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// AppointmentFilter narrows a listing. Empty fields match everything, except
// that a non-nil empty PatientIDs matches nothing. From and To are inclusive
// dates.
type AppointmentFilter struct {
	PractitionerID string
	PatientIDs     []string
	Status         domain.Status
	From           *time.Time
	To             *time.Time
}

func (f AppointmentFilter) Matches(a domain.Appointment) bool {
	if f.PractitionerID != "" && a.PractitionerID != f.PractitionerID {
		return false
	}
	if f.PatientIDs != nil {
		found := false
		for _, id := range f.PatientIDs {
			if id == a.PatientID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.From != nil && a.Date.Before(domain.DateOf(*f.From)) {
		return false
	}
	if f.To != nil && a.Date.After(domain.DateOf(*f.To)) {
		return false
	}
	return true
}

type AppointmentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	// List returns one page ordered by date, start time and id, plus the
	// total number of matches.
	List(ctx context.Context, filter AppointmentFilter, limit, offset int) ([]domain.Appointment, int, error)
	ListActiveAppointments(ctx context.Context, practitionerID string, date time.Time) ([]domain.Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// InDayTransaction runs fn with every key locked. Writes made through tx
	// become visible together when fn returns nil and are discarded otherwise.
	InDayTransaction(ctx context.Context, keys []DayKey, fn func(ctx context.Context, tx CalendarTx) error) error
}
