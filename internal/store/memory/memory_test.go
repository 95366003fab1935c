package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/store"
)

var day = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func appt(start, end domain.Clock) domain.Appointment {
	return domain.Appointment{
		PatientID:      "child-1",
		PractitionerID: "P1",
		ServiceType:    domain.ServiceSpeechTherapy,
		Date:           day,
		StartTime:      start,
		EndTime:        end,
		Status:         domain.StatusPending,
	}
}

func create(t *testing.T, s *AppointmentStore, a domain.Appointment) (domain.Appointment, error) {
	t.Helper()
	var out domain.Appointment
	err := s.InDayTransaction(context.Background(), []store.DayKey{{PractitionerID: a.PractitionerID, Date: a.Date}}, func(ctx context.Context, tx store.CalendarTx) error {
		created, err := tx.CreateAppointment(ctx, a)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

func TestAppointmentStore_CommitRejectsOverlap(t *testing.T) {
	s := NewAppointmentStore()
	if _, err := create(t, s, appt(domain.MustClock(9, 0), domain.MustClock(10, 0))); err != nil {
		t.Fatalf("create error: %v", err)
	}

	_, err := create(t, s, appt(domain.MustClock(9, 30), domain.MustClock(10, 30)))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("overlap err = %v, want %v", err, store.ErrConflict)
	}

	if _, err := create(t, s, appt(domain.MustClock(10, 0), domain.MustClock(11, 0))); err != nil {
		t.Fatalf("back to back create error: %v", err)
	}

	rows, total, err := s.List(context.Background(), store.AppointmentFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("rows = %d total = %d, want 2 and 2", len(rows), total)
	}
	if rows[0].StartTime != domain.MustClock(9, 0) {
		t.Fatalf("first row starts %s, want 09:00", rows[0].StartTime)
	}
}

func TestAppointmentStore_FailedTransactionLeavesNoTrace(t *testing.T) {
	s := NewAppointmentStore()
	boom := errors.New("boom")

	err := s.InDayTransaction(context.Background(), []store.DayKey{{PractitionerID: "P1", Date: day}}, func(ctx context.Context, tx store.CalendarTx) error {
		if _, err := tx.CreateAppointment(ctx, appt(domain.MustClock(9, 0), domain.MustClock(10, 0))); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	rows, err := s.ListActiveAppointments(context.Background(), "P1", day)
	if err != nil {
		t.Fatalf("ListActiveAppointments error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0", len(rows))
	}
}

func TestAppointmentStore_StagedSwapCommitsTogether(t *testing.T) {
	s := NewAppointmentStore()
	old, err := create(t, s, appt(domain.MustClock(9, 0), domain.MustClock(10, 0)))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	err = s.InDayTransaction(context.Background(), []store.DayKey{{PractitionerID: "P1", Date: day}}, func(ctx context.Context, tx store.CalendarTx) error {
		old.Status = domain.StatusRescheduled
		if _, err := tx.UpdateAppointment(ctx, old); err != nil {
			return err
		}
		_, err := tx.CreateAppointment(ctx, appt(domain.MustClock(9, 30), domain.MustClock(10, 30)))
		return err
	})
	if err != nil {
		t.Fatalf("swap error: %v", err)
	}

	active, _ := s.ListActiveAppointments(context.Background(), "P1", day)
	if len(active) != 1 || active[0].StartTime != domain.MustClock(9, 30) {
		t.Fatalf("active = %+v, want only the 09:30 appointment", active)
	}
}

func TestAppointmentStore_ListFiltersAndPages(t *testing.T) {
	s := NewAppointmentStore()
	for i := 0; i < 5; i++ {
		a := appt(domain.MustClock(9+i, 0), domain.MustClock(10+i, 0))
		if i%2 == 1 {
			a.PatientID = "child-2"
		}
		if _, err := create(t, s, a); err != nil {
			t.Fatalf("create error: %v", err)
		}
	}

	rows, total, err := s.List(context.Background(), store.AppointmentFilter{PatientIDs: []string{"child-1"}}, 2, 0)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 3 || len(rows) != 2 {
		t.Fatalf("rows = %d total = %d, want 2 and 3", len(rows), total)
	}

	rows, total, _ = s.List(context.Background(), store.AppointmentFilter{PatientIDs: []string{}}, 10, 0)
	if total != 0 || len(rows) != 0 {
		t.Fatalf("empty patient scope rows = %d total = %d, want 0", len(rows), total)
	}

	rows, _, _ = s.List(context.Background(), store.AppointmentFilter{}, 2, 4)
	if len(rows) != 1 {
		t.Fatalf("last page rows = %d, want 1", len(rows))
	}

	rows, total, err = s.List(context.Background(), store.AppointmentFilter{}, 2, -3)
	if err != nil || total != 5 || len(rows) != 2 || rows[0].StartTime != domain.MustClock(9, 0) {
		t.Fatalf("negative offset rows = %+v total = %d err = %v, want first page", rows, total, err)
	}
}

func TestAppointmentStore_ConcurrentBookingsNeverOverlap(t *testing.T) {
	s := NewAppointmentStore()
	const workers = 16

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InDayTransaction(context.Background(), []store.DayKey{{PractitionerID: "P1", Date: day}}, func(ctx context.Context, tx store.CalendarTx) error {
				existing, err := tx.ListActiveAppointments(ctx, "P1", day)
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					return store.ErrConflict
				}
				_, err = tx.CreateAppointment(ctx, appt(domain.MustClock(9, 0), domain.MustClock(10, 0)))
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", succeeded)
	}
}

func TestAppointmentStore_Delete(t *testing.T) {
	s := NewAppointmentStore()
	a, err := create(t, s, appt(domain.MustClock(9, 0), domain.MustClock(10, 0)))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := s.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := s.Delete(context.Background(), a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second Delete err = %v, want %v", err, store.ErrNotFound)
	}
	if err := s.Delete(context.Background(), uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown Delete err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestAppointmentStore_DeleteClearsRescheduleLinks(t *testing.T) {
	s := NewAppointmentStore()
	first, err := create(t, s, appt(domain.MustClock(9, 0), domain.MustClock(10, 0)))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	var middle, last domain.Appointment
	err = s.InDayTransaction(context.Background(), []store.DayKey{{PractitionerID: "P1", Date: day}}, func(ctx context.Context, tx store.CalendarTx) error {
		first.Status = domain.StatusRescheduled
		next := appt(domain.MustClock(10, 0), domain.MustClock(11, 0))
		next.Status = domain.StatusRescheduled
		next.RescheduledFromID = &first.ID
		created, err := tx.CreateAppointment(ctx, next)
		if err != nil {
			return err
		}
		middle = created
		first.RescheduledToID = &middle.ID
		if _, err := tx.UpdateAppointment(ctx, first); err != nil {
			return err
		}

		final := appt(domain.MustClock(11, 0), domain.MustClock(12, 0))
		final.RescheduledFromID = &middle.ID
		if last, err = tx.CreateAppointment(ctx, final); err != nil {
			return err
		}
		middle.RescheduledToID = &last.ID
		_, err = tx.UpdateAppointment(ctx, middle)
		return err
	})
	if err != nil {
		t.Fatalf("chain setup error: %v", err)
	}

	if err := s.Delete(context.Background(), middle.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	got, _ := s.Get(context.Background(), first.ID)
	if got.RescheduledToID != nil {
		t.Fatalf("predecessor still links to deleted %v", *got.RescheduledToID)
	}
	got, _ = s.Get(context.Background(), last.ID)
	if got.RescheduledFromID != nil {
		t.Fatalf("successor still links to deleted %v", *got.RescheduledFromID)
	}
}

func TestAvailabilityStore_SetWindowRejectsOverlap(t *testing.T) {
	s := NewAvailabilityStore()
	tue := time.Tuesday
	first, err := s.SetWindow(context.Background(), domain.AvailabilityWindow{
		PractitionerID: "P1", Kind: domain.WindowWeekly, DayOfWeek: &tue,
		StartTime: domain.MustClock(9, 0), EndTime: domain.MustClock(12, 0),
	})
	if err != nil {
		t.Fatalf("SetWindow error: %v", err)
	}

	_, err = s.SetWindow(context.Background(), domain.AvailabilityWindow{
		PractitionerID: "P1", Kind: domain.WindowWeekly, DayOfWeek: &tue,
		StartTime: domain.MustClock(11, 0), EndTime: domain.MustClock(13, 0),
	})
	var overlap *store.OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("err = %v, want *store.OverlapError", err)
	}
	if overlap.ExistingID != first.ID {
		t.Fatalf("existing id = %s, want %s", overlap.ExistingID, first.ID)
	}
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("overlap error should match store.ErrConflict")
	}

	windows, _ := s.Windows(context.Background(), "P1", day)
	if len(windows) != 1 {
		t.Fatalf("len(windows) = %d, want 1", len(windows))
	}
}

func TestAvailabilityStore_RemoveWindow(t *testing.T) {
	s := NewAvailabilityStore()
	if err := s.RemoveWindow(context.Background(), uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}

	closed := day
	w, err := s.SetWindow(context.Background(), domain.AvailabilityWindow{
		PractitionerID: "P1", Kind: domain.WindowClosed, Date: &closed, StartTime: 0, EndTime: domain.MinutesPerDay,
	})
	if err != nil {
		t.Fatalf("SetWindow error: %v", err)
	}
	if err := s.RemoveWindow(context.Background(), w.ID); err != nil {
		t.Fatalf("RemoveWindow error: %v", err)
	}
	rows, _ := s.ListWindows(context.Background(), "P1")
	if len(rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0", len(rows))
	}
}
