package appointments

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/conflict"
	"mathavam/backend/internal/directory"
	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/notify"
	"mathavam/backend/internal/store"
	"mathavam/backend/internal/store/memory"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recordingSink) Notify(ctx context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// fakeRepo wraps a working repository and lets a test override single calls.
type fakeRepo struct {
	store.AppointmentRepository
	listFn func(ctx context.Context, filter store.AppointmentFilter, limit, offset int) ([]domain.Appointment, int, error)
}

func (f *fakeRepo) List(ctx context.Context, filter store.AppointmentFilter, limit, offset int) ([]domain.Appointment, int, error) {
	if f.listFn == nil {
		panic("List not configured")
	}
	return f.listFn(ctx, filter, limit, offset)
}

var tuesday = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	repo  *memory.AppointmentStore
	avail *memory.AvailabilityStore
	sink  *recordingSink
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.NewAppointmentStore()
	avail := memory.NewAvailabilityStore()
	day := tuesday.Weekday()
	for _, pid := range []string{"P1", "P2"} {
		if _, err := avail.SetWindow(context.Background(), domain.AvailabilityWindow{
			PractitionerID: pid,
			Kind:           domain.WindowWeekly,
			DayOfWeek:      &day,
			StartTime:      domain.MustClock(9, 0),
			EndTime:        domain.MustClock(12, 0),
		}); err != nil {
			t.Fatalf("SetWindow error: %v", err)
		}
	}
	dir := directory.NewStatic([]directory.Practitioner{
		{ID: "P1", Name: "Dr. Kavitha", Role: directory.RoleDoctor},
		{ID: "P2", Name: "Nirosh", Role: directory.RoleTherapist},
		{ID: "R1", Name: "Front Desk", Role: directory.RoleReceptionist},
	}, nil)
	sink := &recordingSink{}
	svc := NewService(repo, conflict.NewResolver(avail), WithPractitioners(dir), WithNotifier(sink))
	return fixture{svc: svc, repo: repo, avail: avail, sink: sink}
}

var parent = domain.Actor{ID: "parent-1", Role: domain.RoleParent, PatientIDs: []string{"C1"}}

func booking(patientID string, sh, sm, eh, em int) BookInput {
	return BookInput{
		Actor:          parent,
		PatientID:      patientID,
		PractitionerID: "P1",
		ServiceType:    "Speech Therapy",
		Date:           tuesday,
		StartTime:      domain.MustClock(sh, sm),
		EndTime:        domain.MustClock(eh, em),
	}
}

func TestServiceBook_ValidationErrorType(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   func(in *BookInput)
		msg  string
	}{
		{name: "missing patient", in: func(in *BookInput) { in.PatientID = "" }, msg: "patient_id is required"},
		{name: "missing practitioner", in: func(in *BookInput) { in.PractitionerID = " " }, msg: "practitioner_id is required"},
		{name: "zero length", in: func(in *BookInput) { in.EndTime = in.StartTime }, msg: "end_time must be after start_time"},
		{name: "reversed", in: func(in *BookInput) { in.StartTime, in.EndTime = in.EndTime, in.StartTime }, msg: "end_time must be after start_time"},
		{name: "missing date", in: func(in *BookInput) { in.Date = time.Time{} }, msg: "date is required"},
		{name: "receptionist", in: func(in *BookInput) { in.PractitionerID = "R1" }, msg: "practitioner does not take appointments"},
	}
	for _, tt := range tests {
		in := booking("C1", 9, 0, 9, 45)
		tt.in(&in)
		_, err := f.svc.Book(context.Background(), in)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("%s: error type = %T (%v), want *ValidationError", tt.name, err, err)
		}
		if vErr.Error() != tt.msg {
			t.Fatalf("%s: error = %q, want %q", tt.name, vErr.Error(), tt.msg)
		}
	}

	in := booking("C1", 9, 0, 9, 45)
	in.ServiceType = "Astrology"
	var vErr *ValidationError
	if _, err := f.svc.Book(context.Background(), in); !errors.As(err, &vErr) {
		t.Fatalf("unknown service type error = %v, want *ValidationError", err)
	}
}

func TestServiceBook_UnknownPractitionerIsNotFound(t *testing.T) {
	f := newFixture(t)
	in := booking("C1", 9, 0, 9, 45)
	in.PractitionerID = "ghost"
	if _, err := f.svc.Book(context.Background(), in); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestServiceScenario_DoubleBookingAndLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Book(ctx, booking("C1", 9, 0, 9, 45))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if first.Status != domain.StatusPending {
		t.Fatalf("status = %s, want %s", first.Status, domain.StatusPending)
	}

	_, err = f.svc.Book(ctx, booking("C2", 9, 30, 10, 0))
	if !errors.Is(err, conflict.ErrDoubleBooked) {
		t.Fatalf("second booking err = %v, want %v", err, conflict.ErrDoubleBooked)
	}
	var cErr *conflict.Error
	if !errors.As(err, &cErr) || cErr.ConflictingID != first.ID {
		t.Fatalf("conflict = %+v, want reference to %s", cErr, first.ID)
	}

	_, err = f.svc.SetStatus(ctx, first.ID, domain.StatusCompleted, domain.RolePractitioner)
	var tErr *InvalidTransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("pending -> completed err = %v, want *InvalidTransitionError", err)
	}
	if tErr.From != domain.StatusPending || tErr.To != domain.StatusCompleted {
		t.Fatalf("transition error = %+v", tErr)
	}

	confirmed, err := f.svc.SetStatus(ctx, first.ID, domain.StatusConfirmed, domain.RolePractitioner)
	if err != nil {
		t.Fatalf("confirm error: %v", err)
	}
	if confirmed.Status != domain.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", confirmed.Status)
	}
	completed, err := f.svc.SetStatus(ctx, first.ID, domain.StatusCompleted, domain.RolePractitioner)
	if err != nil {
		t.Fatalf("complete error: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", completed.Status)
	}

	if got := f.sink.count(); got != 3 {
		t.Fatalf("events = %d, want 3 (book, confirm, complete)", got)
	}
	last := f.sink.events[2]
	if last.OldStatus != domain.StatusConfirmed || last.NewStatus != domain.StatusCompleted || last.ActorRole != domain.RolePractitioner {
		t.Fatalf("last event = %+v", last)
	}
}

func TestServiceBook_StaffBookingsStartConfirmed(t *testing.T) {
	f := newFixture(t)
	for i, role := range []domain.Role{domain.RoleAdmin, domain.RoleSuperAdmin, domain.RolePractitioner} {
		in := booking("C1", 9+i, 0, 9+i, 30)
		in.Actor = domain.Actor{ID: "staff", Role: role}
		a, err := f.svc.Book(context.Background(), in)
		if err != nil {
			t.Fatalf("%s Book error: %v", role, err)
		}
		if a.Status != domain.StatusConfirmed {
			t.Fatalf("%s booking status = %s, want confirmed", role, a.Status)
		}
	}
}

func TestServiceBook_BackToBackAndBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, booking("C1", 9, 0, 10, 0)); err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if _, err := f.svc.Book(ctx, booking("C2", 10, 0, 11, 0)); err != nil {
		t.Fatalf("back to back Book error: %v", err)
	}
	if _, err := f.svc.Book(ctx, booking("C3", 10, 59, 11, 30)); !errors.Is(err, conflict.ErrDoubleBooked) {
		t.Fatalf("boundary err = %v, want %v", err, conflict.ErrDoubleBooked)
	}
}

func TestServiceBook_OutsideAvailabilityCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, booking("C1", 8, 0, 8, 30))
	if !errors.Is(err, conflict.ErrOutsideAvailability) {
		t.Fatalf("err = %v, want %v", err, conflict.ErrOutsideAvailability)
	}

	wed := booking("C1", 9, 0, 9, 30)
	wed.Date = tuesday.AddDate(0, 0, 1)
	if _, err := f.svc.Book(ctx, wed); !errors.Is(err, conflict.ErrOutsideAvailability) {
		t.Fatalf("wednesday err = %v, want %v", err, conflict.ErrOutsideAvailability)
	}

	page, err := f.svc.List(ctx, store.AppointmentFilter{}, 1, 0)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("total = %d, want 0", page.Total)
	}
	if f.sink.count() != 0 {
		t.Fatalf("events = %d, want 0", f.sink.count())
	}
}

func TestServiceBook_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := booking("C1", 9, 0, 9, 45)
	in.IdempotencyKey = "k1"
	first, err := f.svc.Book(ctx, in)
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}
	replay, err := f.svc.Book(ctx, in)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("replay id = %s, want %s", replay.ID, first.ID)
	}
	if f.sink.count() != 1 {
		t.Fatalf("events = %d, want 1", f.sink.count())
	}

	changed := in
	changed.StartTime, changed.EndTime = domain.MustClock(10, 0), domain.MustClock(10, 45)
	if _, err := f.svc.Book(ctx, changed); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("reused key err = %v, want %v", err, store.ErrIdempotencyConflict)
	}

	other := in
	other.Actor = domain.Actor{ID: "parent-2", Role: domain.RoleParent}
	other.StartTime, other.EndTime = domain.MustClock(11, 0), domain.MustClock(11, 30)
	o, err := f.svc.Book(ctx, other)
	if err != nil {
		t.Fatalf("other actor Book error: %v", err)
	}
	if o.ID == first.ID {
		t.Fatalf("keys must be scoped per actor")
	}
}

func TestServiceSetStatus_CancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, booking("C1", 9, 0, 9, 45))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}

	first, err := f.svc.SetStatus(ctx, a.ID, domain.StatusCancelled, domain.RoleParent)
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	second, err := f.svc.SetStatus(ctx, a.ID, domain.StatusCancelled, domain.RoleParent)
	if err != nil {
		t.Fatalf("second cancel error: %v", err)
	}
	if second.Status != domain.StatusCancelled || !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("second cancel changed the record: %+v", second)
	}
	if f.sink.count() != 2 {
		t.Fatalf("events = %d, want 2 (book, cancel)", f.sink.count())
	}

	if _, err := f.svc.Book(ctx, booking("C2", 9, 0, 9, 45)); err != nil {
		t.Fatalf("cancelled slot should be free: %v", err)
	}
}

func TestServiceSetStatus_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, booking("C1", 9, 0, 9, 45))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}

	for _, role := range []domain.Role{domain.RoleParent, domain.RolePatient, "", "janitor"} {
		if _, err := f.svc.SetStatus(ctx, a.ID, domain.StatusConfirmed, role); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("%q confirm err = %v, want %v", role, err, domain.ErrForbidden)
		}
	}

	if _, err := f.svc.SetStatus(ctx, uuid.New(), domain.StatusConfirmed, domain.RoleAdmin); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing err = %v, want %v", err, store.ErrNotFound)
	}

	var vErr *ValidationError
	if _, err := f.svc.SetStatus(ctx, a.ID, "archived", domain.RoleAdmin); !errors.As(err, &vErr) {
		t.Fatalf("unknown status err = %v, want *ValidationError", err)
	}

	var tErr *InvalidTransitionError
	confirmed, err := f.svc.SetStatus(ctx, a.ID, domain.StatusConfirmed, domain.RoleAdmin)
	if err != nil {
		t.Fatalf("confirm error: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, confirmed.ID, domain.StatusRescheduled, domain.RoleAdmin); !errors.As(err, &tErr) {
		t.Fatalf("direct reschedule err = %v, want *InvalidTransitionError", err)
	}
}

func TestServiceReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, booking("C1", 9, 0, 9, 45))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}

	_, err = f.svc.Reschedule(ctx, RescheduleInput{ID: a.ID, Date: tuesday, StartTime: domain.MustClock(10, 0), EndTime: domain.MustClock(10, 45), ActorRole: domain.RoleAdmin})
	var tErr *InvalidTransitionError
	if !errors.As(err, &tErr) || tErr.From != domain.StatusPending {
		t.Fatalf("pending reschedule err = %v, want *InvalidTransitionError from pending", err)
	}

	if _, err := f.svc.SetStatus(ctx, a.ID, domain.StatusConfirmed, domain.RoleAdmin); err != nil {
		t.Fatalf("confirm error: %v", err)
	}

	// Overlapping its own current slot is allowed.
	next, err := f.svc.Reschedule(ctx, RescheduleInput{ID: a.ID, Date: tuesday, StartTime: domain.MustClock(9, 30), EndTime: domain.MustClock(10, 15), ActorRole: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}
	if next.Status != domain.StatusPending || next.RescheduledFromID == nil || *next.RescheduledFromID != a.ID {
		t.Fatalf("successor = %+v, want pending linked to %s", next, a.ID)
	}
	old, err := f.svc.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if old.Status != domain.StatusRescheduled || old.RescheduledToID == nil || *old.RescheduledToID != next.ID {
		t.Fatalf("original = %+v, want rescheduled linked to %s", old, next.ID)
	}

	if _, err := f.svc.Book(ctx, booking("C2", 9, 0, 9, 30)); err != nil {
		t.Fatalf("released slot should be bookable: %v", err)
	}
}

func TestServiceReschedule_ConflictChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, booking("C1", 9, 0, 9, 45))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}
	blocker, err := f.svc.Book(ctx, booking("C2", 11, 0, 12, 0))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, a.ID, domain.StatusConfirmed, domain.RoleAdmin); err != nil {
		t.Fatalf("confirm error: %v", err)
	}
	before := f.sink.count()

	_, err = f.svc.Reschedule(ctx, RescheduleInput{ID: a.ID, Date: tuesday, StartTime: domain.MustClock(11, 30), EndTime: domain.MustClock(12, 0), ActorRole: domain.RoleAdmin})
	var cErr *conflict.Error
	if !errors.As(err, &cErr) || cErr.ConflictingID != blocker.ID {
		t.Fatalf("err = %v, want double booking against %s", err, blocker.ID)
	}

	_, err = f.svc.Reschedule(ctx, RescheduleInput{ID: a.ID, Date: tuesday.AddDate(0, 0, 1), StartTime: domain.MustClock(9, 0), EndTime: domain.MustClock(9, 45), ActorRole: domain.RoleAdmin})
	if !errors.Is(err, conflict.ErrOutsideAvailability) {
		t.Fatalf("err = %v, want %v", err, conflict.ErrOutsideAvailability)
	}

	got, _ := f.svc.Get(ctx, a.ID)
	if got.Status != domain.StatusConfirmed || got.RescheduledToID != nil {
		t.Fatalf("original changed after failed reschedule: %+v", got)
	}
	page, _ := f.svc.List(ctx, store.AppointmentFilter{}, 1, 100)
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	if f.sink.count() != before {
		t.Fatalf("events emitted on failed reschedule")
	}
}

func TestServiceReschedule_ToAnotherDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	nextWeek := tuesday.AddDate(0, 0, 7)

	in := booking("C1", 9, 0, 9, 45)
	in.Actor = domain.Actor{ID: "admin", Role: domain.RoleAdmin}
	a, err := f.svc.Book(ctx, in)
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}
	next, err := f.svc.Reschedule(ctx, RescheduleInput{ID: a.ID, Date: nextWeek, StartTime: domain.MustClock(9, 0), EndTime: domain.MustClock(9, 45), ActorRole: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}
	if !next.Date.Equal(nextWeek) {
		t.Fatalf("successor date = %s, want %s", domain.FormatDate(next.Date), domain.FormatDate(nextWeek))
	}

	// Chains are allowed once the successor is confirmed.
	if _, err := f.svc.SetStatus(ctx, next.ID, domain.StatusConfirmed, domain.RoleAdmin); err != nil {
		t.Fatalf("confirm error: %v", err)
	}
	third, err := f.svc.Reschedule(ctx, RescheduleInput{ID: next.ID, Date: tuesday, StartTime: domain.MustClock(9, 0), EndTime: domain.MustClock(9, 45), ActorRole: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("second Reschedule error: %v", err)
	}
	if third.RescheduledFromID == nil || *third.RescheduledFromID != next.ID {
		t.Fatalf("third = %+v, want link to %s", third, next.ID)
	}
}

func TestServiceDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, booking("C1", 9, 0, 9, 45))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}

	for _, role := range []domain.Role{domain.RolePractitioner, domain.RoleParent} {
		if err := f.svc.Delete(ctx, a.ID, role); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("%s delete err = %v, want %v", role, err, domain.ErrForbidden)
		}
	}
	if err := f.svc.Delete(ctx, a.ID, domain.RoleSuperAdmin); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := f.svc.Get(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after delete err = %v, want %v", err, store.ErrNotFound)
	}
	if err := f.svc.Delete(ctx, a.ID, domain.RoleAdmin); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestServiceList_PageDefaults(t *testing.T) {
	var gotLimit, gotOffset int
	svc := NewService(&fakeRepo{
		listFn: func(ctx context.Context, filter store.AppointmentFilter, limit, offset int) ([]domain.Appointment, int, error) {
			gotLimit, gotOffset = limit, offset
			return nil, 250, nil
		},
	}, nil)

	page, err := svc.List(context.Background(), store.AppointmentFilter{}, 0, 0)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if gotLimit != DefaultPageSize || gotOffset != 0 || page.Page != 1 {
		t.Fatalf("limit/offset/page = %d/%d/%d, want %d/0/1", gotLimit, gotOffset, page.Page, DefaultPageSize)
	}
	if !page.HasMore() {
		t.Fatalf("expected more pages")
	}

	page, _ = svc.List(context.Background(), store.AppointmentFilter{}, 3, 1000)
	if gotLimit != MaxPageSize || gotOffset != 200 {
		t.Fatalf("limit/offset = %d/%d, want %d/200", gotLimit, gotOffset, MaxPageSize)
	}
	if page.HasMore() {
		t.Fatalf("page 3 of 250 at 100 should be the last")
	}

	from, to := tuesday, tuesday.AddDate(0, 0, -1)
	var vErr *ValidationError
	if _, err := svc.List(context.Background(), store.AppointmentFilter{From: &from, To: &to}, 1, 10); !errors.As(err, &vErr) {
		t.Fatalf("reversed range err = %v, want *ValidationError", err)
	}
}

func TestServiceList_RejectsPageBeyondOffsetRange(t *testing.T) {
	svc := NewService(&fakeRepo{
		listFn: func(ctx context.Context, filter store.AppointmentFilter, limit, offset int) ([]domain.Appointment, int, error) {
			if offset < 0 {
				t.Fatalf("repository received negative offset %d", offset)
			}
			return nil, 0, nil
		},
	}, nil)

	var vErr *ValidationError
	for _, size := range []int{0, 1, MaxPageSize} {
		if _, err := svc.List(context.Background(), store.AppointmentFilter{}, math.MaxInt, size); !errors.As(err, &vErr) {
			t.Fatalf("page MaxInt size %d err = %v, want *ValidationError", size, err)
		}
	}

	last := math.MaxInt / MaxPageSize
	if _, err := svc.List(context.Background(), store.AppointmentFilter{}, last, MaxPageSize); err != nil {
		t.Fatalf("page %d error: %v", last, err)
	}
}

func TestServiceList_SortedByDateAndStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, in := range []BookInput{booking("C1", 11, 0, 11, 30), booking("C1", 9, 0, 9, 30), booking("C1", 10, 0, 10, 30)} {
		if _, err := f.svc.Book(ctx, in); err != nil {
			t.Fatalf("Book error: %v", err)
		}
	}
	page, err := f.svc.List(ctx, store.AppointmentFilter{PractitionerID: "P1"}, 1, 2)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 {
		t.Fatalf("items = %d total = %d, want 2 and 3", len(page.Items), page.Total)
	}
	if page.Items[0].StartTime != domain.MustClock(9, 0) || page.Items[1].StartTime != domain.MustClock(10, 0) {
		t.Fatalf("order = %s, %s", page.Items[0].StartTime, page.Items[1].StartTime)
	}
}

func TestServiceBook_NotificationFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("broker down")
	if _, err := f.svc.Book(context.Background(), booking("C1", 9, 0, 9, 45)); err != nil {
		t.Fatalf("Book error: %v", err)
	}
}

func TestServiceBook_ConcurrentRequestsForOneSlot(t *testing.T) {
	f := newFixture(t)
	const workers = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), booking("C1", 9, 0, 10, 0))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, conflict.ErrDoubleBooked):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successful bookings = %d, want 1", ok)
	}
}

func TestServiceFreeSlotsAndPractitioners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, booking("C1", 9, 0, 10, 0)); err != nil {
		t.Fatalf("Book error: %v", err)
	}

	slots, err := f.svc.FreeSlots(ctx, "P1", tuesday, time.Hour)
	if err != nil {
		t.Fatalf("FreeSlots error: %v", err)
	}
	if len(slots) != 5 || slots[0].Start != domain.MustClock(10, 0) {
		t.Fatalf("slots = %v, want 5 starting at 10:00", slots)
	}

	var vErr *ValidationError
	if _, err := f.svc.FreeSlots(ctx, "P1", tuesday, 0); !errors.As(err, &vErr) {
		t.Fatalf("zero duration err = %v, want *ValidationError", err)
	}

	list, err := f.svc.Practitioners(ctx)
	if err != nil {
		t.Fatalf("Practitioners error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("bookable practitioners = %d, want 2", len(list))
	}
}
