package policy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/directory"
	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/service/appointments"
	"mathavam/backend/internal/service/availability"
	"mathavam/backend/internal/store"
)

// Guard fronts the scheduling services. Every method authorizes the actor
// before the call reaches a service.
type Guard struct {
	policy       *Enforcer
	appointments *appointments.Service
	availability *availability.Service
}

func NewGuard(p *Enforcer, appts *appointments.Service, avail *availability.Service) *Guard {
	return &Guard{policy: p, appointments: appts, availability: avail}
}

func appointmentTarget(a domain.Appointment) *Target {
	return &Target{PractitionerID: a.PractitionerID, PatientID: a.PatientID}
}

// statusAction maps a requested status to the action it needs. Statuses no
// caller may set directly authorize as a cancel, so an owner gets the
// service's invalid transition error instead of forbidden.
func statusAction(s domain.Status) Action {
	switch s {
	case domain.StatusConfirmed:
		return ActionConfirm
	case domain.StatusCompleted:
		return ActionComplete
	}
	return ActionCancel
}

// hidden keeps non-admins from telling a missing record apart from one they
// may not touch.
func hidden(actor domain.Actor, err error) error {
	if errors.Is(err, store.ErrNotFound) && !actor.Role.IsAdmin() {
		return ErrForbidden
	}
	return err
}

func (g *Guard) Book(ctx context.Context, actor domain.Actor, in appointments.BookInput) (domain.Appointment, error) {
	target := &Target{PractitionerID: in.PractitionerID, PatientID: in.PatientID}
	if err := g.policy.Authorize(ctx, actor, ResourceAppointment, ActionBook, target); err != nil {
		return domain.Appointment{}, err
	}
	in.Actor = actor
	return g.appointments.Book(ctx, in)
}

func (g *Guard) SetStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, next domain.Status) (domain.Appointment, error) {
	current, err := g.appointments.Get(ctx, id)
	if err != nil {
		return domain.Appointment{}, hidden(actor, err)
	}
	if err := g.policy.Authorize(ctx, actor, ResourceAppointment, statusAction(next), appointmentTarget(current)); err != nil {
		return domain.Appointment{}, err
	}
	return g.appointments.SetStatus(ctx, id, next, actor.Role)
}

func (g *Guard) Reschedule(ctx context.Context, actor domain.Actor, in appointments.RescheduleInput) (domain.Appointment, error) {
	current, err := g.appointments.Get(ctx, in.ID)
	if err != nil {
		return domain.Appointment{}, hidden(actor, err)
	}
	if err := g.policy.Authorize(ctx, actor, ResourceAppointment, ActionReschedule, appointmentTarget(current)); err != nil {
		return domain.Appointment{}, err
	}
	in.ActorRole = actor.Role
	return g.appointments.Reschedule(ctx, in)
}

func (g *Guard) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Appointment, error) {
	a, err := g.appointments.Get(ctx, id)
	if err != nil {
		return domain.Appointment{}, hidden(actor, err)
	}
	if err := g.policy.Authorize(ctx, actor, ResourceAppointment, ActionRead, appointmentTarget(a)); err != nil {
		return domain.Appointment{}, err
	}
	return a, nil
}

func (g *Guard) Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	a, err := g.appointments.Get(ctx, id)
	if err != nil {
		return hidden(actor, err)
	}
	if err := g.policy.Authorize(ctx, actor, ResourceAppointment, ActionDelete, appointmentTarget(a)); err != nil {
		return err
	}
	return g.appointments.Delete(ctx, id, actor.Role)
}

// List narrows filter to what actor may see. Practitioners only see their
// own calendar; parents and patients only their linked patients.
func (g *Guard) List(ctx context.Context, actor domain.Actor, filter store.AppointmentFilter, page, pageSize int) (appointments.Page, error) {
	if !g.policy.Allowed(actor, ResourceAppointment, ActionList) {
		narrowed, err := g.narrow(ctx, actor, filter)
		if err != nil {
			return appointments.Page{}, err
		}
		filter = narrowed
	}
	return g.appointments.List(ctx, filter, page, pageSize)
}

func (g *Guard) narrow(ctx context.Context, actor domain.Actor, filter store.AppointmentFilter) (store.AppointmentFilter, error) {
	switch actor.Role {
	case domain.RolePractitioner:
		if filter.PractitionerID != "" && filter.PractitionerID != actor.ID {
			return filter, g.policy.Authorize(ctx, actor, ResourceAppointment, ActionList, &Target{PractitionerID: filter.PractitionerID})
		}
		filter.PractitionerID = actor.ID
		return filter, g.policy.Authorize(ctx, actor, ResourceAppointment, ActionList, &Target{PractitionerID: actor.ID})

	case domain.RoleParent, domain.RolePatient:
		if err := g.policy.Authorize(ctx, actor, ResourceAppointment, ActionList, &Target{PatientID: firstPatient(actor)}); err != nil {
			return filter, err
		}
		allowed := make([]string, 0, len(actor.PatientIDs))
		if filter.PatientIDs == nil {
			allowed = append(allowed, actor.PatientIDs...)
		} else {
			for _, id := range filter.PatientIDs {
				if actor.HasPatient(id) {
					allowed = append(allowed, id)
				}
			}
		}
		filter.PatientIDs = allowed
		return filter, nil
	}
	return filter, g.policy.Authorize(ctx, actor, ResourceAppointment, ActionList, nil)
}

func firstPatient(a domain.Actor) string {
	if len(a.PatientIDs) == 0 {
		return ""
	}
	return a.PatientIDs[0]
}

func (g *Guard) FreeSlots(ctx context.Context, actor domain.Actor, practitionerID string, date time.Time, length time.Duration) ([]domain.Interval, error) {
	if err := g.policy.Authorize(ctx, actor, ResourceAvailability, ActionRead, &Target{PractitionerID: practitionerID}); err != nil {
		return nil, err
	}
	return g.appointments.FreeSlots(ctx, practitionerID, date, length)
}

func (g *Guard) Practitioners(ctx context.Context, actor domain.Actor) ([]directory.Practitioner, error) {
	if err := g.policy.Authorize(ctx, actor, ResourceDirectory, ActionList, nil); err != nil {
		return nil, err
	}
	return g.appointments.Practitioners(ctx)
}

func (g *Guard) Windows(ctx context.Context, actor domain.Actor, practitionerID string, date time.Time) ([]domain.AvailabilityWindow, error) {
	if err := g.policy.Authorize(ctx, actor, ResourceAvailability, ActionRead, &Target{PractitionerID: practitionerID}); err != nil {
		return nil, err
	}
	return g.availability.Windows(ctx, practitionerID, date)
}

func (g *Guard) ListWindows(ctx context.Context, actor domain.Actor, practitionerID string) ([]domain.AvailabilityWindow, error) {
	if err := g.policy.Authorize(ctx, actor, ResourceAvailability, ActionRead, &Target{PractitionerID: practitionerID}); err != nil {
		return nil, err
	}
	return g.availability.ListWindows(ctx, practitionerID)
}

func (g *Guard) SetWindow(ctx context.Context, actor domain.Actor, in availability.SetWindowInput) (domain.AvailabilityWindow, error) {
	if err := g.policy.Authorize(ctx, actor, ResourceAvailability, ActionManage, &Target{PractitionerID: in.PractitionerID}); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return g.availability.SetWindow(ctx, in)
}

func (g *Guard) RemoveWindow(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	w, err := g.availability.GetWindow(ctx, id)
	if err != nil {
		return hidden(actor, err)
	}
	if err := g.policy.Authorize(ctx, actor, ResourceAvailability, ActionManage, &Target{PractitionerID: w.PractitionerID}); err != nil {
		return err
	}
	return g.availability.RemoveWindow(ctx, id)
}
