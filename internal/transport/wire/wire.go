// Package wire holds the JSON shapes shared by the HTTP and gRPC surfaces.
// Dates travel as YYYY-MM-DD and times of day as HH:MM.
package wire

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/service/appointments"
	"mathavam/backend/internal/service/availability"
	"mathavam/backend/internal/store"
)

// FieldError reports a request field that could not be parsed.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Msg
}

func fieldError(field, msg string) error {
	return &FieldError{Field: field, Msg: msg}
}

type Appointment struct {
	ID                string       `json:"id"`
	PatientID         string       `json:"patientId"`
	PatientName       string       `json:"patientName,omitempty"`
	PractitionerID    string       `json:"practitionerId"`
	ServiceType       string       `json:"serviceType"`
	Date              string       `json:"date"`
	StartTime         domain.Clock `json:"startTime"`
	EndTime           domain.Clock `json:"endTime"`
	Status            string       `json:"status"`
	Notes             string       `json:"notes,omitempty"`
	RescheduledFromID string       `json:"rescheduledFromId,omitempty"`
	RescheduledToID   string       `json:"rescheduledToId,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

func FromAppointment(a domain.Appointment) Appointment {
	out := Appointment{
		ID:             a.ID.String(),
		PatientID:      a.PatientID,
		PractitionerID: a.PractitionerID,
		ServiceType:    string(a.ServiceType),
		Date:           domain.FormatDate(a.Date),
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Status:         string(a.Status),
		Notes:          a.Notes,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if a.RescheduledFromID != nil {
		out.RescheduledFromID = a.RescheduledFromID.String()
	}
	if a.RescheduledToID != nil {
		out.RescheduledToID = a.RescheduledToID.String()
	}
	return out
}

type BookRequest struct {
	PatientID      string `json:"patientId"`
	PractitionerID string `json:"practitionerId"`
	ServiceType    string `json:"serviceType"`
	Date           string `json:"date"`
	StartTime      string `json:"startTime"`
	EndTime        string `json:"endTime"`
	Notes          string `json:"notes,omitempty"`
}

// Input converts r. The actor is filled in by the policy guard.
func (r BookRequest) Input(idempotencyKey string) (appointments.BookInput, error) {
	date, start, end, err := parseSlot(r.Date, r.StartTime, r.EndTime)
	if err != nil {
		return appointments.BookInput{}, err
	}
	return appointments.BookInput{
		PatientID:      r.PatientID,
		PractitionerID: r.PractitionerID,
		ServiceType:    r.ServiceType,
		Date:           date,
		StartTime:      start,
		EndTime:        end,
		Notes:          r.Notes,
		IdempotencyKey: idempotencyKey,
	}, nil
}

type StatusRequest struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}

func (r StatusRequest) Parse() (domain.Status, error) {
	st, err := domain.ParseStatus(r.Status)
	if err != nil {
		return "", fieldError("status", "must be one of pending, confirmed, completed, cancelled")
	}
	return st, nil
}

type RescheduleRequest struct {
	ID        string `json:"id,omitempty"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (r RescheduleRequest) Input(id uuid.UUID) (appointments.RescheduleInput, error) {
	date, start, end, err := parseSlot(r.Date, r.StartTime, r.EndTime)
	if err != nil {
		return appointments.RescheduleInput{}, err
	}
	return appointments.RescheduleInput{ID: id, Date: date, StartTime: start, EndTime: end}, nil
}

func parseSlot(date, start, end string) (time.Time, domain.Clock, domain.Clock, error) {
	d, err := domain.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, 0, 0, fieldError("date", "must be YYYY-MM-DD")
	}
	s, err := domain.ParseClock(strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, 0, 0, fieldError("startTime", "must be HH:MM")
	}
	e, err := domain.ParseClock(strings.TrimSpace(end))
	if err != nil {
		return time.Time{}, 0, 0, fieldError("endTime", "must be HH:MM")
	}
	return d, s, e, nil
}

// ParseID parses an appointment or window id.
func ParseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fieldError(field, "must be a UUID")
	}
	return id, nil
}

type ListQuery struct {
	PractitionerID string `json:"practitionerId,omitempty" query:"practitionerId"`
	PatientID      string `json:"patientId,omitempty" query:"patientId"`
	Status         string `json:"status,omitempty" query:"status"`
	Date           string `json:"date,omitempty" query:"date"`
	From           string `json:"from,omitempty" query:"from"`
	To             string `json:"to,omitempty" query:"to"`
	Page           int    `json:"page,omitempty" query:"page"`
	PageSize       int    `json:"pageSize,omitempty" query:"pageSize"`
}

// Filter converts q. A single date sets both ends of the range.
func (q ListQuery) Filter() (store.AppointmentFilter, error) {
	f := store.AppointmentFilter{PractitionerID: strings.TrimSpace(q.PractitionerID)}
	if id := strings.TrimSpace(q.PatientID); id != "" {
		f.PatientIDs = []string{id}
	}
	if s := strings.TrimSpace(q.Status); s != "" {
		st, err := domain.ParseStatus(s)
		if err != nil {
			return store.AppointmentFilter{}, fieldError("status", "is not a known status")
		}
		f.Status = st
	}

	from, to := q.From, q.To
	if d := strings.TrimSpace(q.Date); d != "" {
		from, to = d, d
	}
	var err error
	if f.From, err = optionalDate("from", from); err != nil {
		return store.AppointmentFilter{}, err
	}
	if f.To, err = optionalDate("to", to); err != nil {
		return store.AppointmentFilter{}, err
	}
	return f, nil
}

func optionalDate(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return nil, fieldError(field, "must be YYYY-MM-DD")
	}
	return &d, nil
}

type Page struct {
	Data     []Appointment `json:"data"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	HasMore  bool          `json:"hasMore"`
}

func FromPage(p appointments.Page) Page {
	data := make([]Appointment, 0, len(p.Items))
	for _, a := range p.Items {
		data = append(data, FromAppointment(a))
	}
	return Page{Data: data, Total: p.Total, Page: p.Page, PageSize: p.PageSize, HasMore: p.HasMore()}
}

type Window struct {
	ID             string       `json:"id"`
	PractitionerID string       `json:"practitionerId"`
	Kind           string       `json:"kind"`
	DayOfWeek      *int         `json:"dayOfWeek,omitempty"`
	Date           string       `json:"date,omitempty"`
	StartTime      domain.Clock `json:"startTime"`
	EndTime        domain.Clock `json:"endTime"`
}

func FromWindow(w domain.AvailabilityWindow) Window {
	out := Window{
		ID:             w.ID.String(),
		PractitionerID: w.PractitionerID,
		Kind:           string(w.Kind),
		StartTime:      w.StartTime,
		EndTime:        w.EndTime,
	}
	if w.DayOfWeek != nil {
		d := int(*w.DayOfWeek)
		out.DayOfWeek = &d
	}
	if w.Date != nil {
		out.Date = domain.FormatDate(*w.Date)
	}
	return out
}

func FromWindows(ws []domain.AvailabilityWindow) []Window {
	out := make([]Window, 0, len(ws))
	for _, w := range ws {
		out = append(out, FromWindow(w))
	}
	return out
}

type WindowRequest struct {
	ID        string `json:"id,omitempty"`
	Kind      string `json:"kind"`
	DayOfWeek *int   `json:"dayOfWeek,omitempty"`
	Date      string `json:"date,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// Input converts r. Closed days need no times.
func (r WindowRequest) Input(practitionerID string) (availability.SetWindowInput, error) {
	in := availability.SetWindowInput{PractitionerID: practitionerID, Kind: r.Kind}
	if strings.TrimSpace(r.ID) != "" {
		id, err := ParseID("id", r.ID)
		if err != nil {
			return availability.SetWindowInput{}, err
		}
		in.ID = id
	}
	if r.DayOfWeek != nil {
		if *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
			return availability.SetWindowInput{}, fieldError("dayOfWeek", "must be between 0 (Sunday) and 6")
		}
		d := time.Weekday(*r.DayOfWeek)
		in.DayOfWeek = &d
	}
	var err error
	if in.Date, err = optionalDate("date", r.Date); err != nil {
		return availability.SetWindowInput{}, err
	}
	if strings.EqualFold(strings.TrimSpace(r.Kind), string(domain.WindowClosed)) {
		return in, nil
	}
	if in.StartTime, err = domain.ParseClock(strings.TrimSpace(r.StartTime)); err != nil {
		return availability.SetWindowInput{}, fieldError("startTime", "must be HH:MM")
	}
	if in.EndTime, err = domain.ParseClock(strings.TrimSpace(r.EndTime)); err != nil {
		return availability.SetWindowInput{}, fieldError("endTime", "must be HH:MM")
	}
	return in, nil
}

type Slot struct {
	StartTime domain.Clock `json:"startTime"`
	EndTime   domain.Clock `json:"endTime"`
}

func FromSlots(slots []domain.Interval) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, Slot{StartTime: s.Start, EndTime: s.End})
	}
	return out
}

// ParseDuration accepts Go durations ("45m") or a bare number of minutes.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fieldError("duration", "is required")
	}
	if minutes, err := strconv.Atoi(s); err == nil {
		return time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fieldError("duration", "must be minutes or a duration like 45m")
	}
	return d, nil
}
