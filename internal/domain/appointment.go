package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusRescheduled},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Active reports whether an appointment in this status holds its slot.
// Rescheduled appointments have handed the slot over to their successor.
func (s Status) Active() bool {
	return s != StatusCancelled && s != StatusRescheduled
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ServiceType string

const (
	ServiceSpeechTherapy       ServiceType = "Speech Therapy"
	ServiceOccupationalTherapy ServiceType = "Occupational Therapy"
	ServicePhysiotherapy       ServiceType = "Physiotherapy"
	ServiceBehaviouralTherapy  ServiceType = "Behavioural Therapy"
	ServiceDevelopmentalReview ServiceType = "Developmental Assessment"
	ServiceConsultation        ServiceType = "Consultation"
)

var serviceTypes = []ServiceType{
	ServiceSpeechTherapy,
	ServiceOccupationalTherapy,
	ServicePhysiotherapy,
	ServiceBehaviouralTherapy,
	ServiceDevelopmentalReview,
	ServiceConsultation,
}

// ParseServiceType matches s against the known service types, ignoring case
// and surrounding whitespace.
func ParseServiceType(s string) (ServiceType, error) {
	s = strings.TrimSpace(s)
	for _, st := range serviceTypes {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown service type %q", s)
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                uuid.UUID   `bun:"id,pk,type:uuid"`
	PatientID         string      `bun:"patient_id,notnull"`
	PractitionerID    string      `bun:"practitioner_id,notnull"`
	ServiceType       ServiceType `bun:"service_type,notnull"`
	Date              time.Time   `bun:"appointment_date,type:date,notnull"`
	StartTime         Clock       `bun:"start_minute,notnull"`
	EndTime           Clock       `bun:"end_minute,notnull"`
	Status            Status      `bun:"status,notnull"`
	Notes             string      `bun:"notes,notnull"`
	RescheduledFromID *uuid.UUID  `bun:"rescheduled_from_id,type:uuid"`
	RescheduledToID   *uuid.UUID  `bun:"rescheduled_to_id,type:uuid"`
	CreatedAt         time.Time   `bun:"created_at,notnull"`
	UpdatedAt         time.Time   `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// Occupies reports whether a holds any part of [iv) on date for its practitioner.
func (a Appointment) Occupies(date time.Time, iv Interval) bool {
	return a.Status.Active() && SameDate(a.Date, date) && a.Interval().Overlaps(iv)
}
