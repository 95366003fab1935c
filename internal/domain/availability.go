package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WindowKind string

const (
	// WindowWeekly repeats every week on DayOfWeek.
	WindowWeekly WindowKind = "weekly"
	// WindowOverride replaces the weekly windows on Date.
	WindowOverride WindowKind = "override"
	// WindowClosed blocks the whole of Date.
	WindowClosed WindowKind = "closed"
)

func ParseWindowKind(s string) (WindowKind, error) {
	switch k := WindowKind(s); k {
	case WindowWeekly, WindowOverride, WindowClosed:
		return k, nil
	case "":
		return WindowWeekly, nil
	}
	return "", fmt.Errorf("unknown window kind %q", s)
}

// Exception reports whether the kind is tied to a single date.
func (k WindowKind) Exception() bool {
	return k == WindowOverride || k == WindowClosed
}

type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability_windows"`

	ID             uuid.UUID     `bun:"id,pk,type:uuid"`
	PractitionerID string        `bun:"practitioner_id,notnull"`
	Kind           WindowKind    `bun:"kind,notnull"`
	DayOfWeek      *time.Weekday `bun:"day_of_week"`
	Date           *time.Time    `bun:"window_date,type:date"`
	StartTime      Clock         `bun:"start_minute,notnull"`
	EndTime        Clock         `bun:"end_minute,notnull"`
	CreatedAt      time.Time     `bun:"created_at,notnull"`
	UpdatedAt      time.Time     `bun:"updated_at,notnull"`
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if w.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			w.ID = id
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		w.UpdatedAt = now
	}
	return nil
}

func (w AvailabilityWindow) Interval() Interval {
	return Interval{Start: w.StartTime, End: w.EndTime}
}

// Validate checks the shape of w. Closed windows are widened to the whole day.
func (w *AvailabilityWindow) Validate() error {
	if w.PractitionerID == "" {
		return errors.New("practitioner_id is required")
	}
	switch w.Kind {
	case WindowWeekly:
		if w.DayOfWeek == nil || *w.DayOfWeek < time.Sunday || *w.DayOfWeek > time.Saturday {
			return errors.New("weekly windows need a day_of_week between 0 and 6")
		}
		w.Date = nil
	case WindowOverride, WindowClosed:
		if w.Date == nil || w.Date.IsZero() {
			return fmt.Errorf("%s windows need a date", w.Kind)
		}
		d := DateOf(*w.Date)
		w.Date = &d
		w.DayOfWeek = nil
	default:
		return fmt.Errorf("unknown window kind %q", w.Kind)
	}
	if w.Kind == WindowClosed {
		w.StartTime, w.EndTime = 0, MinutesPerDay
	}
	if !w.Interval().Valid() {
		return errors.New("end_time must be after start_time")
	}
	return nil
}

// AppliesTo reports whether w is one of the candidate windows for date,
// before exception precedence is applied.
func (w AvailabilityWindow) AppliesTo(date time.Time) bool {
	if w.Kind.Exception() {
		return w.Date != nil && SameDate(*w.Date, date)
	}
	return w.DayOfWeek != nil && *w.DayOfWeek == DateOf(date).Weekday()
}

// ConflictsWith reports whether two windows of the same practitioner cannot
// coexist. Weekly rules only collide with weekly rules on the same weekday and
// exceptions only with exceptions on the same date. A closed day collides
// with any other exception for that date.
func (w AvailabilityWindow) ConflictsWith(o AvailabilityWindow) bool {
	if w.PractitionerID != o.PractitionerID {
		return false
	}
	if w.Kind.Exception() != o.Kind.Exception() {
		return false
	}
	if w.Kind.Exception() {
		if w.Date == nil || o.Date == nil || !SameDate(*w.Date, *o.Date) {
			return false
		}
		if w.Kind == WindowClosed || o.Kind == WindowClosed {
			return true
		}
	} else if w.DayOfWeek == nil || o.DayOfWeek == nil || *w.DayOfWeek != *o.DayOfWeek {
		return false
	}
	return w.Interval().Overlaps(o.Interval())
}

// ResolveWindows returns the windows bookable on date, ordered by start time.
// Any exception for the date replaces the weekly rules, and a closed exception
// leaves nothing.
func ResolveWindows(all []AvailabilityWindow, date time.Time) []AvailabilityWindow {
	var weekly, exceptions []AvailabilityWindow
	for _, w := range all {
		if !w.AppliesTo(date) {
			continue
		}
		if w.Kind.Exception() {
			exceptions = append(exceptions, w)
		} else {
			weekly = append(weekly, w)
		}
	}

	out := weekly
	if len(exceptions) > 0 {
		out = make([]AvailabilityWindow, 0, len(exceptions))
		for _, w := range exceptions {
			if w.Kind == WindowClosed {
				return nil
			}
			out = append(out, w)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].EndTime < out[j].EndTime
	})
	return out
}
