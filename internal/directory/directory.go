// Package directory looks up patients and practitioners owned by other parts
// of the clinic system. The scheduling core only reads from it.
package directory

import (
	"context"
	"errors"
	"sort"
)

var ErrNotFound = errors.New("directory entry not found")

type PractitionerRole string

const (
	RoleDoctor       PractitionerRole = "doctor"
	RoleTherapist    PractitionerRole = "therapist"
	RoleReceptionist PractitionerRole = "receptionist"
)

type Practitioner struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Role      PractitionerRole `json:"role"`
	Specialty string           `json:"specialty,omitempty"`
}

// Bookable reports whether appointments can be made with p.
func (p Practitioner) Bookable() bool {
	return p.Role == RoleDoctor || p.Role == RoleTherapist
}

type Patient struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ChildRegNo string `json:"childRegNo,omitempty"`
}

type Practitioners interface {
	Practitioner(ctx context.Context, id string) (Practitioner, error)
	ListPractitioners(ctx context.Context) ([]Practitioner, error)
}

type Patients interface {
	Patient(ctx context.Context, id string) (Patient, error)
}

// Static is a fixed in-memory directory.
type Static struct {
	practitioners map[string]Practitioner
	patients      map[string]Patient
}

func NewStatic(practitioners []Practitioner, patients []Patient) *Static {
	s := &Static{
		practitioners: make(map[string]Practitioner, len(practitioners)),
		patients:      make(map[string]Patient, len(patients)),
	}
	for _, p := range practitioners {
		s.practitioners[p.ID] = p
	}
	for _, p := range patients {
		s.patients[p.ID] = p
	}
	return s
}

func (s *Static) Practitioner(ctx context.Context, id string) (Practitioner, error) {
	p, ok := s.practitioners[id]
	if !ok {
		return Practitioner{}, ErrNotFound
	}
	return p, nil
}

func (s *Static) ListPractitioners(ctx context.Context) ([]Practitioner, error) {
	out := make([]Practitioner, 0, len(s.practitioners))
	for _, p := range s.practitioners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Static) Patient(ctx context.Context, id string) (Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return p, nil
}
