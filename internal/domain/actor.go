package domain

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleAdmin        Role = "admin"
	RolePractitioner Role = "practitioner"
	RoleParent       Role = "parent"
	RolePatient      Role = "patient"
)

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleSuperAdmin, RoleAdmin, RolePractitioner, RoleParent, RolePatient:
		return r, true
	}
	return "", false
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IsStaff reports whether bookings made under r skip the pending stage.
func (r Role) IsStaff() bool {
	return r.IsAdmin() || r == RolePractitioner
}

// Actor is the authenticated caller. For practitioners ID is the
// practitioner id; for parents and patients PatientIDs lists the patient
// records they may act for.
type Actor struct {
	ID         string
	Role       Role
	PatientIDs []string
}

func (a Actor) HasPatient(patientID string) bool {
	if patientID == "" {
		return false
	}
	for _, id := range a.PatientIDs {
		if id == patientID {
			return true
		}
	}
	return false
}

// ErrForbidden is returned when the actor may not perform an operation.
var ErrForbidden = errors.New("forbidden")
