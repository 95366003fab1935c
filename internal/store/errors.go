package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
)

// OverlapError rejects an availability window that collides with an
// existing one for the same practitioner.
type OverlapError struct {
	ExistingID uuid.UUID
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("window overlaps existing window %s", e.ExistingID)
}

func (e *OverlapError) Is(target error) bool {
	return target == ErrConflict
}
