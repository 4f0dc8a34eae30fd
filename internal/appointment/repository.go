package appointment

import (
	"context"

	"github.com/rimaclabs/appointment-pipeline/internal/outbox"
)

// Repository contains all primary-store interactions needed by the use
// cases. Conditional semantics are part of the contract:
//
//   - Save fails with ErrConflict when the identity key already exists,
//     and writes the creation event row in the same transaction when one
//     is supplied.
//   - UpdateStatus matches on the current status and fails with ErrNotFound
//     when no row satisfies the precondition.
type Repository interface {
	Save(ctx context.Context, appt Appointment, ev *outbox.Event) error

	FindByID(ctx context.Context, appointmentID string) (*Appointment, error)
	FindByInsuredID(ctx context.Context, insuredID string) ([]Appointment, error)
	FindByInsuredAndSchedule(ctx context.Context, insuredID string, scheduleID int) (*Appointment, error)

	UpdateStatus(ctx context.Context, appointmentID string, from, to Status) (*Appointment, error)
}
