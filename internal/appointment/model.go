package appointment

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type CountryISO string

const (
	CountryPE CountryISO = "PE"
	CountryCL CountryISO = "CL"
)

// ParseCountry returns the typed country code or a ValidationError for
// anything outside the supported set.
func ParseCountry(raw string) (CountryISO, error) {
	switch CountryISO(raw) {
	case CountryPE:
		return CountryPE, nil
	case CountryCL:
		return CountryCL, nil
	default:
		return "", newValidationError("countryISO", raw, "must be one of PE, CL")
	}
}

// ScheduleDetails carries the optional slot description fields. They are
// stored and forwarded verbatim, never checked against slot availability.
type ScheduleDetails struct {
	CenterID     *int       `json:"centerId,omitempty"`
	SpecialtyID  *int       `json:"specialtyId,omitempty"`
	MedicID      *int       `json:"medicId,omitempty"`
	SlotDatetime *time.Time `json:"slotDatetime,omitempty"`
}

// Appointment is the aggregate root. Instances are value snapshots: status
// transitions return a new Appointment and never mutate the receiver.
type Appointment struct {
	AppointmentID string
	InsuredID     string
	ScheduleID    int
	Country       CountryISO
	Status        Status
	Details       ScheduleDetails
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewID returns a 26-character, lexicographically time-ordered identifier.
func NewID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// New builds a pending appointment with a fresh identifier. All invariant
// checks run here; a violation aborts construction.
func New(insuredID string, scheduleID int, country CountryISO, details ScheduleDetails, now time.Time) (Appointment, error) {
	a := Appointment{
		AppointmentID: NewID(now),
		InsuredID:     insuredID,
		ScheduleID:    scheduleID,
		Country:       country,
		Status:        StatusPending,
		Details:       details,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
	if err := a.validate(); err != nil {
		return Appointment{}, err
	}
	return a, nil
}

// Reconstruct rebuilds an appointment from storage or from a queue message.
// The same invariants as New apply; reconstruction never repairs bad data.
func Reconstruct(appointmentID, insuredID string, scheduleID int, country CountryISO, status Status, details ScheduleDetails, createdAt, updatedAt time.Time) (Appointment, error) {
	a := Appointment{
		AppointmentID: appointmentID,
		InsuredID:     insuredID,
		ScheduleID:    scheduleID,
		Country:       country,
		Status:        status,
		Details:       details,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
	if err := a.validate(); err != nil {
		return Appointment{}, err
	}
	return a, nil
}

func (a Appointment) validate() error {
	if err := ValidateAppointmentID(a.AppointmentID); err != nil {
		return err
	}
	if err := ValidateInsuredID(a.InsuredID); err != nil {
		return err
	}
	if err := ValidateScheduleID(a.ScheduleID); err != nil {
		return err
	}
	if err := ValidateCountry(string(a.Country)); err != nil {
		return err
	}
	switch a.Status {
	case StatusPending, StatusCompleted, StatusFailed:
	default:
		return newValidationError("status", a.Status, "unknown status")
	}
	return nil
}

// MarkCompleted returns a completed snapshot. Completing an appointment that
// is already completed is a domain error; pending and failed may complete.
func (a Appointment) MarkCompleted(now time.Time) (Appointment, error) {
	if a.Status == StatusCompleted {
		return Appointment{}, &DomainError{
			Code: CodeAlreadyCompleted,
			Msg:  "appointment " + a.AppointmentID + " is already completed",
		}
	}
	next := a
	next.Status = StatusCompleted
	next.UpdatedAt = now.UTC()
	return next, nil
}

// MarkFailed returns a failed snapshot. A completed appointment can no
// longer fail; re-failing a failed appointment is a no-op transition.
func (a Appointment) MarkFailed(now time.Time) (Appointment, error) {
	if a.Status == StatusCompleted {
		return Appointment{}, &DomainError{
			Code: CodeCannotFailCompleted,
			Msg:  "appointment " + a.AppointmentID + " is completed and cannot fail",
		}
	}
	next := a
	next.Status = StatusFailed
	next.UpdatedAt = now.UTC()
	return next, nil
}
