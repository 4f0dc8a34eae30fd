// Package country holds the per-country processing strategies. Each country
// owns a dedicated database; the strategy validates that a message really
// belongs to it and performs the durable write into that country's store.
package country

import (
	"context"
	"time"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
)

// DatabaseConfig describes the country-scoped store a strategy writes to.
type DatabaseConfig struct {
	Name  string
	Table string
}

// Result is the structured outcome of processing one appointment. Business
// failures are reported here, never as errors; only infrastructure faults
// (connection loss, exhausted retries) surface as errors.
type Result struct {
	Success       bool
	Message       string
	AppointmentID string
	ProcessedAt   time.Time
}

// Strategy is the per-country capability set.
type Strategy interface {
	Country() appointment.CountryISO
	ValidateAppointment(appt appointment.Appointment) error
	ProcessAppointment(ctx context.Context, appt appointment.Appointment) (Result, error)
	DatabaseConfig() DatabaseConfig
}

// ForCountry resolves the strategy for a country code. The switch is
// exhaustive over the supported set; adding a country means the compiler
// and this function both have to learn about it.
func ForCountry(country appointment.CountryISO, pe *PeruStrategy, cl *ChileStrategy) (Strategy, error) {
	switch country {
	case appointment.CountryPE:
		return pe, nil
	case appointment.CountryCL:
		return cl, nil
	default:
		return nil, &appointment.ValidationError{
			Field: "countryISO",
			Value: country,
			Msg:   "no processing strategy registered, supported: PE, CL",
		}
	}
}

// validateForCountry is the shared per-strategy check: the message must carry
// this strategy's own country code and well-formed identifiers.
func validateForCountry(appt appointment.Appointment, want appointment.CountryISO) error {
	if appt.Country != want {
		return &appointment.ValidationError{
			Field: "countryISO",
			Value: appt.Country,
			Msg:   "appointment routed to the " + string(want) + " pipeline",
		}
	}
	if err := appointment.ValidateAppointmentID(appt.AppointmentID); err != nil {
		return err
	}
	if err := appointment.ValidateInsuredID(appt.InsuredID); err != nil {
		return err
	}
	return appointment.ValidateScheduleID(appt.ScheduleID)
}
