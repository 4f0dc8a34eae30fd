package country

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
)

const peruTable = "appointments_pe"

// PeruStrategy processes PE appointments against the Peruvian database.
type PeruStrategy struct {
	w writer
}

func NewPeruStrategy(pool *pgxpool.Pool, log *zap.Logger) *PeruStrategy {
	return &PeruStrategy{w: writer{pool: pool, table: peruTable, log: log}}
}

func (s *PeruStrategy) Country() appointment.CountryISO { return appointment.CountryPE }

func (s *PeruStrategy) ValidateAppointment(appt appointment.Appointment) error {
	return validateForCountry(appt, appointment.CountryPE)
}

func (s *PeruStrategy) ProcessAppointment(ctx context.Context, appt appointment.Appointment) (Result, error) {
	if err := s.ValidateAppointment(appt); err != nil {
		return Result{
			Success:       false,
			Message:       err.Error(),
			AppointmentID: appt.AppointmentID,
		}, nil
	}

	inserted, err := s.w.write(ctx, appt)
	if err != nil {
		return Result{}, err
	}

	msg := "appointment recorded in PE database"
	if !inserted {
		msg = "appointment already recorded in PE database"
	}
	return Result{
		Success:       true,
		Message:       msg,
		AppointmentID: appt.AppointmentID,
		ProcessedAt:   nowUTC(),
	}, nil
}

func (s *PeruStrategy) DatabaseConfig() DatabaseConfig {
	return DatabaseConfig{Name: "rds_pe", Table: peruTable}
}
