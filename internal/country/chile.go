package country

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
)

const chileTable = "appointments_cl"

// ChileStrategy processes CL appointments against the Chilean database.
type ChileStrategy struct {
	w writer
}

func NewChileStrategy(pool *pgxpool.Pool, log *zap.Logger) *ChileStrategy {
	return &ChileStrategy{w: writer{pool: pool, table: chileTable, log: log}}
}

func (s *ChileStrategy) Country() appointment.CountryISO { return appointment.CountryCL }

func (s *ChileStrategy) ValidateAppointment(appt appointment.Appointment) error {
	return validateForCountry(appt, appointment.CountryCL)
}

func (s *ChileStrategy) ProcessAppointment(ctx context.Context, appt appointment.Appointment) (Result, error) {
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

	msg := "appointment recorded in CL database"
	if !inserted {
		msg = "appointment already recorded in CL database"
	}
	return Result{
		Success:       true,
		Message:       msg,
		AppointmentID: appt.AppointmentID,
		ProcessedAt:   nowUTC(),
	}, nil
}

func (s *ChileStrategy) DatabaseConfig() DatabaseConfig {
	return DatabaseConfig{Name: "rds_cl", Table: chileTable}
}
