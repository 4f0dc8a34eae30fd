package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rimaclabs/appointment-pipeline/internal/outbox"
)

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

type PgRepository struct {
	pool   *pgxpool.Pool
	events *outbox.Store
}

func NewPgRepository(pool *pgxpool.Pool, events *outbox.Store) *PgRepository {
	return &PgRepository{pool: pool, events: events}
}

const appointmentColumns = `appointment_id, insured_id, schedule_id, country_iso, status,
	center_id, specialty_id, medic_id, slot_datetime, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.AppointmentID,
		&a.InsuredID,
		&a.ScheduleID,
		&a.Country,
		&a.Status,
		&a.Details.CenterID,
		&a.Details.SpecialtyID,
		&a.Details.MedicID,
		&a.Details.SlotDatetime,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &a, nil
}

// Save inserts the appointment and, when ev is non-nil, the creation event
// row in one transaction. A duplicate identity key surfaces as ErrConflict
// so the caller can distinguish a lost idempotency race from a real fault.
func (r *PgRepository) Save(ctx context.Context, appt Appointment, ev *outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		appt.AppointmentID,
		appt.InsuredID,
		appt.ScheduleID,
		appt.Country,
		appt.Status,
		appt.Details.CenterID,
		appt.Details.SpecialtyID,
		appt.Details.MedicID,
		appt.Details.SlotDatetime,
		appt.CreatedAt,
		appt.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	if ev != nil {
		if err := r.events.AddTx(ctx, tx, *ev); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

func (r *PgRepository) FindByID(ctx context.Context, appointmentID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1
	`, appointmentID)
	return scanAppointment(row)
}

func (r *PgRepository) FindByInsuredID(ctx context.Context, insuredID string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE insured_id = $1
		ORDER BY appointment_id DESC
	`, insuredID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) FindByInsuredAndSchedule(ctx context.Context, insuredID string, scheduleID int) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE insured_id = $1
		  AND schedule_id = $2
		ORDER BY appointment_id
		LIMIT 1
	`, insuredID, scheduleID)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, appointmentID string, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, appointmentID, to, from)

	return scanAppointment(row)
}

var _ Repository = (*PgRepository)(nil)
