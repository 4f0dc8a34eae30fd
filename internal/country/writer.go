package country

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
)

const (
	writeAttempts    = 3
	writeBackoffBase = 200 * time.Millisecond
)

func nowUTC() time.Time { return time.Now().UTC() }

// writer performs the durable country write: an insert into the country
// table inside a transaction, retried with exponential backoff on transient
// failures. The primary key on appointment_id absorbs duplicate deliveries.
type writer struct {
	pool  *pgxpool.Pool
	table string
	log   *zap.Logger
}

// write returns (inserted, error). inserted=false with a nil error means the
// row already existed, which is the duplicate-delivery no-op case.
func (w *writer) write(ctx context.Context, appt appointment.Appointment) (bool, error) {
	var lastErr error

	for attempt := 1; attempt <= writeAttempts; attempt++ {
		inserted, err := w.writeOnce(ctx, appt)
		if err == nil {
			return inserted, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < writeAttempts {
			backoff := writeBackoffBase << (attempt - 1)
			w.log.Warn("country write failed, retrying",
				zap.String("table", w.table),
				zap.String("appointment_id", appt.AppointmentID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false, appointment.NewInfrastructureError("country write", ctx.Err())
			}
		}
	}

	return false, appointment.NewInfrastructureError("country write", lastErr)
}

func (w *writer) writeOnce(ctx context.Context, appt appointment.Appointment) (bool, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin country tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO `+w.table+` (appointment_id, insured_id, schedule_id, center_id, specialty_id, medic_id, slot_datetime, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (appointment_id) DO NOTHING
	`,
		appt.AppointmentID,
		appt.InsuredID,
		appt.ScheduleID,
		appt.Details.CenterID,
		appt.Details.SpecialtyID,
		appt.Details.MedicID,
		appt.Details.SlotDatetime,
	)
	if err != nil {
		return false, fmt.Errorf("insert into %s: %w", w.table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit country tx: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
