// Package outbox implements a transactional outbox for creation events: the
// event row is written in the same transaction as the appointment record, so
// a broker outage can never leave a pending appointment without an event.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one undelivered (or delivered) creation event row.
type Event struct {
	ID        uuid.UUID
	EventType string
	Country   string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AddTx inserts an event row inside the caller's transaction.
func (s *Store) AddTx(ctx context.Context, tx pgx.Tx, ev Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, country, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.ID, ev.EventType, ev.Country, ev.Payload, nullableTime(ev.CreatedAt))
	return err
}

// Drain claims up to limit unsent rows, oldest first, and hands each to
// send. Rows whose send succeeds are stamped sent in the same transaction;
// a send failure stops the batch and leaves the remainder for the next
// sweep. SKIP LOCKED keeps concurrent relay instances from drain-fighting
// over the same rows.
func (s *Store) Drain(ctx context.Context, limit int, send func(Event) error) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin drain tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, country, payload, created_at, sent_at
		FROM outbox_events
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, err
	}

	var claimed []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Country, &ev.Payload, &ev.CreatedAt, &ev.SentAt); err != nil {
			rows.Close()
			return 0, err
		}
		claimed = append(claimed, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	var sendErr error
	for _, ev := range claimed {
		if sendErr = send(ev); sendErr != nil {
			break
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_events SET sent_at = now() WHERE id = $1`, ev.ID); err != nil {
			return 0, err
		}
		sent++
	}

	// Commit what did go out even when a send failed mid-batch; the failed
	// row and everything behind it stay unsent.
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit drain tx: %w", err)
	}
	return sent, sendErr
}

// MarkSent stamps one row so the relay will not pick it again. Used by the
// creation use case after a successful inline publish.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET sent_at = now()
		WHERE id = $1
		  AND sent_at IS NULL
	`, id)
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
