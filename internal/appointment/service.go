package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/outbox"
)

// OutboxMarker stamps an outbox row as delivered after an inline publish
// succeeds, so the relay does not send it a second time.
type OutboxMarker interface {
	MarkSent(ctx context.Context, id uuid.UUID) error
}

// Service orchestrates the request-side use cases: creation, reads and the
// confirmation transition. All dependencies are injected at construction;
// there is no lazy wiring.
type Service struct {
	repo      Repository
	publisher EventPublisher
	marker    OutboxMarker
	log       *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, publisher EventPublisher, marker OutboxMarker, log *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		marker:    marker,
		log:       log,
		now:       time.Now,
	}
}

type CreateInput struct {
	InsuredID  string
	ScheduleID int
	CountryISO string
	Details    ScheduleDetails
}

type CreateResult struct {
	AppointmentID string
	InsuredID     string
	ScheduleID    int
	CountryISO    string
	Status        Status
	CreatedAt     time.Time
	Created       bool
	Message       string
}

// Create validates the input, collapses duplicate requests onto the existing
// record via the (insuredId, scheduleId) idempotency key, persists a pending
// appointment together with its creation-event outbox row, then attempts an
// inline publish. A failed publish is not an error for the caller: the row
// stays unsent and the relay delivers it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := ValidateAppointmentData(in.InsuredID, in.ScheduleID, in.CountryISO); err != nil {
		return nil, err
	}
	country, err := ParseCountry(in.CountryISO)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByInsuredAndSchedule(ctx, in.InsuredID, in.ScheduleID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, NewInfrastructureError("find by insured and schedule", err)
	}
	if existing != nil {
		return s.duplicateResult(existing), nil
	}

	appt, err := New(in.InsuredID, in.ScheduleID, country, in.Details, s.now())
	if err != nil {
		return nil, err
	}

	ev, err := s.outboxEvent(appt)
	if err != nil {
		return nil, fmt.Errorf("build creation event: %w", err)
	}

	if err := s.repo.Save(ctx, appt, &ev); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost the race between the idempotency read and the insert.
			winner, findErr := s.repo.FindByInsuredAndSchedule(ctx, in.InsuredID, in.ScheduleID)
			if findErr != nil {
				return nil, NewInfrastructureError("resolve creation conflict", findErr)
			}
			return s.duplicateResult(winner), nil
		}
		return nil, NewInfrastructureError("save appointment", err)
	}

	s.publishInline(ctx, appt, ev.ID)

	return &CreateResult{
		AppointmentID: appt.AppointmentID,
		InsuredID:     appt.InsuredID,
		ScheduleID:    appt.ScheduleID,
		CountryISO:    string(appt.Country),
		Status:        appt.Status,
		CreatedAt:     appt.CreatedAt,
		Created:       true,
		Message:       "appointment scheduled, processing is in progress",
	}, nil
}

func (s *Service) duplicateResult(existing *Appointment) *CreateResult {
	return &CreateResult{
		AppointmentID: existing.AppointmentID,
		InsuredID:     existing.InsuredID,
		ScheduleID:    existing.ScheduleID,
		CountryISO:    string(existing.Country),
		Status:        existing.Status,
		CreatedAt:     existing.CreatedAt,
		Created:       false,
		Message:       "appointment already scheduled for this insured and slot",
	}
}

func (s *Service) outboxEvent(appt Appointment) (outbox.Event, error) {
	env, err := NewCreatedEnvelope(appt)
	if err != nil {
		return outbox.Event{}, err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		ID:        uuid.New(),
		EventType: DetailTypeCreated,
		Country:   string(appt.Country),
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}, nil
}

// publishInline is best-effort: the outbox row already guarantees delivery.
// The row id doubles as the broker message id so a relayed copy of the same
// event dedupes against this delivery.
func (s *Service) publishInline(ctx context.Context, appt Appointment, outboxID uuid.UUID) {
	if err := s.publisher.PublishCreated(ctx, appt, outboxID.String()); err != nil {
		s.log.Warn("inline publish failed, relay will deliver",
			zap.String("appointment_id", appt.AppointmentID),
			zap.Error(err),
		)
		return
	}
	if err := s.marker.MarkSent(ctx, outboxID); err != nil {
		s.log.Warn("mark outbox sent failed, event may publish twice",
			zap.String("outbox_id", outboxID.String()),
			zap.Error(err),
		)
	}
}

// Get retrieves one appointment by its identifier.
func (s *Service) Get(ctx context.Context, appointmentID string) (*Appointment, error) {
	if err := ValidateAppointmentID(appointmentID); err != nil {
		return nil, err
	}
	appt, err := s.repo.FindByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, NewInfrastructureError("find by id", err)
	}
	return appt, nil
}

// ListByInsured returns the subject's appointments, newest first.
func (s *Service) ListByInsured(ctx context.Context, insuredID string) ([]Appointment, error) {
	if err := ValidateInsuredID(insuredID); err != nil {
		return nil, err
	}
	appts, err := s.repo.FindByInsuredID(ctx, insuredID)
	if err != nil {
		return nil, NewInfrastructureError("find by insured id", err)
	}
	return appts, nil
}

type ConfirmResult struct {
	AppointmentID  string
	PreviousStatus Status
	NewStatus      Status
	UpdatedAt      time.Time
	ProcessedBy    string
}

// Confirm applies one confirmation event: load by appointmentId, verify the
// event's subject and pipeline against the stored record, then transition to
// completed with a conditional update. Replaying a confirmation against an
// already-completed appointment is a silent no-op success.
func (s *Service) Confirm(ctx context.Context, detail ConfirmedDetail) (*ConfirmResult, error) {
	if err := s.validateConfirmDetail(detail); err != nil {
		return nil, err
	}

	appt, err := s.repo.FindByID(ctx, detail.AppointmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("confirm %s: %w", detail.AppointmentID, ErrNotFound)
		}
		return nil, NewInfrastructureError("find by id", err)
	}

	if appt.InsuredID != detail.InsuredID {
		return nil, newValidationError("insuredId", detail.InsuredID,
			"event subject does not match stored appointment")
	}
	if string(appt.Country) != detail.CountryISO {
		return nil, newValidationError("countryISO", detail.CountryISO,
			"event country does not match stored appointment")
	}
	if detail.Source != PipelineName(appt.Country) {
		return nil, newValidationError("source", detail.Source,
			"event source does not match the appointment's country pipeline")
	}

	if appt.Status == StatusCompleted {
		return &ConfirmResult{
			AppointmentID:  appt.AppointmentID,
			PreviousStatus: StatusCompleted,
			NewStatus:      StatusCompleted,
			UpdatedAt:      appt.UpdatedAt,
			ProcessedBy:    detail.Source,
		}, nil
	}

	if _, err := appt.MarkCompleted(s.now()); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.AppointmentID, appt.Status, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The precondition no longer holds: someone else transitioned the
			// record between our read and this write. Re-read and treat a
			// completed record as a replay.
			current, findErr := s.repo.FindByID(ctx, appt.AppointmentID)
			if findErr != nil {
				return nil, NewInfrastructureError("re-read after lost transition race", findErr)
			}
			if current.Status == StatusCompleted {
				return &ConfirmResult{
					AppointmentID:  current.AppointmentID,
					PreviousStatus: StatusCompleted,
					NewStatus:      StatusCompleted,
					UpdatedAt:      current.UpdatedAt,
					ProcessedBy:    detail.Source,
				}, nil
			}
			return nil, fmt.Errorf("confirm %s: status changed concurrently to %s", appt.AppointmentID, current.Status)
		}
		return nil, NewInfrastructureError("update status", err)
	}

	s.log.Info("appointment confirmed",
		zap.String("appointment_id", updated.AppointmentID),
		zap.String("previous_status", string(appt.Status)),
		zap.String("processed_by", detail.Source),
	)

	return &ConfirmResult{
		AppointmentID:  updated.AppointmentID,
		PreviousStatus: appt.Status,
		NewStatus:      updated.Status,
		UpdatedAt:      updated.UpdatedAt,
		ProcessedBy:    detail.Source,
	}, nil
}

func (s *Service) validateConfirmDetail(detail ConfirmedDetail) error {
	if err := ValidateAppointmentID(detail.AppointmentID); err != nil {
		return err
	}
	if err := ValidateInsuredID(detail.InsuredID); err != nil {
		return err
	}
	if err := ValidateScheduleID(detail.ScheduleID); err != nil {
		return err
	}
	if err := ValidateCountry(detail.CountryISO); err != nil {
		return err
	}
	if detail.Source == "" {
		return newValidationError("source", detail.Source, "must identify the emitting pipeline")
	}
	return nil
}

// ConfirmBatch applies each event independently so one malformed event
// cannot block the rest of the batch. Failures are logged and counted, not
// returned.
func (s *Service) ConfirmBatch(ctx context.Context, details []ConfirmedDetail) []ConfirmResult {
	results := make([]ConfirmResult, 0, len(details))
	for _, detail := range details {
		res, err := s.Confirm(ctx, detail)
		if err != nil {
			s.log.Error("confirmation failed",
				zap.String("appointment_id", detail.AppointmentID),
				zap.Error(err),
			)
			continue
		}
		results = append(results, *res)
	}
	return results
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}
