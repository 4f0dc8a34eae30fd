// Package processor implements the country-worker use case: one creation
// event in, one durable country write and one confirmation event out.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
	"github.com/rimaclabs/appointment-pipeline/internal/country"
)

// Result records what happened to one message. Expected business failures
// (malformed payloads, country mismatches) land here with Success=false and
// the message is considered consumed; only infrastructure faults become
// errors, which the transport answers with redelivery.
type Result struct {
	Success        bool
	Message        string
	AppointmentID  string
	WroteDatabase  bool
	PublishedEvent bool
	ProcessedAt    time.Time
}

type Processor struct {
	strategy  country.Strategy
	publisher appointment.EventPublisher
	log       *zap.Logger
	now       func() time.Time
}

func New(strategy country.Strategy, publisher appointment.EventPublisher, log *zap.Logger) *Processor {
	return &Processor{
		strategy:  strategy,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// HandleMessage decodes and processes one queue delivery. The message is the
// source of truth for this hop: the entity is rebuilt from its fields, not
// re-read from the primary store.
func (p *Processor) HandleMessage(ctx context.Context, body []byte) (Result, error) {
	var env appointment.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{Message: fmt.Sprintf("undecodable envelope: %v", err)}, nil
	}
	if env.DetailType != appointment.DetailTypeCreated {
		return Result{Message: "unexpected detail type " + env.DetailType}, nil
	}

	var detail appointment.CreatedDetail
	if err := json.Unmarshal(env.Detail, &detail); err != nil {
		return Result{Message: fmt.Sprintf("undecodable creation detail: %v", err)}, nil
	}

	return p.Process(ctx, detail)
}

// Process reconstructs the appointment from the message, runs the country
// strategy's durable write, then publishes the confirmation event.
func (p *Processor) Process(ctx context.Context, detail appointment.CreatedDetail) (Result, error) {
	appt, err := p.reconstruct(detail)
	if err != nil {
		var vErr *appointment.ValidationError
		if errors.As(err, &vErr) {
			p.log.Warn("rejecting malformed appointment message",
				zap.String("appointment_id", detail.AppointmentID),
				zap.Error(err),
			)
			return Result{
				Success:       false,
				Message:       err.Error(),
				AppointmentID: detail.AppointmentID,
			}, nil
		}
		return Result{}, err
	}

	strategyRes, err := p.strategy.ProcessAppointment(ctx, appt)
	if err != nil {
		// Infrastructure fault: the write never became durable, so the
		// transport must redeliver.
		return Result{}, err
	}
	if !strategyRes.Success {
		return Result{
			Success:       false,
			Message:       strategyRes.Message,
			AppointmentID: appt.AppointmentID,
		}, nil
	}

	processedAt := strategyRes.ProcessedAt
	if processedAt.IsZero() {
		processedAt = p.now().UTC()
	}

	confirmed := appointment.ConfirmedDetail{
		AppointmentID: appt.AppointmentID,
		InsuredID:     appt.InsuredID,
		ScheduleID:    appt.ScheduleID,
		CountryISO:    string(appt.Country),
		ProcessedAt:   processedAt,
		Source:        appointment.PipelineName(p.strategy.Country()),
	}

	if err := p.publisher.PublishConfirmed(ctx, confirmed); err != nil {
		// Durable write succeeded but the confirmation did not go out.
		// Redelivery re-runs the write as a no-op and retries the publish.
		return Result{}, fmt.Errorf("publish confirmation for %s: %w", appt.AppointmentID, err)
	}

	p.log.Info("appointment processed",
		zap.String("appointment_id", appt.AppointmentID),
		zap.String("country", string(appt.Country)),
		zap.String("pipeline", confirmed.Source),
	)

	return Result{
		Success:        true,
		Message:        strategyRes.Message,
		AppointmentID:  appt.AppointmentID,
		WroteDatabase:  true,
		PublishedEvent: true,
		ProcessedAt:    processedAt,
	}, nil
}

func (p *Processor) reconstruct(detail appointment.CreatedDetail) (appointment.Appointment, error) {
	countryISO, err := appointment.ParseCountry(detail.CountryISO)
	if err != nil {
		return appointment.Appointment{}, err
	}
	status := appointment.Status(detail.Status)
	if status == "" {
		status = appointment.StatusPending
	}
	updatedAt := detail.CreatedAt
	return appointment.Reconstruct(
		detail.AppointmentID,
		detail.InsuredID,
		detail.ScheduleID,
		countryISO,
		status,
		detail.Details,
		detail.CreatedAt,
		updatedAt,
	)
}

// WithClock overrides the processor clock. Test hook.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}
