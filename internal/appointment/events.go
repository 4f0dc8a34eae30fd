package appointment

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventSource = "rimac.appointment"

	DetailTypeCreated   = "AppointmentCreated"
	DetailTypeConfirmed = "AppointmentConfirmed"

	PipelinePE = "appointment_pe"
	PipelineCL = "appointment_cl"
)

// PipelineName returns the processing-pipeline identifier stamped into
// confirmation events as their source.
func PipelineName(country CountryISO) string {
	if country == CountryCL {
		return PipelineCL
	}
	return PipelinePE
}

// Envelope is the generic wrapper every published event travels in. Detail
// stays raw JSON so consumers decode only the shape they expect.
type Envelope struct {
	Source     string          `json:"source"`
	DetailType string          `json:"detailType"`
	Detail     json.RawMessage `json:"detail"`
}

// CreatedDetail mirrors the persisted appointment fields at creation time.
type CreatedDetail struct {
	AppointmentID string          `json:"appointmentId"`
	InsuredID     string          `json:"insuredId"`
	ScheduleID    int             `json:"scheduleId"`
	CountryISO    string          `json:"countryISO"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	Details       ScheduleDetails `json:"details,omitempty"`
}

// ConfirmedDetail is the fact a country pipeline emits after its durable
// write succeeded. Source names the emitting pipeline, e.g. appointment_pe.
type ConfirmedDetail struct {
	AppointmentID string    `json:"appointmentId"`
	InsuredID     string    `json:"insuredId"`
	ScheduleID    int       `json:"scheduleId"`
	CountryISO    string    `json:"countryISO"`
	ProcessedAt   time.Time `json:"processedAt"`
	Source        string    `json:"source"`
}

// NewCreatedEnvelope maps an appointment into the wire envelope for the
// country fan-out.
func NewCreatedEnvelope(appt Appointment) (Envelope, error) {
	detail := CreatedDetail{
		AppointmentID: appt.AppointmentID,
		InsuredID:     appt.InsuredID,
		ScheduleID:    appt.ScheduleID,
		CountryISO:    string(appt.Country),
		Status:        string(appt.Status),
		CreatedAt:     appt.CreatedAt,
		Details:       appt.Details,
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Source: EventSource, DetailType: DetailTypeCreated, Detail: raw}, nil
}

// NewConfirmedEnvelope wraps a confirmation detail for the completion queue.
func NewConfirmedEnvelope(detail ConfirmedDetail) (Envelope, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Source: EventSource, DetailType: DetailTypeConfirmed, Detail: raw}, nil
}

// EventPublisher is the port the use cases publish through. Implementations
// must attach the countryISO attribute on creation events so the broker
// fan-out can filter per country. messageID is the outbox row id, so an
// inline delivery and a later relayed copy of the same event dedupe to the
// same key downstream.
type EventPublisher interface {
	PublishCreated(ctx context.Context, appt Appointment, messageID string) error
	PublishConfirmed(ctx context.Context, detail ConfirmedDetail) error
}
