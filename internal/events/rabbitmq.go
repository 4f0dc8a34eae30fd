// Package events carries the appointment envelopes over RabbitMQ: a headers
// exchange fans creation events out to exactly one country queue, a separate
// binding feeds confirmations to the completion queue, and a dead-letter
// exchange parks messages that spend their retry budget.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
)

const (
	EventsExchange     = "appointments.events"
	DeadLetterExchange = "appointments.dlx"

	QueuePE         = "appointments_pe"
	QueueCL         = "appointments_cl"
	QueueCompletion = "appointments_completion"
	QueueDeadLetter = "appointments_dlq"

	headerCountry    = "countryISO"
	headerDetailType = "detailType"
	headerSource     = "source"
)

var ErrUnroutableCountry = errors.New("creation event has no routable countryISO attribute")

// CountryQueue maps a country code to its processing queue.
func CountryQueue(country appointment.CountryISO) string {
	if country == appointment.CountryCL {
		return QueueCL
	}
	return QueuePE
}

// Dial connects to the broker and fails fast when it is unreachable.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

// DeclareTopology declares the exchanges, queues and bindings every process
// depends on. Declarations are idempotent so each binary declares on boot.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(EventsExchange, "headers", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueDeadLetter, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(QueueDeadLetter, "", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	workQueueArgs := amqp.Table{"x-dead-letter-exchange": DeadLetterExchange}

	bindings := []struct {
		queue string
		match amqp.Table
	}{
		{QueuePE, amqp.Table{
			"x-match":        "all",
			headerDetailType: appointment.DetailTypeCreated,
			headerCountry:    string(appointment.CountryPE),
		}},
		{QueueCL, amqp.Table{
			"x-match":        "all",
			headerDetailType: appointment.DetailTypeCreated,
			headerCountry:    string(appointment.CountryCL),
		}},
		{QueueCompletion, amqp.Table{
			"x-match":        "all",
			headerDetailType: appointment.DetailTypeConfirmed,
			headerSource:     appointment.EventSource,
		}},
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, workQueueArgs); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, "", EventsExchange, false, b.match); err != nil {
			return fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
	}

	return nil
}

// AMQPPublisher publishes envelopes through the headers exchange with
// publisher confirms enabled. Confirmations are tracked per delivery tag, so
// an abandoned wait can never be attributed to a later publish.
type AMQPPublisher struct {
	ch  *amqp.Channel
	log *zap.Logger
}

func NewAMQPPublisher(conn *amqp.Connection, log *zap.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := DeclareTopology(ch); err != nil {
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &AMQPPublisher{ch: ch, log: log}, nil
}

// PublishCreated sends the creation envelope. Callers pass the outbox row id
// as messageID; an empty id gets a fresh one.
func (p *AMQPPublisher) PublishCreated(ctx context.Context, appt appointment.Appointment, messageID string) error {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	env, err := appointment.NewCreatedEnvelope(appt)
	if err != nil {
		return fmt.Errorf("marshal creation event: %w", err)
	}
	return p.PublishEnvelope(ctx, env, string(appt.Country), messageID)
}

func (p *AMQPPublisher) PublishConfirmed(ctx context.Context, detail appointment.ConfirmedDetail) error {
	env, err := appointment.NewConfirmedEnvelope(detail)
	if err != nil {
		return fmt.Errorf("marshal confirmation event: %w", err)
	}
	return p.PublishEnvelope(ctx, env, detail.CountryISO, uuid.NewString())
}

// PublishEnvelope sends one persistent message and waits for the broker
// confirm.
func (p *AMQPPublisher) PublishEnvelope(ctx context.Context, env appointment.Envelope, country, messageID string) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return p.PublishRaw(ctx, body, env.DetailType, country, messageID)
}

// PublishRaw sends an already-marshaled envelope. The outbox relay uses it
// with the stored row id as messageID so a re-published event dedupes
// downstream.
func (p *AMQPPublisher) PublishRaw(ctx context.Context, body []byte, detailType, country, messageID string) error {
	if detailType == appointment.DetailTypeCreated {
		if err := guardCountry(country); err != nil {
			return err
		}
	}

	headers := amqp.Table{
		headerSource:     appointment.EventSource,
		headerDetailType: detailType,
		headerCountry:    country,
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Headers:      headers,
		MessageId:    messageID,
		DeliveryMode: amqp.Persistent,
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, EventsExchange, "", false, false, msg)
	if err != nil {
		return appointment.NewInfrastructureError("publish "+detailType, err)
	}
	if err := awaitConfirm(ctx, dc); err != nil {
		return appointment.NewInfrastructureError("publish "+detailType, err)
	}

	p.log.Debug("event published",
		zap.String("detail_type", detailType),
		zap.String("country", country),
		zap.String("message_id", messageID),
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

var _ appointment.EventPublisher = (*AMQPPublisher)(nil)

// confirmWaiter is the slice of amqp.DeferredConfirmation awaitConfirm needs.
type confirmWaiter interface {
	WaitContext(ctx context.Context) (bool, error)
}

// awaitConfirm blocks until the broker settles this specific publish. A nack
// is a hard failure: the message is not durable.
func awaitConfirm(ctx context.Context, dc confirmWaiter) error {
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked message")
	}
	return nil
}

// guardCountry enforces the fan-out contract before any network call: a
// creation event without a supported country code must never reach the
// broker, because no subscription filter would ever match it.
func guardCountry(country string) error {
	if country == "" {
		return ErrUnroutableCountry
	}
	if err := appointment.ValidateCountry(country); err != nil {
		return fmt.Errorf("%w: %v", ErrUnroutableCountry, err)
	}
	return nil
}
