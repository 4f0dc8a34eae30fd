package events

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const retryCountHeader = "x-retry-count"

// Handler processes one delivery. A nil return acknowledges the message; an
// error requeues it until the retry budget is spent, after which the message
// is rejected into the dead-letter exchange.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Deduper short-circuits deliveries another worker already finished. Seen is
// a read-only check; Mark stamps the key only after the handler succeeded, so
// a worker crash before Ack leaves the redelivery runnable.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Consumer struct {
	ch         *amqp.Channel
	queue      string
	handler    Handler
	maxRetries int
	dedupe     Deduper
	log        *zap.Logger
}

// NewConsumer opens a channel on the shared connection, declares the
// topology and bounds in-flight deliveries to one per worker.
func NewConsumer(conn *amqp.Connection, queue string, maxRetries int, dedupe Deduper, log *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Consumer{
		ch:         ch,
		queue:      queue,
		maxRetries: maxRetries,
		dedupe:     dedupe,
		log:        log,
	}, nil
}

// Run consumes until ctx is cancelled. Retry bookkeeping lives in a message
// header: a failed delivery is republished to the tail of the queue with the
// count incremented, and rejected into the dead-letter exchange once the
// budget is spent.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.log.Info("consumer started", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopping", zap.String("queue", c.queue))
			return c.ch.Close()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	if c.dedupe != nil && d.MessageId != "" {
		seen, err := c.dedupe.Seen(ctx, d.MessageId)
		if err != nil {
			c.log.Warn("dedupe check failed, processing anyway",
				zap.String("message_id", d.MessageId), zap.Error(err))
		} else if seen {
			c.log.Info("duplicate delivery skipped",
				zap.String("queue", c.queue), zap.String("message_id", d.MessageId))
			_ = d.Ack(false)
			return
		}
	}

	err := c.handler(ctx, d)
	if err == nil {
		if c.dedupe != nil && d.MessageId != "" {
			if markErr := c.dedupe.Mark(ctx, d.MessageId); markErr != nil {
				c.log.Warn("dedupe mark failed, duplicates may reprocess",
					zap.String("message_id", d.MessageId), zap.Error(markErr))
			}
		}
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d)
	if retries >= c.maxRetries {
		c.log.Error("retry budget spent, dead-lettering",
			zap.String("queue", c.queue),
			zap.String("message_id", d.MessageId),
			zap.Int("retries", retries),
			zap.Error(err),
		)
		_ = d.Reject(false)
		return
	}

	if repErr := c.republish(ctx, d, retries+1); repErr != nil {
		c.log.Error("republish failed, requeueing in place",
			zap.String("queue", c.queue), zap.Error(repErr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// On registers the handler invoked per delivery. Must be called before Run.
func (c *Consumer) On(h Handler) { c.handler = h }

// republish pushes the delivery to the tail of its own queue with an
// incremented retry header, bypassing the headers exchange.
func (c *Consumer) republish(ctx context.Context, d amqp.Delivery, retries int) error {
	headers := d.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers[retryCountHeader] = int32(retries)

	return c.ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		Body:         d.Body,
		Headers:      headers,
		MessageId:    d.MessageId,
		DeliveryMode: amqp.Persistent,
	})
}

func retryCount(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
