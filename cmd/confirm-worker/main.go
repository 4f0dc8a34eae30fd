package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
	"github.com/rimaclabs/appointment-pipeline/internal/config"
	"github.com/rimaclabs/appointment-pipeline/internal/db"
	"github.com/rimaclabs/appointment-pipeline/internal/events"
	"github.com/rimaclabs/appointment-pipeline/internal/logging"
	"github.com/rimaclabs/appointment-pipeline/internal/outbox"
	redisclient "github.com/rimaclabs/appointment-pipeline/internal/redis"
)

// confirm-worker consumes confirmation events from the completion queue and
// transitions appointments to completed.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer log.Sync()

	log.Info("confirm-worker starting up", zap.String("env", cfg.Env))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer rdb.Close()

	conn, err := events.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("rabbitmq connection error", zap.Error(err))
	}
	defer conn.Close()
	log.Info("connected to RabbitMQ")

	publisher, err := events.NewAMQPPublisher(conn, log)
	if err != nil {
		log.Fatal("publisher init error", zap.Error(err))
	}
	defer publisher.Close()

	outboxStore := outbox.NewStore(pgPool)
	repo := appointment.NewPgRepository(pgPool, outboxStore)
	svc := appointment.NewService(repo, publisher, outboxStore, log)

	dedupe := redisclient.NewDedupe(rdb, cfg.DedupeTTL)
	consumer, err := events.NewConsumer(conn, events.QueueCompletion, cfg.MaxRetries, dedupe, log)
	if err != nil {
		log.Fatal("consumer init error", zap.Error(err))
	}

	consumer.On(func(ctx context.Context, d amqp.Delivery) error {
		return handleConfirmation(ctx, svc, log, d.Body)
	})

	if err := consumer.Run(rootCtx); err != nil && rootCtx.Err() == nil {
		log.Fatal("consumer stopped unexpectedly", zap.Error(err))
	}
	log.Info("confirm-worker stopped")
}

// handleConfirmation swallows validation-shaped failures (the message is a
// poison pill, retrying cannot fix it) and returns infrastructure errors so
// the transport redelivers.
func handleConfirmation(ctx context.Context, svc *appointment.Service, log *zap.Logger, body []byte) error {
	var env appointment.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn("discarding undecodable confirmation envelope", zap.Error(err))
		return nil
	}
	if env.DetailType != appointment.DetailTypeConfirmed {
		log.Warn("discarding unexpected detail type", zap.String("detail_type", env.DetailType))
		return nil
	}

	var detail appointment.ConfirmedDetail
	if err := json.Unmarshal(env.Detail, &detail); err != nil {
		log.Warn("discarding undecodable confirmation detail", zap.Error(err))
		return nil
	}

	result, err := svc.Confirm(ctx, detail)
	if err != nil {
		var vErr *appointment.ValidationError
		var dErr *appointment.DomainError
		switch {
		case errors.As(err, &vErr), errors.As(err, &dErr):
			log.Warn("discarding invalid confirmation",
				zap.String("appointment_id", detail.AppointmentID),
				zap.Error(err),
			)
			return nil
		case errors.Is(err, appointment.ErrNotFound):
			// The appointment may not be visible yet; redeliver.
			return fmt.Errorf("appointment %s not found yet: %w", detail.AppointmentID, err)
		default:
			return err
		}
	}

	log.Info("confirmation applied",
		zap.String("appointment_id", result.AppointmentID),
		zap.String("previous_status", string(result.PreviousStatus)),
		zap.String("new_status", string(result.NewStatus)),
		zap.String("processed_by", result.ProcessedBy),
	)
	return nil
}
