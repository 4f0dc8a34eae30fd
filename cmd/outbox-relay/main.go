package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/config"
	"github.com/rimaclabs/appointment-pipeline/internal/db"
	"github.com/rimaclabs/appointment-pipeline/internal/events"
	"github.com/rimaclabs/appointment-pipeline/internal/logging"
	"github.com/rimaclabs/appointment-pipeline/internal/outbox"
)

// outbox-relay sweeps creation-event rows the API could not publish inline
// and pushes them to the broker.
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

	log.Info("outbox-relay starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.RelayInterval),
	)

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

	store := outbox.NewStore(pgPool)
	relay := outbox.NewRelay(store, publisher, cfg.RelayInterval, cfg.RelayBatchSize, log)

	relay.Run(rootCtx)
	log.Info("outbox-relay stopped")
}
