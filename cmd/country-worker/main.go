package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
	"github.com/rimaclabs/appointment-pipeline/internal/config"
	"github.com/rimaclabs/appointment-pipeline/internal/country"
	"github.com/rimaclabs/appointment-pipeline/internal/db"
	"github.com/rimaclabs/appointment-pipeline/internal/events"
	"github.com/rimaclabs/appointment-pipeline/internal/logging"
	"github.com/rimaclabs/appointment-pipeline/internal/processor"
	redisclient "github.com/rimaclabs/appointment-pipeline/internal/redis"
)

// country-worker consumes one country's queue. COUNTRY selects which.
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

	countryCode := os.Getenv("COUNTRY")
	parsed, err := appointment.ParseCountry(countryCode)
	if err != nil {
		log.Fatal("COUNTRY must be PE or CL", zap.String("country", countryCode))
	}

	log.Info("country-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("country", string(parsed)),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn, err := cfg.CountryDSN(string(parsed))
	if err != nil {
		log.Fatal("country database config error", zap.Error(err))
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	countryPool, err := db.ConnectCountry(pgCtx, dsn)
	cancelPg()
	if err != nil {
		log.Fatal("country database connection error", zap.Error(err))
	}
	defer countryPool.Close()
	log.Info("connected to country database")

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

	pe := country.NewPeruStrategy(countryPool, log)
	cl := country.NewChileStrategy(countryPool, log)
	strategy, err := country.ForCountry(parsed, pe, cl)
	if err != nil {
		log.Fatal("strategy resolution error", zap.Error(err))
	}

	proc := processor.New(strategy, publisher, log)
	dedupe := redisclient.NewDedupe(rdb, cfg.DedupeTTL)

	consumer, err := events.NewConsumer(conn, events.CountryQueue(parsed), cfg.MaxRetries, dedupe, log)
	if err != nil {
		log.Fatal("consumer init error", zap.Error(err))
	}

	consumer.On(func(ctx context.Context, d amqp.Delivery) error {
		res, err := proc.HandleMessage(ctx, d.Body)
		if err != nil {
			return err
		}
		if !res.Success {
			log.Warn("message consumed without processing",
				zap.String("appointment_id", res.AppointmentID),
				zap.String("reason", res.Message),
			)
		}
		return nil
	})

	if err := consumer.Run(rootCtx); err != nil && rootCtx.Err() == nil {
		log.Fatal("consumer stopped unexpectedly", zap.Error(err))
	}
	log.Info("country-worker stopped")
}
