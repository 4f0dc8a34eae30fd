package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/api"
	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
	"github.com/rimaclabs/appointment-pipeline/internal/config"
	"github.com/rimaclabs/appointment-pipeline/internal/db"
	"github.com/rimaclabs/appointment-pipeline/internal/events"
	"github.com/rimaclabs/appointment-pipeline/internal/logging"
	"github.com/rimaclabs/appointment-pipeline/internal/outbox"
	redisclient "github.com/rimaclabs/appointment-pipeline/internal/redis"
)

const version = "1.0.0"

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

	log.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

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
	log.Info("connected to Redis")

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

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		AMQP:    conn,
		Log:     log,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()

	log.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
