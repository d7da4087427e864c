// cmd/worker consumes dispatch events from RabbitMQ and writes them to the
// Postgres delivery log.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/unclebandit/reminder-mailer/internal/config"
	"github.com/unclebandit/reminder-mailer/internal/db"
	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/logger"
	"github.com/unclebandit/reminder-mailer/internal/queue"
	"github.com/unclebandit/reminder-mailer/internal/repository"
	"github.com/unclebandit/reminder-mailer/internal/service"
)

func main() {
	boot := logger.New(os.Getenv("APP_ENV"))
	if err := config.LoadDotEnv(); err != nil {
		boot.Info().Msg("no .env file found, relying on OS environment variables")
	}
	cfg, err := config.LoadStore()
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.AMQPURL == "" {
		boot.Fatal().Err(appErrors.NewConfigMissing("AMQP_URL")).Msg("invalid configuration")
	}
	log := logger.New(cfg.AppEnv).With().Str("app", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	q, err := queue.NewAMQPQueue(cfg.AMQPURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer q.Close()

	recorder := service.NewDeliveryRecorder(&repository.DeliveryLogRepository{DB: conn}, log)
	if err := startWorker(q, recorder, log); err != nil {
		log.Fatal().Err(err).Msg("failed to register consumer")
	}

	<-ctx.Done()
	log.Info().Msg("worker stopping")
}

func startWorker(q queue.Queue, recorder *service.DeliveryRecorder, log zerolog.Logger) error {
	if err := recorder.Subscribe(q); err != nil {
		return err
	}
	log.Info().Str("topic", queue.TopicDispatchEvents).Msg("worker running, waiting for dispatch events")
	return nil
}
