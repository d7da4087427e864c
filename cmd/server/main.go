// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/unclebandit/reminder-mailer/internal/auth"
	"github.com/unclebandit/reminder-mailer/internal/config"
	"github.com/unclebandit/reminder-mailer/internal/controller"
	"github.com/unclebandit/reminder-mailer/internal/db"
	"github.com/unclebandit/reminder-mailer/internal/dispatch"
	"github.com/unclebandit/reminder-mailer/internal/handler"
	"github.com/unclebandit/reminder-mailer/internal/logger"
	"github.com/unclebandit/reminder-mailer/internal/mailer"
	"github.com/unclebandit/reminder-mailer/internal/monitor"
	"github.com/unclebandit/reminder-mailer/internal/queue"
	"github.com/unclebandit/reminder-mailer/internal/repository"
	"github.com/unclebandit/reminder-mailer/internal/scheduler"
	"github.com/unclebandit/reminder-mailer/internal/sendgate"
	"github.com/unclebandit/reminder-mailer/internal/server"
	"github.com/unclebandit/reminder-mailer/internal/service"
	"github.com/unclebandit/reminder-mailer/internal/session"
	"github.com/unclebandit/reminder-mailer/internal/validation"
)

func main() {
	boot := logger.New(os.Getenv("APP_ENV"))
	if err := config.LoadDotEnv(); err != nil {
		boot.Info().Msg("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.AppEnv)
	log.Info().Str("config", cfg.String()).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(cfg.Location(), log)
	gate := sendgate.New(cfg.Location())

	transport := mailer.NewSMTPTransport(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.EmailUser,
		Password: cfg.EmailPass,
	}, log)

	var waiter dispatch.Waiter = dispatch.AlarmWaiter{Gate: gate, Scheduler: sched}
	if cfg.GateMode == config.GateModeExact {
		waiter = dispatch.PollWaiter{Gate: gate, Interval: cfg.PollInterval}
	}
	dispatcher := dispatch.NewDispatcher(transport, waiter, cfg.SMTPFrom, log)

	q, closeQueue, err := setupDeliveryLog(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("delivery log setup failed")
	}
	if q != nil {
		dispatcher.Queue = q
	}

	sessions := session.NewStore(cfg.SessionTTL, log)
	if err := sessions.Register(sched, 5*time.Minute); err != nil {
		log.Fatal().Err(err).Msg("schedule session pruning")
	}
	mon := monitor.New(monitor.NewHostProbe(), afero.NewOsFs(), cfg.MonitorDir, log)
	if err := mon.Register(sched, cfg.MonitorInterval); err != nil {
		log.Fatal().Err(err).Msg("schedule resource monitor")
	}
	sched.Start()

	reminderService := &service.ReminderService{
		Auth:       auth.NewGate(cfg.LoginUsername, cfg.LoginPassword),
		SendGate:   gate,
		Dispatcher: dispatcher,
		Validator:  validation.New(),
		Defaults: service.Defaults{
			Subject:  cfg.DefaultSubject,
			Body:     cfg.DefaultBody,
			SendTime: cfg.DefaultSendTime,
		},
		Log: log.With().Str("component", "service").Logger(),
	}

	page, err := handler.NewPageHandler(reminderService, mon, log)
	if err != nil {
		log.Fatal().Err(err).Msg("page handler")
	}
	router := server.NewRouter(server.Deps{
		Log:      log,
		Sessions: sessions,
		Page:     page,
		Controller: &controller.ReminderController{
			ReminderService: reminderService,
			Monitor:         mon,
		},
	})

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.AppAddr).Str("gate_mode", cfg.GateMode).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("dispatcher shutdown")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown")
	}
	closeQueue()
	log.Info().Msg("bye")
}

// setupDeliveryLog wires dispatch events to the delivery log. With AMQP_URL
// events go to RabbitMQ for cmd/worker; with only DATABASE_URL an in-process
// queue writes them directly. With neither, nothing is recorded.
func setupDeliveryLog(ctx context.Context, cfg config.Config, log zerolog.Logger) (queue.Queue, func(), error) {
	switch {
	case cfg.AMQPURL != "":
		q, err := queue.NewAMQPQueue(cfg.AMQPURL, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("publishing dispatch events to rabbitmq")
		return q, func() {
			if err := q.Close(); err != nil {
				log.Warn().Err(err).Msg("close rabbitmq")
			}
		}, nil

	case cfg.DatabaseURL != "":
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		q := queue.NewInMemoryQueue(log)
		recorder := service.NewDeliveryRecorder(&repository.DeliveryLogRepository{DB: conn}, log)
		if err := recorder.Subscribe(q); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		log.Info().Msg("recording dispatch events to postgres")
		return q, func() {
			q.Drain()
			_ = conn.Close()
		}, nil

	default:
		return nil, func() {}, nil
	}
}
