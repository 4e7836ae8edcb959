package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"

	"github.com/jwalitptl/notify-engine/internal/config"
	"github.com/jwalitptl/notify-engine/internal/repository"
	"github.com/jwalitptl/notify-engine/internal/repository/postgres"
	"github.com/jwalitptl/notify-engine/internal/scheduler"
	deliveryService "github.com/jwalitptl/notify-engine/internal/service/delivery"
	"github.com/jwalitptl/notify-engine/internal/service/policy"
	templateService "github.com/jwalitptl/notify-engine/internal/service/template"
	"github.com/jwalitptl/notify-engine/internal/transport/email"
	"github.com/jwalitptl/notify-engine/internal/transport/slack"
	"github.com/jwalitptl/notify-engine/internal/worker"
	"github.com/jwalitptl/notify-engine/pkg/logger"
	redisbroker "github.com/jwalitptl/notify-engine/pkg/messaging/redis"
	"github.com/jwalitptl/notify-engine/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	workerCfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load worker configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	brokerCfg := redisbroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}
	broker, err := redisbroker.NewRedisBroker(brokerCfg, &appLogger.ZL)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to Redis broker")
	}
	defer broker.Close()

	redisClient, err := redisbroker.NewClient(brokerCfg)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to Redis")
	}
	defer redisClient.Close()

	m := metrics.NewMetrics("notify", "worker")

	baseRepo := postgres.NewBaseRepository(db)
	eventStore := postgres.NewEventStore(baseRepo, broker, appLogger, m)
	snapshotStore := postgres.NewSnapshotStore(baseRepo, m)
	ledgerRepo := postgres.NewLedgerRepository(baseRepo)
	messageRepo := repository.NewMessageRepository(eventStore, snapshotStore)

	policySvc := policy.NewService(cfg.Delivery)
	renderer := templateService.NewService(templateService.NewStaticSource(nil))
	chatTransport := slack.NewClient(cfg.Transport.Slack, appLogger)
	emailTransport := email.NewClient(cfg.Transport.Email)

	deliverySvc := deliveryService.NewService(
		messageRepo,
		renderer,
		chatTransport,
		emailTransport,
		policySvc,
		appLogger,
		m,
		cfg.Delivery.AttemptTimeout,
	)

	sched := scheduler.NewRedisScheduler(redisClient, cfg.Scheduler, appLogger, m)

	consumer := worker.NewConsumer(
		broker,
		eventStore,
		ledgerRepo,
		messageRepo,
		deliverySvc,
		sched,
		appLogger,
		m,
		workerCfg.CatchUpPoll,
	)
	sched.SetHandler(consumer.HandleJob)

	startHealthServer(db, appLogger, workerCfg.HealthPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	for i := 0; i < workerCfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				appLogger.Error(err, "consumer stopped with error", "consumer", id)
			}
		}(i)
	}
	appLogger.Info("worker started",
		"consumers", workerCfg.WorkerCount, "health_port", workerCfg.HealthPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("shutting down...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		appLogger.Info("worker exited properly")
	case <-time.After(workerCfg.ShutdownGrace):
		appLogger.Warn("shutdown grace elapsed, exiting")
	}
}

func startHealthServer(db interface{ Ping() error }, appLogger *logger.Logger, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.Error(err, "health check server failed")
		}
	}()
}
