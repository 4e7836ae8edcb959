package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	_ "github.com/lib/pq"

	"github.com/jwalitptl/notify-engine/internal/config"
	"github.com/jwalitptl/notify-engine/internal/handler/health"
	messageHandler "github.com/jwalitptl/notify-engine/internal/handler/message"
	"github.com/jwalitptl/notify-engine/internal/repository"
	"github.com/jwalitptl/notify-engine/internal/repository/postgres"
	"github.com/jwalitptl/notify-engine/internal/router"
	messageService "github.com/jwalitptl/notify-engine/internal/service/message"
	"github.com/jwalitptl/notify-engine/pkg/logger"
	redisbroker "github.com/jwalitptl/notify-engine/pkg/messaging/redis"
	"github.com/jwalitptl/notify-engine/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
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

	m := metrics.NewMetrics("notify", "api")

	baseRepo := postgres.NewBaseRepository(db)
	eventStore := postgres.NewEventStore(baseRepo, broker, appLogger, m)
	snapshotStore := postgres.NewSnapshotStore(baseRepo, m)
	messageRepo := repository.NewMessageRepository(eventStore, snapshotStore)

	messageSvc := messageService.NewService(messageRepo, appLogger, m)

	msgHandler := messageHandler.NewHandler(messageSvc)
	healthHandler := health.NewHandler(db, redisClient)

	r := router.NewRouter(msgHandler, healthHandler, router.RouterConfig{
		RateLimit:      rate.Limit(100),
		RateBurst:      200,
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsPrefix:  "notify_api",
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("api server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal(err, "server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}
