// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/kanisahub/comms-backend/internal/activity"
	"github.com/kanisahub/comms-backend/internal/balance"
	"github.com/kanisahub/comms-backend/internal/config"
	"github.com/kanisahub/comms-backend/internal/db"
	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/logger"
	"github.com/kanisahub/comms-backend/internal/provider"
	"github.com/kanisahub/comms-backend/internal/queue"
	"github.com/kanisahub/comms-backend/internal/repository"
	"github.com/kanisahub/comms-backend/internal/scheduler"
	"github.com/kanisahub/comms-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("could not load configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()

	notifyCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}
	defer conn.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(notifyCtx).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}

	batchRepo := &repository.BatchRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}

	dispatcher := service.NewDispatchWorker(
		batchRepo,
		messageRepo,
		provider.NewHTTPClient(cfg.ProviderURL, cfg.ProviderAPIKey),
		balance.NewRedisLedger(rdb),
		&activity.PostgresLog{DB: conn},
		log,
		cfg.DispatchWorkers,
		cfg.MaxSendAttempts,
		cfg.RetryBaseDelay,
	)

	dispatchQueue, err := queue.NewAMQPQueue(cfg.RabbitURL, log)
	if err != nil {
		log.Fatalf("could not connect to RabbitMQ: %v", err)
	}
	defer dispatchQueue.Close()

	dispatchScheduler := scheduler.NewDispatchScheduler(batchRepo, dispatcher, log, cfg.SchedulerSpec)
	if err := dispatchScheduler.Start(); err != nil {
		log.Fatalf("could not start scheduler: %v", err)
	}
	defer dispatchScheduler.Stop()

	log.Info("worker running, waiting for dispatch jobs...")
	err = dispatchQueue.Consume(notifyCtx, func(job queue.DispatchJob) error {
		err := dispatcher.Dispatch(notifyCtx, job.BatchID, job.Scope)
		var insufficient *appErrors.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			// Not transient: the batch stays pending until someone tops up
			// and re-dispatches, so requeueing would only spin.
			log.WithField("batch_id", job.BatchID).Warn(err.Error())
			return nil
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("consumer stopped: %v", err)
	}

	log.Info("worker shut down gracefully")
}
