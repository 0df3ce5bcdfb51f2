package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"modwatch/internal/config"
	"modwatch/internal/db"
	"modwatch/internal/logging"
	"modwatch/internal/processor"
	"modwatch/internal/reconciler"
	"modwatch/internal/redis"
	"modwatch/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_worker", "service", "modwatch-worker", "workers", cfg.WorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	redisClient, err := redis.New(cfg.RedisDSN)
	if err != nil {
		logger.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	users := store.NewPostgres(dbConn)
	rec := reconciler.New(users, logger)

	ep := processor.New(logger, rec, redisClient)
	ep.StartWorkers(cfg.WorkerCount)

	go ep.DrainIngest(ctx)

	logger.Info("worker_started", "queue", processor.IngestQueue)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	cancel() // stops the ingest drain
	ep.StopWorkers()

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis_close_error", "error", err)
	}
	dbConn.Close()

	logger.Info("worker_stopped")
}
