package main

import (
	"context"
	"log"
	"time"

	"swiftride/internal/config"
	"swiftride/internal/db"
	"swiftride/internal/logger"
	"swiftride/internal/notify"
	"swiftride/internal/store"
	"swiftride/internal/worker"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		zlog.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	hub := notify.NewHub(st, zlog)

	w := &worker.Worker{
		Store:       st,
		Notifier:    hub,
		Interval:    time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		NotifyBatch: cfg.Worker.NotifyBatch,
		Log:         zlog,
	}

	zlog.Info("worker started", zap.Duration("interval", w.Interval))
	w.Run(ctx)
}
