package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swiftride/internal/config"
	"swiftride/internal/db"
	"swiftride/internal/drivers"
	"swiftride/internal/gateway"
	internalhttp "swiftride/internal/http"
	"swiftride/internal/ledger"
	"swiftride/internal/lifecycle"
	"swiftride/internal/logger"
	"swiftride/internal/notify"
	"swiftride/internal/pricing"
	"swiftride/internal/reports"
	"swiftride/internal/store"

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

	orders := &lifecycle.Manager{
		Store:    st,
		Notifier: hub,
		Pricing: pricing.Service{
			BaseFareVND: cfg.Pricing.BaseFareVND,
			PerKMVND:    cfg.Pricing.PerKMVND,
			PerKGVND:    cfg.Pricing.PerKGVND,
		},
		PaymentTTL: time.Duration(cfg.Gateway.TTLMinutes) * time.Minute,
		Log:        zlog,
	}

	wallet := &ledger.Ledger{
		Store:  st,
		Orders: orders,
		FeeBps: cfg.Ledger.FeeBps,
		Log:    zlog,
	}
	orders.Credits = wallet

	gw := &gateway.Adapter{
		Store:  st,
		Orders: orders,
		Config: gateway.Config{
			TmnCode:   cfg.Gateway.TmnCode,
			SecretKey: cfg.Gateway.SecretKey,
			PayURL:    cfg.Gateway.PayURL,
			ReturnURL: cfg.Gateway.ReturnURL,
		},
		Log: zlog,
	}

	drv := &drivers.Service{Store: st, Log: zlog}
	rpt := &reports.Service{Store: st, Orders: orders, Ledger: wallet, Log: zlog}

	h := internalhttp.NewHandler(orders, gw, wallet, drv, rpt, zlog)
	srv := internalhttp.NewServer(h, hub)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		zlog.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
