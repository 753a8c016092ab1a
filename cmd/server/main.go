package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"marketfeed/internal/config"
	"marketfeed/internal/engine"
	"marketfeed/internal/logger"
	"marketfeed/internal/scheduler"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.NewLogger(cfg.LogLevel, "")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if cfg.Providers.AlphaVantageKey == "" && cfg.Providers.PolygonKey == "" {
		lg.Warn("no ALPHA_VANTAGE_API_KEY or POLYGON_API_KEY set; keyed free tier disabled")
	}

	eng, err := engine.New(cfg, engine.WithLogger(lg.Logger))
	if err != nil {
		lg.Fatal("engine", zap.Error(err))
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(ctx, eng, cfg.Cache.Horizon, cfg.Scheduler.Watchlist, lg.Logger)
		if err := sched.RegisterAll(cfg.Scheduler.CleanupSpec, cfg.Scheduler.WarmSpec); err != nil {
			lg.Fatal("register cron tasks", zap.Error(err))
		}
		sched.Start()
		defer sched.Stop()
		if runOnStart() {
			go sched.RunWarmNow()
		}
	}

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	router := newRouter(eng, timeout,
		recoverPanic(lg.Logger), accessLog(lg.Logger), withJSONHeaders, withGzip, limitBody)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// batch requests pace through rate-limited vendors
		WriteTimeout: timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func runOnStart() bool {
	switch strings.ToLower(os.Getenv("RUN_ON_START")) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
