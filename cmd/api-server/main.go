package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medimeet/telehealth-booking/internal/api"
	"github.com/medimeet/telehealth-booking/internal/booking"
	"github.com/medimeet/telehealth-booking/internal/config"
	"github.com/medimeet/telehealth-booking/internal/credits"
	"github.com/medimeet/telehealth-booking/internal/db"
	"github.com/medimeet/telehealth-booking/internal/logger"
	"github.com/medimeet/telehealth-booking/internal/metrics"
	redisclient "github.com/medimeet/telehealth-booking/internal/redis"
	"github.com/medimeet/telehealth-booking/internal/video"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zlog.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Warn("error closing redis", zap.Error(err))
		}
	}()
	zlog.Info("connected to Redis")

	var provider video.Provider
	provider, err = video.NewVonageClient(cfg.VonageApplicationID, cfg.VonagePrivateKey, cfg.VonageAPIBaseURL)
	if err != nil {
		if errors.Is(err, video.ErrNotConfigured) && cfg.Env == "dev" {
			zlog.Warn("video provider not configured, bookings will fail at provisioning")
			provider = video.Disabled{}
		} else {
			zlog.Fatal("video provider init error", zap.Error(err))
		}
	}

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	ledger := credits.NewPgLedger(pgPool)
	notifier := booking.NewLogNotifier(zlog)
	svc := booking.NewService(repo, locker, ledger, provider, notifier, zlog, cfg)

	col := metrics.NewCollector("medimeet")

	handler := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  zlog,
		Metrics: col,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		zlog.Fatal("http server error", zap.Error(err))
	case <-rootCtx.Done():
	}

	zlog.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
}
