package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medimeet/telehealth-booking/internal/booking"
	"github.com/medimeet/telehealth-booking/internal/config"
	"github.com/medimeet/telehealth-booking/internal/credits"
	"github.com/medimeet/telehealth-booking/internal/db"
	"github.com/medimeet/telehealth-booking/internal/logger"
	redisclient "github.com/medimeet/telehealth-booking/internal/redis"
	"github.com/medimeet/telehealth-booking/internal/video"
)

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

	zlog.Info("reminder-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("lead", cfg.ReminderLead))

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

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	ledger := credits.NewPgLedger(pgPool)
	notifier := booking.NewLogNotifier(zlog)
	svc := booking.NewService(repo, locker, ledger, video.Disabled{}, notifier, zlog, cfg)

	// Run once at startup
	runOnce(rootCtx, svc, zlog)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, zlog)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, zlog *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := svc.RemindUpcoming(runCtx, start)
	if err != nil {
		zlog.Error("reminder run error", zap.Error(err))
		return
	}
	zlog.Info("reminder run complete",
		zap.Int("reminders_sent", sent),
		zap.Duration("took", time.Since(start)))
}
