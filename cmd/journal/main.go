package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admoderation/internal/audit"
	"admoderation/internal/config"
	"admoderation/internal/pkg/journal"
	"admoderation/internal/pkg/logger"
	"admoderation/internal/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是决定日志落库 worker 的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志
// 2. 连接 Redis 与 MySQL
// 3. 消费决定事件写入审计表，失败的事件重试后进入死信
// 4. 启动 Metrics 服务并优雅关闭
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	if cfg.Redis.Addr == "" {
		appLogger.Error("journal worker requires REDIS_ADDR")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.InitMetrics(cfg.App.BulkConcurrency)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("connect redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := audit.Open(cfg.MySQL.DSN)
	if err != nil {
		appLogger.Error("open audit store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	hostname, _ := os.Hostname()
	consumer, err := journal.NewConsumer(ctx, rdb, appLogger, cfg.Journal.Stream, cfg.Journal.Group, hostname,
		journal.WithMaxRetry(cfg.Journal.MaxRetry))
	if err != nil {
		appLogger.Error("init journal consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	worker := journal.NewWorker(consumer, store, appLogger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				appLogger.Error("PANIC in journal worker loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()

		appLogger.Info("starting journal worker loop",
			slog.String("stream", cfg.Journal.Stream),
			slog.String("dead_letter", consumer.DeadLetterStream()))
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("journal worker loop stopped", slog.String("error", err.Error()))
		}
	}()

	metricsServer := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("journal metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down journal worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}

	select {
	case <-done:
		appLogger.Info("journal worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("journal worker did not stop before timeout")
	}
}
