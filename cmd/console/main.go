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

	"admoderation/internal/api"
	"admoderation/internal/audit"
	"admoderation/internal/backend"
	"admoderation/internal/config"
	"admoderation/internal/console"
	"admoderation/internal/moderation"
	"admoderation/internal/pkg/dedup"
	"admoderation/internal/pkg/journal"
	"admoderation/internal/pkg/logger"
	"admoderation/internal/pkg/metrics"
	"admoderation/internal/pkg/notify"
	"admoderation/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// main 是审核控制台服务的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志与指标
// 2. 连接 Redis（可选），启用限流、幂等与决定日志
// 3. 创建后端客户端与会话管理器
// 4. 启动 HTTP 服务并优雅关闭
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.InitMetrics(cfg.App.BulkConcurrency)

	var (
		rdb         *redis.Client
		serverOpts  []api.Option
		execOptions []moderation.Option
		clientOpts  = []backend.Option{backend.WithLogger(appLogger)}
	)

	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Error("connect redis failed", slog.String("addr", cfg.Redis.Addr), slog.String("error", err.Error()))
			os.Exit(1)
		}

		limiter := ratelimit.NewLimiter(rdb, appLogger, ratelimit.DefaultKey, cfg.App.RateLimit, cfg.App.RateBurst)
		clientOpts = append(clientOpts, backend.WithLimiter(limiter))

		serverOpts = append(serverOpts,
			api.WithIdempotency(dedup.NewGuard(rdb, cfg.App.IdempotencyWindow)),
			api.WithHealthCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		)

		if cfg.Journal.Enabled {
			producer := journal.NewProducer(rdb, appLogger, cfg.Journal.Stream)
			execOptions = append(execOptions, moderation.WithJournal(producer))
		}
	} else {
		appLogger.Info("redis not configured, running without rate limit, idempotency and journal")
	}

	if cfg.Journal.Enabled {
		store, err := audit.Open(cfg.MySQL.DSN)
		if err != nil {
			appLogger.Warn("audit store unavailable, history disabled", slog.String("error", err.Error()))
		} else {
			defer store.Close()
			serverOpts = append(serverOpts,
				api.WithHistory(store),
				api.WithHealthCheck("mysql", store.Ping),
			)
		}
	}

	emailNotifier := notify.NewEmailNotifier(&cfg.Email, appLogger)
	if emailNotifier.Configured() {
		execOptions = append(execOptions, moderation.WithNotifier(emailNotifier))
	} else {
		execOptions = append(execOptions, moderation.WithNotifier(notify.NewLogNotifier(appLogger)))
	}
	execOptions = append(execOptions, moderation.WithBulkLimit(cfg.App.BulkConcurrency))

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, clientOpts...)
	manager := console.NewManager(console.Deps{
		Backend:         client,
		PageSize:        cfg.App.PageSize,
		Logger:          appLogger,
		ExecutorOptions: execOptions,
	}, cfg.App.SessionIdleTimeout, appLogger)
	go manager.Run(ctx)

	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.NewServer(cfg, appLogger, manager, serverOpts...)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: srv.Router(),
	}

	go func() {
		appLogger.Info("console server listening", slog.String("addr", cfg.App.HTTPAddr),
			slog.String("backend", cfg.Backend.BaseURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down console server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			appLogger.Error("close redis failed", slog.String("error", err.Error()))
		}
	}
}
