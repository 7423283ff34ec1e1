package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/pulseworks/taskmetrics/internal/api"
	"github.com/pulseworks/taskmetrics/internal/auth"
	"github.com/pulseworks/taskmetrics/internal/config"
	"github.com/pulseworks/taskmetrics/internal/gtasks"
	"github.com/pulseworks/taskmetrics/internal/pkg/distlock"
	"github.com/pulseworks/taskmetrics/internal/pkg/logger"
	"github.com/pulseworks/taskmetrics/internal/repository/postgres"
	"github.com/pulseworks/taskmetrics/internal/service/stats"
	"github.com/pulseworks/taskmetrics/internal/worker"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("load config failed", "path", configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to postgres locks", "error", err)
			redisClient = nil
		}
		cancel()
	}

	statsRepo := postgres.NewStatsRepo(db)
	userRepo := postgres.NewUserRepo(db)

	minter := gtasks.NewTokenMinter(cfg.TaskSource.ClientID, cfg.TaskSource.ClientSecret)
	taskClient := gtasks.NewClient(gtasks.Config{
		BaseURL:      cfg.TaskSource.BaseURL,
		ClientID:     cfg.TaskSource.ClientID,
		ClientSecret: cfg.TaskSource.ClientSecret,
		Timeout:      cfg.TaskSource.Timeout(),
		PageSize:     cfg.TaskSource.PageSize,
	}, minter)

	opts := []stats.Option{
		stats.WithConcurrency(cfg.Stats.BatchConcurrency),
		stats.WithLocker(distlock.NewStatLocker(redisClient, db)),
	}
	if redisClient != nil {
		opts = append(opts, stats.WithLimiter(
			worker.NewRateLimiter(redisClient, cfg.TaskSource.RequestsPerMinute)))
	}
	statsSvc := stats.NewService(statsRepo, userRepo, taskClient, opts...)

	var authManager *auth.Manager
	stopSessionSweep := func() {}
	if cfg.Auth.Enabled {
		baseURL := fmt.Sprintf("http://%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
			baseURL = v
		}
		authManager = auth.NewManager(cfg.Auth, baseURL, userRepo)
		stopSessionSweep = authManager.CleanupExpiredSessions()
	}

	var sessions api.SessionSource
	if authManager != nil {
		sessions = authManager
	}
	handlers := api.NewHandlers(statsSvc, sessions, cfg.Stats.BatchSecret,
		cfg.Stats.DistributionCacheSeconds, cfg.Stats.DistributionLimit)
	server := api.NewServer(cfg.Server, handlers, authManager)

	var scheduler *worker.BatchScheduler
	if cfg.Stats.BatchIntervalMinutes > 0 {
		scheduler = worker.NewBatchScheduler(statsSvc, cfg.Stats.BatchInterval(), redisClient, db)
		if err := scheduler.Start(); err != nil {
			logger.Error("scheduler start failed", "error", err)
			os.Exit(1)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}
	stopSessionSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
