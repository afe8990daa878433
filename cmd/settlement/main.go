package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/access"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/config"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/correlator"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/distributor"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/handlers"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/ledger"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/messaging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/messaging/nats"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/orchestrator"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/quality"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/repository"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/scheduler"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	slog.SetDefault(logger.Logger)

	connString := cfg.Database.Postgres.ConnString()

	// Run database migrations
	logger.Info("running database migrations")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("database migrations completed")

	repo, err := repository.NewPostgresRepository(context.Background(), connString)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// Redis backs event dedup and the ownership cache. Without it the
	// service still runs, with in-process dedup only.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		opts.MaxRetries = cfg.Redis.MaxRetries
		opts.PoolSize = cfg.Redis.PoolSize
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
	}

	retry := ledger.RetryPolicy{
		MaxAttempts: cfg.Ledger.Retry.MaxAttempts,
		BaseBackoff: cfg.Ledger.Retry.BaseBackoff,
		MaxBackoff:  cfg.Ledger.Retry.MaxBackoff,
	}
	gateway := ledger.NewHTTPGateway(cfg.Ledger.URL, cfg.Ledger.Timeout)

	var natsClient *nats.Client
	if cfg.NATS.Enabled {
		natsClient, err = nats.NewClient(nats.Config{
			URL:           cfg.NATS.URL,
			Name:          "settlement-orchestrator",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsClient.Close()
	}

	dist := distributor.New(gateway, cfg.Distributor.FanoutLimit, retry, logger)

	var publisher messaging.Publisher
	if natsClient != nil {
		publisher = natsClient
	}
	orch := orchestrator.New(repo, gateway, dist, publisher, retry, logger)

	var dedup correlator.Deduper
	if redisClient != nil {
		dedup = correlator.NewRedisDeduper(redisClient, cfg.Settlement.DedupTTL)
	} else {
		dedup = correlator.NewMemoryDeduper(cfg.Settlement.DedupTTL)
	}
	corr := correlator.New(repo, dedup, orch, correlator.Config{
		Partitions:     cfg.Settlement.Partitions,
		PartitionQueue: cfg.Settlement.PartitionQueue,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if natsClient != nil {
		if err := corr.Start(ctx, natsClient); err != nil {
			log.Fatalf("Failed to start correlator: %v", err)
		}
		defer corr.Stop()
	} else {
		logger.Warn("NATS disabled, ledger events will not be consumed")
	}

	sched := scheduler.New(repo, orch, cfg.Settlement.RunInterval, logger)
	sched.Start(ctx)
	defer sched.Stop()

	var cache access.OwnershipCache
	if redisClient != nil {
		cache = access.NewRedisOwnershipCache(redisClient, cfg.Access.OwnershipCacheTTL)
	}
	gate := access.NewGate(repo, gateway, cache, logger)

	handler := handlers.New(repo, orch, gate, quality.DefaultConfig(), logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("settlement service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", logging.Error(err))
	}
}
