package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/servana/backend/internal/config"
	"github.com/servana/backend/internal/directory"
	"github.com/servana/backend/internal/identity"
	"github.com/servana/backend/internal/ledger"
	"github.com/servana/backend/internal/messaging"
	"github.com/servana/backend/internal/notify"
	"github.com/servana/backend/internal/repository"
	"github.com/servana/backend/internal/router"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := repository.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		slog.Error("Schema migrations failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Optional Redis status cache.
	var statusCache *ledger.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, credit-status cache disabled", "error", err)
		} else {
			statusCache = ledger.NewCache(rdb, 30*time.Second)
			slog.Info("Credit-status cache enabled", "addr", cfg.RedisAddr)
		}
	}

	// Repositories
	accountRepo := repository.NewCreditAccountRepo(pool)
	creditTxRepo := repository.NewCreditTxRepo(pool)
	threadRepo := repository.NewThreadRepo(pool)
	messageRepo := repository.NewMessageRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)

	// Ledger
	ledgerSvc := ledger.NewService(pool, accountRepo, creditTxRepo, statusCache, logger)

	// Messaging: notify insert func is set after the River client is
	// created (breaks the init cycle).
	var insertMu sync.Mutex
	var insertFn messaging.InsertNotifyTxFunc
	insertNotify := func(ctx context.Context, tx pgx.Tx, args notify.MessageNotifyArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	messagingSvc := messaging.NewService(pool, threadRepo, messageRepo, ledgerSvc, insertNotify, logger)
	directorySvc := directory.NewService(threadRepo, messageRepo, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewWorker(cfg.NotifyWebhookURL, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args notify.MessageNotifyArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Handlers & routes
	verifier := identity.NewVerifier(cfg.JWTSecret)
	ledgerHandler := ledger.NewHandler(ledgerSvc, logger)
	messagingHandler := messaging.NewHandler(messagingSvc, logger)
	directoryHandler := directory.NewHandler(directorySvc, logger)
	keyHandler := identity.NewKeyHandler(apiKeyRepo, logger)

	mux := router.New(verifier, apiKeyRepo, ledgerHandler, messagingHandler, directoryHandler, keyHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (delivers notifications)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", cfg.ListenAddr())
	if err := http.ListenAndServe(cfg.ListenAddr(), corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
