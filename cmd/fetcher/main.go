package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	ingestapp "github.com/polarpost/mailroom/internal/ingest/app"
	"github.com/polarpost/mailroom/internal/ingest/dedup"
	"github.com/polarpost/mailroom/internal/ingest/matcher"
	"github.com/polarpost/mailroom/internal/ingest/pop3"
	mailroompg "github.com/polarpost/mailroom/internal/mailroom/repository/postgres"
	"github.com/polarpost/mailroom/internal/platform/config"
	"github.com/polarpost/mailroom/internal/platform/database"
	"github.com/polarpost/mailroom/internal/platform/logger"
	queuepg "github.com/polarpost/mailroom/internal/queue/repository/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Mailbox fetcher starting...", "log_level", cfg.LogLevel, "mailbox_host", cfg.MailboxHost)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL database")

	var dedupFilter ingestapp.DedupFilter = dedup.Noop{}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			appLogger.Error("Failed to parse Redis URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		appLogger.Info("Successfully connected to Redis")
		dedupFilter = dedup.NewFilter(rdb)
	} else {
		appLogger.Info("Redis not configured; dedup uses the durable store only")
	}

	letterRepo := mailroompg.NewPgLetterRepository(dbPool, appLogger)
	recipientRepo := mailroompg.NewPgRecipientRepository(dbPool, appLogger)
	seenRepo := mailroompg.NewPgSeenMessageRepository(dbPool, appLogger)
	notificationRepo := mailroompg.NewPgNotificationRepository(dbPool, appLogger)
	jobRepo := queuepg.NewPgJobRepository(dbPool, appLogger)

	dialer := pop3.NewDialer(cfg.MailboxHost, cfg.MailboxPort, cfg.MailboxUseSSL, cfg.MailboxUsername, cfg.MailboxPassword)
	senderMatcher := matcher.New(recipientRepo, cfg.RecipientSalt)

	fetcher := ingestapp.NewFetcher(
		dialer, dedupFilter, senderMatcher,
		letterRepo, seenRepo, notificationRepo, jobRepo,
		appLogger, cfg.FetchInterval, cfg.MaxJobAttempts,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fetcher.Run(gctx) })

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}
	g.Go(func() error {
		appLogger.Info("Metrics endpoint listening", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Mailbox fetcher exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Mailbox fetcher shut down successfully.")
}
