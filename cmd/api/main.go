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

	"golang.org/x/sync/errgroup"

	apihttp "github.com/polarpost/mailroom/internal/api/transport/http"
	"github.com/polarpost/mailroom/internal/ingest/matcher"
	mailroomapp "github.com/polarpost/mailroom/internal/mailroom/app"
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
	appLogger.Info("API service starting...", "log_level", cfg.LogLevel, "port", cfg.APIPort)

	if cfg.APIAuthToken == "" {
		appLogger.Error("API auth token is not configured (APP_API_AUTH_TOKEN)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL database")

	recipientRepo := mailroompg.NewPgRecipientRepository(dbPool, appLogger)
	letterRepo := mailroompg.NewPgLetterRepository(dbPool, appLogger)
	wishItemRepo := mailroompg.NewPgWishItemRepository(dbPool, appLogger)
	flagRepo := mailroompg.NewPgModerationFlagRepository(dbPool, appLogger)
	replyRepo := mailroompg.NewPgReplyRepository(dbPool, appLogger)
	outboundRepo := mailroompg.NewPgOutboundMessageRepository(dbPool, appLogger)
	notificationRepo := mailroompg.NewPgNotificationRepository(dbPool, appLogger)
	deedRepo := mailroompg.NewPgGoodDeedRepository(dbPool, appLogger)
	jobRepo := queuepg.NewPgJobRepository(dbPool, appLogger)

	deedService := mailroomapp.NewDeedService(deedRepo, notificationRepo, jobRepo, appLogger, cfg.MaxJobAttempts)
	reviewService := mailroomapp.NewReviewService(wishItemRepo, flagRepo, appLogger)
	hasher := matcher.New(recipientRepo, cfg.RecipientSalt)

	handler := apihttp.NewHandler(
		recipientRepo, letterRepo, wishItemRepo, flagRepo, replyRepo,
		outboundRepo, notificationRepo, jobRepo,
		deedService, reviewService, hasher, appLogger,
	)
	router := apihttp.NewRouter(handler, cfg.APIAuthToken)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("API listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("API service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("API service shut down successfully.")
}
