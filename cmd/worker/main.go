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
	"golang.org/x/sync/errgroup"

	mailroompg "github.com/polarpost/mailroom/internal/mailroom/repository/postgres"
	outboundapp "github.com/polarpost/mailroom/internal/outbound/app"
	"github.com/polarpost/mailroom/internal/outbound/smtp"
	pipelineapp "github.com/polarpost/mailroom/internal/pipeline/app"
	"github.com/polarpost/mailroom/internal/pipeline/llm"
	"github.com/polarpost/mailroom/internal/platform/config"
	"github.com/polarpost/mailroom/internal/platform/database"
	"github.com/polarpost/mailroom/internal/platform/logger"
	queueapp "github.com/polarpost/mailroom/internal/queue/app"
	queuedomain "github.com/polarpost/mailroom/internal/queue/domain"
	queuepg "github.com/polarpost/mailroom/internal/queue/repository/postgres"
)

const claimBatchSize = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Worker service starting...", "log_level", cfg.LogLevel, "worker_count", cfg.WorkerCount)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL database")

	jobRepo := queuepg.NewPgJobRepository(dbPool, appLogger)
	letterRepo := mailroompg.NewPgLetterRepository(dbPool, appLogger)
	recipientRepo := mailroompg.NewPgRecipientRepository(dbPool, appLogger)
	wishItemRepo := mailroompg.NewPgWishItemRepository(dbPool, appLogger)
	flagRepo := mailroompg.NewPgModerationFlagRepository(dbPool, appLogger)
	replyRepo := mailroompg.NewPgReplyRepository(dbPool, appLogger)
	deedRepo := mailroompg.NewPgGoodDeedRepository(dbPool, appLogger)
	notificationRepo := mailroompg.NewPgNotificationRepository(dbPool, appLogger)
	outboundRepo := mailroompg.NewPgOutboundMessageRepository(dbPool, appLogger)

	llmClient := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.ExtractionModel, cfg.ReplyModel, cfg.SafetyModel, appLogger)

	processor := pipelineapp.NewProcessor(
		letterRepo, recipientRepo, wishItemRepo, flagRepo, replyRepo, deedRepo, notificationRepo,
		llmClient, jobRepo, appLogger,
		pipelineapp.ProcessorConfig{
			SafetyCheckEnabled:   cfg.SafetyCheckEnabled,
			ModerationStrictness: cfg.ModerationStrictness,
			MaxJobAttempts:       cfg.MaxJobAttempts,
		},
	)

	mailer := smtp.NewGoMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromAddress, cfg.FromDisplayName)
	sender := outboundapp.NewSender(
		letterRepo, replyRepo, recipientRepo, deedRepo, outboundRepo,
		mailer, llmClient, appLogger,
		outboundapp.SenderConfig{SafetyCheckEnabled: cfg.SafetyCheckEnabled},
	)

	retry := queueapp.RetryPolicy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		worker := queueapp.NewWorker(jobRepo, appLogger, cfg.WorkerPollInterval, claimBatchSize, cfg.LeaseDuration, retry)
		worker.Register(queuedomain.JobTypeProcessLetter, processor.HandleProcessLetter)
		worker.Register(queuedomain.JobTypeSendReply, sender.HandleSendReply)
		worker.Register(queuedomain.JobTypeSendDeedSuggestion, sender.HandleSendDeedSuggestion)
		worker.Register(queuedomain.JobTypeSendDeedCongrats, sender.HandleSendDeedCongrats)
		g.Go(func() error { return worker.Run(gctx) })
	}

	reclaimer := queueapp.NewReclaimer(jobRepo, appLogger, cfg.ReclaimInterval)
	g.Go(func() error { return reclaimer.Run(gctx) })

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
		appLogger.Error("Worker service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Worker service shut down successfully.")
}
