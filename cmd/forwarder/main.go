package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/admission"
	"github.com/mackka2k/tg-news-listener/internal/config"
	"github.com/mackka2k/tg-news-listener/internal/consumer"
	"github.com/mackka2k/tg-news-listener/internal/handler"
	"github.com/mackka2k/tg-news-listener/internal/logger"
	"github.com/mackka2k/tg-news-listener/internal/metrics"
	"github.com/mackka2k/tg-news-listener/internal/queue/sqs"
	"github.com/mackka2k/tg-news-listener/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, cfg.Service.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	if err := run(cfg, log); err != nil {
		log.Error("Forwarder stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting forwarder service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("store_backend", cfg.Service.StoreBackend),
		zap.String("target", cfg.Telegram.TargetChannel),
		zap.Bool("dry_run", cfg.Telegram.DryRun))

	ctx := context.Background()
	m := metrics.New()

	creds, err := resolveSecrets(ctx, cfg, log)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}()

	orchestrator, ledger, err := buildOrchestrator(ctx, cfg, store.Store, creds, m, log)
	if err != nil {
		return err
	}

	outcomes, closeOutcomes, err := openOutcomeLog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeOutcomes()

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		return fmt.Errorf("failed to create SQS client: %w", err)
	}

	c := consumer.NewConsumer(cfg, sqsClient, orchestrator, outcomes, log)

	// Start ops endpoint
	stats := service.NewStatsService(store.Store, store.Store, ledger, orchestrator.Halted, log)
	opsServer := &http.Server{
		Addr:              ":" + cfg.Service.APIPort,
		Handler:           handler.NewOpsHandler(stats, m.Handler(), log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Ops server starting", zap.String("address", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Ops server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shut down ops server", zap.Error(err))
		}
	}()

	// Start consumer
	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if store.janitor != nil {
		go store.janitor.Start(consumerCtx)
	}

	log.Info("Consumer starting")

	done := make(chan error, 1)
	go func() {
		done <- c.Start(consumerCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Shutting down forwarder gracefully", zap.String("signal", sig.String()))
		cancel()
		err = <-done
	case err = <-done:
	}

	if unrecorded := orchestrator.Unrecorded(); len(unrecorded) > 0 {
		fps := make([]string, 0, len(unrecorded))
		for _, fp := range unrecorded {
			fps = append(fps, fp.String())
		}
		log.Error("Messages were sent but never recorded; check the channel for duplicates",
			zap.Strings("fingerprints", fps))
	}

	if errors.Is(err, admission.ErrHalted) {
		return fmt.Errorf("admission halted after repeated storage failures: %w", err)
	}
	return err
}
