package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/config"
	"github.com/mackka2k/tg-news-listener/internal/handler"
	"github.com/mackka2k/tg-news-listener/internal/logger"
	"github.com/mackka2k/tg-news-listener/internal/queue/sqs"
	"github.com/mackka2k/tg-news-listener/internal/repository"
	"github.com/mackka2k/tg-news-listener/internal/repository/clickhouse"
	"github.com/mackka2k/tg-news-listener/internal/service"
)

func main() {
	cfg, err := config.LoadIngest()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, cfg.Service.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting ingest API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	ctx := context.Background()

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	// Initialize the optional outcome audit log
	var repo repository.OutcomeRepository
	if cfg.ClickHouse.Enabled {
		clickhouseClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
		if err != nil {
			log.Fatal("Failed to create ClickHouse client", zap.Error(err))
		}
		defer func(clickhouseClient *clickhouse.Client) {
			if err := clickhouseClient.Close(); err != nil {
				log.Error("Failed to close ClickHouse client", zap.Error(err))
			}
		}(clickhouseClient)

		repo = clickhouse.NewRepository(clickhouseClient, log)
	}

	// Initialize ingest service
	ingestService := service.NewIngestService(sqsClient, repo, log)

	// Initialize handler
	h := handler.NewHandler(ingestService, log)

	addr := fmt.Sprintf(":%s", cfg.Service.APIPort)
	log.Info("API server starting", zap.String("address", addr))

	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("Failed to start API server", zap.Error(err))
	}
}
