package service

import (
	"context"

	"github.com/mackka2k/tg-news-listener/internal/dto"
)

// IngestServicer defines the interface for inbound message and audit operations
type IngestServicer interface {
	PublishMessage(ctx context.Context, req *dto.PublishMessageRequest) (string, error)
	PublishBulkMessages(ctx context.Context, reqs []dto.PublishMessageRequest) ([]string, []string, error)
	GetOutcomeMetrics(ctx context.Context, req *dto.GetOutcomeMetricsRequest) (*dto.GetOutcomeMetricsResponse, error)
}

// StatsServicer defines the interface for operator read paths
type StatsServicer interface {
	Stats(ctx context.Context) (*dto.StatsResponse, error)
	Ready(ctx context.Context) error
}
