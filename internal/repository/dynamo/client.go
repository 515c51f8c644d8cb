package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/config"
)

// NewFromConfig builds a DynamoDB client and wraps it in a Store
func NewFromConfig(ctx context.Context, cfg config.DynamoDB, retention time.Duration, log *zap.Logger) (*Store, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))
	}

	var clientOpts []func(*dynamodb.Options)

	// Configure for local development with DynamoDB Local
	if cfg.Endpoint != "" {
		log.Info("Configuring DynamoDB for local development",
			zap.String("endpoint", cfg.Endpoint))
		configOpts = append(configOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("DynamoDB client created",
		zap.String("region", awsCfg.Region),
		zap.String("table", cfg.Table),
		zap.Duration("retention", retention))

	return New(dynamodb.NewFromConfig(awsCfg, clientOpts...), cfg.Table, retention, log)
}
