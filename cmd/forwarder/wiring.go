package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/admission"
	"github.com/mackka2k/tg-news-listener/internal/config"
	"github.com/mackka2k/tg-news-listener/internal/enrich"
	"github.com/mackka2k/tg-news-listener/internal/filter"
	"github.com/mackka2k/tg-news-listener/internal/integrations/paramstore"
	"github.com/mackka2k/tg-news-listener/internal/metrics"
	"github.com/mackka2k/tg-news-listener/internal/neardup"
	"github.com/mackka2k/tg-news-listener/internal/quota"
	"github.com/mackka2k/tg-news-listener/internal/ratelimit"
	"github.com/mackka2k/tg-news-listener/internal/repository"
	"github.com/mackka2k/tg-news-listener/internal/repository/clickhouse"
	"github.com/mackka2k/tg-news-listener/internal/repository/dynamo"
	"github.com/mackka2k/tg-news-listener/internal/repository/memory"
	"github.com/mackka2k/tg-news-listener/internal/transport"
	"github.com/mackka2k/tg-news-listener/internal/transport/telegram"
)

type secrets struct {
	botToken string
	aiAPIKey string
}

// resolveSecrets reads secrets from SSM when only a parameter name is configured
func resolveSecrets(ctx context.Context, cfg *config.Config, log *zap.Logger) (secrets, error) {
	needSSM := (cfg.Telegram.BotToken == "" && cfg.Telegram.BotTokenParam != "") ||
		(cfg.AI.Enabled && cfg.AI.APIKey == "" && cfg.AI.APIKeyParam != "")

	var getter paramstore.Getter
	if needSSM {
		client, err := paramstore.NewFromRegion(ctx, cfg.SQS.Region)
		if err != nil {
			return secrets{}, err
		}
		getter = client
		log.Info("Resolving secrets from SSM parameter store")
	}

	token, err := paramstore.Resolve(ctx, getter, cfg.Telegram.BotToken, cfg.Telegram.BotTokenParam)
	if err != nil {
		return secrets{}, fmt.Errorf("failed to resolve bot token: %w", err)
	}

	var apiKey string
	if cfg.AI.Enabled {
		apiKey, err = paramstore.Resolve(ctx, getter, cfg.AI.APIKey, cfg.AI.APIKeyParam)
		if err != nil {
			return secrets{}, fmt.Errorf("failed to resolve AI api key: %w", err)
		}
	}

	return secrets{botToken: token, aiAPIKey: apiKey}, nil
}

type storeHandle struct {
	repository.Store
	// janitor is set for backends without native expiry
	janitor *memory.Janitor
}

// openStore opens the configured backend and applies pending migrations
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storeHandle, error) {
	var handle storeHandle

	switch cfg.Service.StoreBackend {
	case config.BackendMemory:
		store := memory.NewStore(log)
		handle.Store = store
		handle.janitor = memory.NewJanitor(store, cfg.DynamoDB.Retention, cfg.Pipeline.PruneInterval, log)
		log.Warn("Using in-memory store; fingerprints and counters are lost on restart")
	default:
		store, err := dynamo.NewFromConfig(ctx, cfg.DynamoDB, cfg.DynamoDB.Retention, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create DynamoDB store: %w", err)
		}
		handle.Store = store
	}

	if err := handle.InitSchema(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	version, err := handle.CurrentSchemaVersion(ctx)
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	log.Info("Store schema initialized", zap.Int("version", version))

	return &handle, nil
}

// loadRules merges the environment term lists with the optional rules file
func loadRules(cfg *config.Config) (filter.Rules, error) {
	rules := filter.Rules{
		Keywords:      cfg.Filter.Keywords,
		SpamKeywords:  cfg.Filter.SpamKeywords,
		StripPatterns: cfg.Filter.StripPatterns,
	}
	if cfg.Filter.RulesPath != "" {
		fileRules, err := filter.LoadRules(cfg.Filter.RulesPath)
		if err != nil {
			return filter.Rules{}, err
		}
		rules = rules.Merge(fileRules)
	}
	if len(rules.StripPatterns) == 0 {
		rules.StripPatterns = filter.DefaultStripPatterns
	}
	return rules, nil
}

func buildSender(cfg *config.Config, token string, log *zap.Logger) (transport.Sender, error) {
	if cfg.Telegram.DryRun {
		log.Warn("Dry run enabled; messages are logged instead of sent")
		return transport.NewLogSender(log), nil
	}
	return telegram.NewClient(token,
		telegram.WithBaseURL(cfg.Telegram.BaseURL),
		telegram.WithHTTPClient(&http.Client{Timeout: cfg.Telegram.Timeout}),
		telegram.WithoutLinkPreview(),
		telegram.WithLogger(log),
	)
}

func buildEnricher(ctx context.Context, cfg *config.Config, rules filter.Rules, apiKey string, log *zap.Logger) (enrich.Enricher, error) {
	ruleTagger := enrich.NewRuleTagger(rules.Tags, rules.DefaultTag)
	if !cfg.AI.Enabled {
		return enrich.NewFallback(nil, ruleTagger, 0, log), nil
	}

	chatModel, err := enrich.NewArkModel(ctx, enrich.ArkConfig{
		APIKey:  apiKey,
		Model:   cfg.AI.Model,
		BaseURL: cfg.AI.BaseURL,
		Region:  cfg.AI.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	log.Info("AI tagging enabled", zap.String("model", cfg.AI.Model))

	return enrich.NewFallback(enrich.NewLLMTagger(chatModel), ruleTagger, cfg.AI.Timeout, log), nil
}

func buildLimiter(cfg *config.Config) (*ratelimit.Chain, error) {
	var buckets []*ratelimit.Bucket
	for _, c := range []ratelimit.Config{
		ratelimit.PerInterval("minute", cfg.RateLimit.PerMinute, time.Minute),
		ratelimit.PerInterval("hour", cfg.RateLimit.PerHour, time.Hour),
	} {
		b, err := ratelimit.NewBucket(c)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s rate limit: %w", c.Name, err)
		}
		buckets = append(buckets, b)
	}
	return ratelimit.NewChain(buckets...), nil
}

// buildOrchestrator wires the admission stages over the store
func buildOrchestrator(ctx context.Context, cfg *config.Config, store repository.Store, s secrets, m *metrics.Metrics, log *zap.Logger) (*admission.Orchestrator, *quota.Ledger, error) {
	location, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	ledger, err := quota.NewLedger(store, cfg.Quota.DailyLimit, location)
	if err != nil {
		return nil, nil, err
	}

	rules, err := loadRules(cfg)
	if err != nil {
		return nil, nil, err
	}
	contentFilter := filter.NewFromRules(rules)
	log.Info("Content filter loaded",
		zap.Int("keywords", len(rules.Keywords)),
		zap.Int("spam_keywords", len(rules.SpamKeywords)),
		zap.Bool("keywords_enabled", contentFilter.KeywordsEnabled()))

	limiter, err := buildLimiter(cfg)
	if err != nil {
		return nil, nil, err
	}

	sender, err := buildSender(cfg, s.botToken, log)
	if err != nil {
		return nil, nil, err
	}

	enricher, err := buildEnricher(ctx, cfg, rules, s.aiAPIKey, log)
	if err != nil {
		return nil, nil, err
	}

	orchestrator, err := admission.New(admission.Config{
		TargetID:     cfg.Telegram.TargetChannel,
		MaxTextRunes: cfg.Pipeline.MaxTextRunes,
		Retry: admission.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Factor:      cfg.Retry.Factor,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		CommitAttempts:          cfg.Pipeline.CommitAttempts,
		CommitBackoff:           cfg.Pipeline.CommitBackoff,
		RefundOnFatal:           cfg.Quota.RefundOnFatal,
		StorageFailureThreshold: cfg.Pipeline.StorageFailureThreshold,
	}, admission.Deps{
		Fingerprints: store,
		Ledger:       ledger,
		Index: neardup.New(neardup.Config{
			Threshold:  cfg.NearDup.Threshold,
			Window:     cfg.NearDup.Window,
			MaxEntries: cfg.NearDup.MaxEntries,
			MinLength:  cfg.NearDup.MinLength,
		}),
		Filter:   contentFilter,
		Limiter:  limiter,
		Sender:   sender,
		Enricher: enricher,
		Metrics:  m,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	today, err := ledger.Today(ctx, time.Now())
	if err != nil {
		log.Warn("Failed to read today's counter", zap.Error(err))
	} else {
		m.SetDaily(today, ledger.Limit())
		log.Info("Daily budget", zap.Int("used", today), zap.Int("limit", ledger.Limit()))
	}

	return orchestrator, ledger, nil
}

// openOutcomeLog connects the optional ClickHouse audit log
func openOutcomeLog(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.OutcomeRepository, func(), error) {
	if !cfg.ClickHouse.Enabled {
		log.Info("Outcome audit log disabled")
		return nil, func() {}, nil
	}

	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}

	repo := clickhouse.NewRepository(chClient, log)
	if err := repo.InitSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, fmt.Errorf("failed to initialize outcome schema: %w", err)
	}

	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}, nil
}
