package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store backends
const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// MinRetention is the floor of fingerprint retention
const MinRetention = 24 * time.Hour

type Config struct {
	Service    Service    `envconfig:"SERVICE"`
	SQS        SQS        `envconfig:"SQS"`
	DynamoDB   DynamoDB   `envconfig:"DYNAMODB"`
	ClickHouse ClickHouse `envconfig:"CLICKHOUSE"`
	Pipeline   Pipeline   `envconfig:"PIPELINE"`
	Filter     Filter     `envconfig:"FILTER"`
	NearDup    NearDup    `envconfig:"NEARDUP"`
	Quota      Quota      `envconfig:"QUOTA"`
	RateLimit  RateLimit  `envconfig:"RATELIMIT"`
	Retry      Retry      `envconfig:"RETRY"`
	Telegram   Telegram   `envconfig:"TELEGRAM"`
	AI         AI         `envconfig:"AI"`
}

type Service struct {
	Environment   string        `envconfig:"ENVIRONMENT" required:"true"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:""`
	APIPort       string        `envconfig:"API_PORT" default:"8080"`
	StoreBackend  string        `envconfig:"STORE_BACKEND" default:"dynamodb"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"30s"`
}

type SQS struct {
	Endpoint          string `envconfig:"ENDPOINT"`
	QueueURL          string `envconfig:"QUEUE_URL" required:"true"`
	Region            string `envconfig:"REGION" required:"true"`
	MaxMessages       int32  `envconfig:"MAX_MESSAGES" default:"10"`
	WaitTimeSeconds   int32  `envconfig:"WAIT_TIME_SECONDS" default:"20"`
	NackVisibilitySec int32  `envconfig:"NACK_VISIBILITY_SEC" default:"0"`
}

type DynamoDB struct {
	Endpoint  string        `envconfig:"ENDPOINT"`
	Region    string        `envconfig:"REGION"`
	Table     string        `envconfig:"TABLE" default:"tg-news-listener"`
	Retention time.Duration `envconfig:"RETENTION" default:"72h"`
}

type ClickHouse struct {
	Enabled         bool   `envconfig:"ENABLED" default:"false"`
	Host            string `envconfig:"HOST" default:"localhost"`
	Port            string `envconfig:"PORT" default:"9000"`
	Database        string `envconfig:"DB" default:"default"`
	User            string `envconfig:"USER" default:""`
	Password        string `envconfig:"PASSWORD" default:""`
	UseTLS          bool   `envconfig:"USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"3600"`
}

type Pipeline struct {
	Workers                 int           `envconfig:"WORKERS" default:"4"`
	BufferSize              int           `envconfig:"BUFFER_SIZE" default:"100"`
	StorageFailureThreshold int           `envconfig:"STORAGE_FAILURE_THRESHOLD" default:"5"`
	OutcomeBatchSize        int           `envconfig:"OUTCOME_BATCH_SIZE" default:"100"`
	OutcomeFlushInterval    time.Duration `envconfig:"OUTCOME_FLUSH_INTERVAL" default:"5s"`
	MaxTextRunes            int           `envconfig:"MAX_TEXT_RUNES" default:"4096"`
	PruneInterval           time.Duration `envconfig:"PRUNE_INTERVAL" default:"1h"`
	CommitAttempts          int           `envconfig:"COMMIT_ATTEMPTS" default:"3"`
	CommitBackoff           time.Duration `envconfig:"COMMIT_BACKOFF" default:"200ms"`
}

type Filter struct {
	Keywords      []string `envconfig:"KEYWORDS"`
	SpamKeywords  []string `envconfig:"SPAM_KEYWORDS"`
	StripPatterns []string `envconfig:"STRIP_PATTERNS"`
	RulesPath     string   `envconfig:"RULES_PATH"`
}

type NearDup struct {
	Threshold  float64       `envconfig:"THRESHOLD" default:"0.85"`
	Window     time.Duration `envconfig:"WINDOW" default:"24h"`
	MaxEntries int           `envconfig:"MAX_ENTRIES" default:"1000"`
	MinLength  int           `envconfig:"MIN_LENGTH" default:"50"`
}

type Quota struct {
	DailyLimit    int    `envconfig:"DAILY_LIMIT" default:"500"`
	Timezone      string `envconfig:"TIMEZONE" default:"Local"`
	RefundOnFatal bool   `envconfig:"REFUND_ON_FATAL" default:"false"`
}

type RateLimit struct {
	PerMinute int `envconfig:"PER_MINUTE" default:"20"`
	PerHour   int `envconfig:"PER_HOUR" default:"100"`
}

type Retry struct {
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" default:"1s"`
	Factor      float64       `envconfig:"FACTOR" default:"2"`
	MaxDelay    time.Duration `envconfig:"MAX_DELAY" default:"1m"`
}

type Telegram struct {
	BotToken      string        `envconfig:"BOT_TOKEN"`
	BotTokenParam string        `envconfig:"BOT_TOKEN_PARAM"`
	TargetChannel string        `envconfig:"TARGET_CHANNEL"`
	BaseURL       string        `envconfig:"BASE_URL" default:"https://api.telegram.org"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"15s"`
	DryRun        bool          `envconfig:"DRY_RUN" default:"false"`
}

type AI struct {
	Enabled     bool          `envconfig:"ENABLED" default:"false"`
	APIKey      string        `envconfig:"API_KEY"`
	APIKeyParam string        `envconfig:"API_KEY_PARAM"`
	Model       string        `envconfig:"MODEL"`
	BaseURL     string        `envconfig:"BASE_URL"`
	Region      string        `envconfig:"REGION"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

// Load reads the configuration of the forwarder process
func Load() (*Config, error) {
	return load((*Config).Validate)
}

// LoadIngest reads the configuration of the ingest API process, which only
// needs the service, queue and audit log settings
func LoadIngest() (*Config, error) {
	return load(func(*Config) error { return nil })
}

// load reads an optional .env file and processes the environment
func load(validate func(*Config) error) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express
func (c *Config) Validate() error {
	var errs []error

	switch c.Service.StoreBackend {
	case BackendDynamoDB, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("SERVICE_STORE_BACKEND must be %q or %q, got %q",
			BackendDynamoDB, BackendMemory, c.Service.StoreBackend))
	}

	if floor := c.MinRetention(); c.DynamoDB.Retention < floor {
		errs = append(errs, fmt.Errorf("DYNAMODB_RETENTION %s must be at least %s", c.DynamoDB.Retention, floor))
	}

	if c.Pipeline.Workers <= 0 {
		errs = append(errs, errors.New("PIPELINE_WORKERS must be positive"))
	}
	if c.Pipeline.BufferSize <= 0 {
		errs = append(errs, errors.New("PIPELINE_BUFFER_SIZE must be positive"))
	}
	if c.Pipeline.OutcomeBatchSize <= 0 {
		errs = append(errs, errors.New("PIPELINE_OUTCOME_BATCH_SIZE must be positive"))
	}
	if c.Pipeline.OutcomeFlushInterval <= 0 {
		errs = append(errs, errors.New("PIPELINE_OUTCOME_FLUSH_INTERVAL must be positive"))
	}
	if c.Pipeline.CommitAttempts <= 0 {
		errs = append(errs, errors.New("PIPELINE_COMMIT_ATTEMPTS must be positive"))
	}
	if c.Pipeline.CommitBackoff < 0 {
		errs = append(errs, errors.New("PIPELINE_COMMIT_BACKOFF must not be negative"))
	}

	if c.NearDup.Threshold <= 0 || c.NearDup.Threshold > 1 {
		errs = append(errs, fmt.Errorf("NEARDUP_THRESHOLD must be in (0, 1], got %v", c.NearDup.Threshold))
	}
	if c.NearDup.Window <= 0 {
		errs = append(errs, errors.New("NEARDUP_WINDOW must be positive"))
	}

	if c.Quota.DailyLimit <= 0 {
		errs = append(errs, errors.New("QUOTA_DAILY_LIMIT must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	if c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0 {
		errs = append(errs, errors.New("RATELIMIT_PER_MINUTE and RATELIMIT_PER_HOUR must be positive"))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be positive"))
	}

	if strings.TrimSpace(c.Telegram.TargetChannel) == "" {
		errs = append(errs, errors.New("TELEGRAM_TARGET_CHANNEL is required"))
	}
	if !c.Telegram.DryRun && c.Telegram.BotToken == "" && c.Telegram.BotTokenParam == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN or TELEGRAM_BOT_TOKEN_PARAM is required unless TELEGRAM_DRY_RUN is set"))
	}

	if c.AI.Enabled {
		if c.AI.Model == "" {
			errs = append(errs, errors.New("AI_MODEL is required when AI_ENABLED is set"))
		}
		if c.AI.APIKey == "" && c.AI.APIKeyParam == "" {
			errs = append(errs, errors.New("AI_API_KEY or AI_API_KEY_PARAM is required when AI_ENABLED is set"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// MinRetention returns the smallest fingerprint retention the near-duplicate
// window allows
func (c *Config) MinRetention() time.Duration {
	if c.NearDup.Window > MinRetention {
		return c.NearDup.Window
	}
	return MinRetention
}

// Location returns the timezone of daily counters
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("QUOTA_TIMEZONE %q: %w", c.Quota.Timezone, err)
	}
	return loc, nil
}
