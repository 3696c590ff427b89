package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr        string `env:"APP_ADDR" envDefault:":8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"payrollx"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"payrollx.db"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	JWTSecret          string `env:"JWT_SECRET"`
	CallbackTokenHash  string `env:"CALLBACK_TOKEN_HASH"`
	MaxBodyBytes       int64  `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	MetricsEnabled     bool   `env:"METRICS_ENABLED" envDefault:"true"`

	LeaseBackend  string `env:"LEASE_BACKEND" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers           []string `env:"KAFKA_BROKERS" envSeparator:","`
	EventsTopic            string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"payroll.events"`
	ResultsTopic           string   `env:"KAFKA_RESULTS_TOPIC" envDefault:"transaction.results"`
	ResultsGroup           string   `env:"KAFKA_RESULTS_GROUP" envDefault:"payrollx-results"`
	ResultsConsumerEnabled bool     `env:"KAFKA_RESULTS_ENABLED" envDefault:"false"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	MaxRetries           int           `env:"PAYROLL_MAX_RETRIES" envDefault:"3"`
	CallTimeout          time.Duration `env:"PAYROLL_CALL_TIMEOUT" envDefault:"10s"`
	LeaseTTL             time.Duration `env:"PAYROLL_LEASE_TTL" envDefault:"2m"`
	ConflictRetries      int           `env:"PAYROLL_CONFLICT_RETRIES" envDefault:"5"`
	DispatchConcurrency  int           `env:"PAYROLL_DISPATCH_CONCURRENCY" envDefault:"8"`
	RunTriggerInterval   time.Duration `env:"PAYROLL_RUN_INTERVAL" envDefault:"1m"`
	RetryTriggerInterval time.Duration `env:"PAYROLL_RETRY_INTERVAL" envDefault:"5m"`
	SchedulerConcurrency int           `env:"PAYROLL_SCHEDULER_CONCURRENCY" envDefault:"4"`
	SchedulerBatchSize   int           `env:"PAYROLL_SCHEDULER_BATCH" envDefault:"100"`

	ServicesFile   string `env:"SERVICES_FILE" envDefault:"config/services.yaml"`
	DirectoryURL   string `env:"DIRECTORY_SERVICE_URL"`
	WalletURL      string `env:"WALLET_SERVICE_URL"`
	TransactionURL string `env:"TRANSACTION_SERVICE_URL"`

	// Endpoints is resolved once by Load from ServicesFile and the URL
	// overrides above.
	Endpoints Endpoints `env:"-"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	endpoints, err := ResolveEndpoints(cfg.ServicesFile, cfg.Environment)
	if err != nil {
		return Config{}, err
	}
	cfg.Endpoints = endpoints.Override(Endpoints{
		Directory:   cfg.DirectoryURL,
		Wallet:      cfg.WalletURL,
		Transaction: cfg.TransactionURL,
	})
	return cfg, nil
}

func (c Config) Production() bool {
	return c.Environment == "production"
}

func (c Config) Validate() error {
	switch c.StorageDriver {
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage driver")
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite storage driver")
		}
	case "memory":
		if c.Production() {
			return fmt.Errorf("the memory storage driver cannot be used in production")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be postgres, sqlite or memory")
	}
	switch c.LeaseBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis lease backend")
		}
	default:
		return fmt.Errorf("LEASE_BACKEND must be memory or redis")
	}
	if c.Production() {
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if strings.TrimSpace(c.CallbackTokenHash) == "" {
			return fmt.Errorf("CALLBACK_TOKEN_HASH must be set in production")
		}
		if c.LeaseBackend != "redis" {
			return fmt.Errorf("LEASE_BACKEND must be redis in production")
		}
	}
	if c.ResultsConsumerEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must be set when KAFKA_RESULTS_ENABLED is true")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("PAYROLL_MAX_RETRIES must be at least 1")
	}
	if c.CallTimeout <= 0 || c.LeaseTTL <= 0 {
		return fmt.Errorf("PAYROLL_CALL_TIMEOUT and PAYROLL_LEASE_TTL must be positive")
	}
	if c.LeaseTTL <= c.CallTimeout {
		return fmt.Errorf("PAYROLL_LEASE_TTL must exceed PAYROLL_CALL_TIMEOUT")
	}
	if c.ConflictRetries < 1 || c.DispatchConcurrency < 1 || c.SchedulerConcurrency < 1 || c.SchedulerBatchSize < 1 {
		return fmt.Errorf("payroll concurrency, batch and conflict settings must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return c.Endpoints.Validate()
}
