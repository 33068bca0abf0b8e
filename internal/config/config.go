package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	WhatsAppAPIURL        string `env:"WHATSAPP_API_URL,default=https://graph.facebook.com/v21.0"`
	WhatsAppPhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID,required=true"`
	WhatsAppAccessToken   string `env:"WHATSAPP_ACCESS_TOKEN,required=true"`
	TemplateLanguage      string `env:"TEMPLATE_LANGUAGE,default=en"`
	PublicBaseURL         string `env:"PUBLIC_BASE_URL,required=true"`

	BatchSize           int   `env:"BATCH_SIZE,default=50"`
	CostPerMessageCents int64 `env:"COST_PER_MESSAGE_CENTS,default=65"`
	RateLimitPerSec     int   `env:"RATE_LIMIT_PER_SEC,default=80"`
	BatchStaggerPerSec  int   `env:"BATCH_STAGGER_PER_SEC,default=5"`
	WorkerConcurrency   int   `env:"WORKER_CONCURRENCY,default=4"`

	SweepSchedule  string        `env:"SWEEP_SCHEDULE,default=@every 5m"`
	SweepCooldown  time.Duration `env:"SWEEP_COOLDOWN,default=10m"`
	DeadBatchAfter time.Duration `env:"DEAD_BATCH_AFTER,default=15m"`

	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	ActivityTTL    time.Duration `env:"ACTIVITY_TTL,default=72h"`

	APIPort           int    `env:"API_PORT,default=8080"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9090"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("failed to load config: BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.APIPort == cfg.WorkerMetricsPort {
		return nil, fmt.Errorf("failed to load config: API_PORT and WORKER_METRICS_PORT must differ")
	}
	if cfg.CostPerMessageCents < 0 {
		return nil, fmt.Errorf("failed to load config: COST_PER_MESSAGE_CENTS must not be negative")
	}
	return &cfg, nil
}
