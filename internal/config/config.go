package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the whole service configuration, read from the environment.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Service  string `env:"SERVICE_NAME" envDefault:"campaign-mailer"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DB    DBConfig
	AMQP  AMQPConfig
	Redis RedisConfig
	Mail  MailConfig

	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	WebhookMaxAge time.Duration `env:"WEBHOOK_MAX_AGE" envDefault:"5m"`
	LinkSecret    string        `env:"LINK_SECRET"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL"`
	CronSecret    string        `env:"CRON_SECRET"`

	Pipeline PipelineConfig
	Breaker  BreakerConfig
	Schedule ScheduleConfig
}

type DBConfig struct {
	URL             string        `env:"DATABASE_URL"`
	User            string        `env:"DB_USER"`
	Password        string        `env:"DB_PASSWORD"`
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            string        `env:"DB_PORT" envDefault:"5432"`
	Name            string        `env:"DB_NAME"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	MigrationsTable string        `env:"DB_MIGRATIONS_TABLE" envDefault:"schema_migrations"`
}

// DSN returns DATABASE_URL when set, otherwise builds one from the parts.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type AMQPConfig struct {
	URL      string `env:"AMQP_URL"`
	Queue    string `env:"AMQP_QUEUE" envDefault:"mailer_jobs"`
	Prefetch int    `env:"AMQP_PREFETCH" envDefault:"1"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type MailConfig struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	MessageStream        string `env:"POSTMARK_MESSAGE_STREAM" envDefault:"broadcast"`
	DevMailDir           string `env:"DEV_MAIL_DIR" envDefault:"./tmp/mail"`
	DefaultFrom          string `env:"DEFAULT_FROM_EMAIL" envDefault:"noreply@example.com"`
}

type PipelineConfig struct {
	BatchSize        int           `env:"BATCH_SIZE" envDefault:"100"`
	BatchConcurrency int           `env:"BATCH_CONCURRENCY" envDefault:"10"`
	MaxRetries       int           `env:"MAX_RETRIES" envDefault:"5"`
	RetentionDays    int           `env:"RETENTION_DAYS" envDefault:"90"`
	RateLimitDelay   time.Duration `env:"RATE_LIMIT_DELAY" envDefault:"15m"`
	DispatchTimeout  time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"30s"`
	StaleClaimAfter  time.Duration `env:"STALE_CLAIM_AFTER" envDefault:"15m"`
	Timezone         string        `env:"RATE_LIMIT_TIMEZONE" envDefault:"UTC"`
}

// Location resolves the timezone used to align rate windows.
func (c PipelineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

type BreakerConfig struct {
	Enabled          bool          `env:"BREAKER_ENABLED" envDefault:"true"`
	MinRequests      uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"10"`
	FailureThreshold uint32        `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	HalfOpenMax      uint32        `env:"BREAKER_HALF_OPEN_MAX" envDefault:"1"`
	Interval         time.Duration `env:"BREAKER_INTERVAL" envDefault:"1m"`
	RecoveryTime     time.Duration `env:"BREAKER_RECOVERY_TIME" envDefault:"30s"`
}

type ScheduleConfig struct {
	ProcessEvery time.Duration `env:"SCHEDULE_PROCESS_EVERY" envDefault:"1m"`
	RetryEvery   time.Duration `env:"SCHEDULE_RETRY_EVERY" envDefault:"10m"`
	CleanupEvery time.Duration `env:"SCHEDULE_CLEANUP_EVERY" envDefault:"24h"`
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}
	return Parse()
}

// Parse reads the process environment without touching .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.BatchSize <= 0:
		return fmt.Errorf("%w: BATCH_SIZE must be positive", ErrInvalidConfig)
	case p.BatchConcurrency <= 0:
		return fmt.Errorf("%w: BATCH_CONCURRENCY must be positive", ErrInvalidConfig)
	case p.MaxRetries < 1:
		return fmt.Errorf("%w: MAX_RETRIES must be at least 1", ErrInvalidConfig)
	case p.DispatchTimeout <= 0:
		return fmt.Errorf("%w: DISPATCH_TIMEOUT must be positive", ErrInvalidConfig)
	case p.StaleClaimAfter <= p.DispatchTimeout:
		return fmt.Errorf("%w: STALE_CLAIM_AFTER must exceed DISPATCH_TIMEOUT", ErrInvalidConfig)
	}
	if _, err := p.Location(); err != nil {
		return fmt.Errorf("%w: RATE_LIMIT_TIMEZONE: %v", ErrInvalidConfig, err)
	}
	if c.DB.URL == "" && c.DB.Name == "" {
		return fmt.Errorf("%w: DATABASE_URL or DB_NAME is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
