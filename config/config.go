// Package config loads process configuration from the environment and the
// workflow definition file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// Config holds every environment setting the workflow service reads.
type Config struct {
	Environment string `env:"ENVIRONMENT,default=development" validate:"required"`
	ServiceName string `env:"SERVICE_NAME,default=license-workflow"`
	LogLevel    string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error"`

	Store       string `env:"WORKFLOW_STORE,default=memory" validate:"oneof=memory redis postgres"`
	Coordinator string `env:"WORKFLOW_COORDINATOR,default=memory" validate:"oneof=memory redis"`
	// Definition is an optional YAML file overriding the built-in catalog,
	// hierarchy and users.
	Definition     string        `env:"WORKFLOW_DEFINITION"`
	DebounceWindow time.Duration `env:"DEBOUNCE_WINDOW,default=0s" validate:"gte=0"`

	Redis       RedisConfig
	Postgres    PostgresConfig
	Attachments AttachmentConfig
}

type RedisConfig struct {
	Addr      string        `env:"REDIS_ADDR,default=localhost:6379"`
	Password  string        `env:"REDIS_PASSWORD"`
	DB        int           `env:"REDIS_DB,default=0" validate:"gte=0"`
	PoolSize  int           `env:"REDIS_POOL_SIZE,default=10" validate:"gte=1"`
	Prefix    string        `env:"REDIS_PREFIX,default=license-workflow:"`
	LockTTL   time.Duration `env:"COORDINATOR_LOCK_TTL,default=0s" validate:"gte=0"`
	Retention time.Duration `env:"COORDINATOR_RETENTION,default=1m" validate:"gte=0"`
}

type PostgresConfig struct {
	DSN          string `env:"POSTGRES_DSN"`
	MaxOpenConns int    `env:"POSTGRES_MAX_OPEN_CONNS,default=10" validate:"gte=1"`
	MaxIdleConns int    `env:"POSTGRES_MAX_IDLE_CONNS,default=5" validate:"gte=0"`
	Migrate      bool   `env:"POSTGRES_MIGRATE,default=true"`
}

type AttachmentConfig struct {
	Backend            string `env:"ATTACHMENT_STORE,default=memory" validate:"oneof=memory s3"`
	BaseURL            string `env:"ATTACHMENT_BASE_URL,default=mem://attachments"`
	MaxSize            int64  `env:"ATTACHMENT_MAX_SIZE,default=10485760" validate:"gte=0"`
	S3Bucket           string `env:"S3_BUCKET" validate:"required_if=Backend s3"`
	S3Prefix           string `env:"S3_PREFIX,default=attachments"`
	AWSRegion          string `env:"AWS_REGION,default=us-east-1"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

// Load reads optional .env files (default ".env"), then decodes and
// validates the environment. Variables already set win over .env values.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the combinations between them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store == "postgres" && c.Postgres.DSN == "" {
		return errors.New("invalid configuration: POSTGRES_DSN is required when WORKFLOW_STORE=postgres")
	}
	if c.Coordinator == "redis" && c.DebounceWindow > c.Redis.EffectiveRetention() {
		return fmt.Errorf("invalid configuration: COORDINATOR_RETENTION (%s) must cover DEBOUNCE_WINDOW (%s)",
			c.Redis.EffectiveRetention(), c.DebounceWindow)
	}
	return nil
}

// EffectiveRetention is the completion retention the Redis coordinator
// applies; zero selects its one minute default.
func (r RedisConfig) EffectiveRetention() time.Duration {
	if r.Retention <= 0 {
		return time.Minute
	}
	return r.Retention
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Store == "redis" || c.Coordinator == "redis"
}

// NewLogger builds the process logger: console output in development, JSON
// elsewhere.
func NewLogger(c *Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.Environment == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", c.ServiceName).
		Str("environment", c.Environment).
		Logger()
}
