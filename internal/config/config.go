package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EventsNone  = "none"
	EventsKafka = "kafka"
	EventsSQS   = "sqs"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	EventsBackend string   `mapstructure:"EVENTS_BACKEND"`
	KafkaBrokers  []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string   `mapstructure:"KAFKA_TOPIC"`
	SQSQueueURL   string   `mapstructure:"SQS_QUEUE_URL"`

	AttachmentBucket  string        `mapstructure:"ATTACHMENT_BUCKET"`
	MessageEditWindow time.Duration `mapstructure:"MESSAGE_EDIT_WINDOW"`
	MetricsEnabled    bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"EVENTS_BACKEND", "KAFKA_BROKERS", "KAFKA_TOPIC", "SQS_QUEUE_URL",
	"ATTACHMENT_BUCKET", "MESSAGE_EDIT_WINDOW", "METRICS_ENABLED",
}

// Load reads .env (if present) and the environment. It does not validate;
// call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_SCHEMA", "consult")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("EVENTS_BACKEND", EventsNone)
	v.SetDefault("KAFKA_TOPIC", "consult.events")
	v.SetDefault("MESSAGE_EDIT_WINDOW", "24h")
	v.SetDefault("METRICS_ENABLED", true)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.EventsBackend = strings.ToLower(strings.TrimSpace(cfg.EventsBackend))
	return cfg, nil
}

// splitList accepts both a parsed slice and a single comma-separated entry.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DevAuth reports whether raw user ids are accepted as bearer tokens. Only
// development without any token configuration runs this way.
func (c *Config) DevAuth() bool {
	return c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == ""
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes")
	}
	if c.DBMinConns < 0 || c.DBMaxConns <= 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are inconsistent", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.MessageEditWindow <= 0 {
		return fmt.Errorf("MESSAGE_EDIT_WINDOW must be positive, got %s", c.MessageEditWindow)
	}

	switch c.EventsBackend {
	case EventsNone, "":
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required when EVENTS_BACKEND=kafka")
		}
	case EventsSQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when EVENTS_BACKEND=sqs")
		}
	default:
		return fmt.Errorf("EVENTS_BACKEND must be none, kafka or sqs, got %q", c.EventsBackend)
	}
	return nil
}
