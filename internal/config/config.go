package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/warranty-intake/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Vapi    VapiConfig    `yaml:"vapi" mapstructure:"vapi"`
	Webhook WebhookConfig `yaml:"webhook" mapstructure:"webhook"`
	Intake  IntakeConfig  `yaml:"intake" mapstructure:"intake"`
	Notify  NotifyConfig  `yaml:"notify" mapstructure:"notify"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka" mapstructure:"kafka"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// VapiConfig holds the voice vendor's call-detail API settings.
type VapiConfig struct {
	APIKey        string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	FallbackDelay time.Duration `yaml:"fallback_delay" mapstructure:"fallback_delay"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`

	// Circuit breaker around the fallback call.
	BreakerFailures int           `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset"`
}

// WebhookConfig holds inbound webhook authentication settings.
type WebhookConfig struct {
	Secret       string `yaml:"secret" mapstructure:"secret"`
	SecretHeader string `yaml:"secret_header" mapstructure:"secret_header"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// IntakeConfig tunes the call intake pipeline.
type IntakeConfig struct {
	MinSimilarity     float64       `yaml:"min_similarity" mapstructure:"min_similarity"`
	DuplicateLookback time.Duration `yaml:"duplicate_lookback" mapstructure:"duplicate_lookback"`
	RequiredFields    []string      `yaml:"required_fields" mapstructure:"required_fields"`
	HomeownerCacheTTL time.Duration `yaml:"homeowner_cache_ttl" mapstructure:"homeowner_cache_ttl"`
	ClaimLockTTL      time.Duration `yaml:"claim_lock_ttl" mapstructure:"claim_lock_ttl"`
	MinIssueLength    int           `yaml:"min_issue_length" mapstructure:"min_issue_length"`
	FinalEventTypes   []string      `yaml:"final_event_types" mapstructure:"final_event_types"`
	// IntermediateEventTypes never finalize a call and skip the vendor fallback.
	IntermediateEventTypes []string      `yaml:"intermediate_event_types" mapstructure:"intermediate_event_types"`
	AutoClaimIntents       []string      `yaml:"auto_claim_intents" mapstructure:"auto_claim_intents"`
	ProcessingTimeout      time.Duration `yaml:"processing_timeout" mapstructure:"processing_timeout"`
}

// NotifyConfig configures outbound call notifications.
type NotifyConfig struct {
	Transport        string   `yaml:"transport" mapstructure:"transport"`
	WebhookURL       string   `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookToken     string   `yaml:"webhook_token" mapstructure:"webhook_token"`
	Recipients       []string `yaml:"recipients" mapstructure:"recipients"`
	DefaultRecipient string   `yaml:"default_recipient" mapstructure:"default_recipient"`
}

// RedisConfig configures the optional claim allocation lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// KafkaConfig configures the optional intake event stream.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WARRANTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("vapi.base_url", "https://api.vapi.ai")
	v.SetDefault("vapi.timeout", 10*time.Second)
	v.SetDefault("vapi.fallback_delay", 2*time.Second)
	v.SetDefault("vapi.rate_per_second", 5.0)
	v.SetDefault("vapi.breaker_failures", 5)
	v.SetDefault("vapi.breaker_reset", 30*time.Second)
	v.SetDefault("webhook.secret_header", "X-Vapi-Secret")
	v.SetDefault("webhook.max_body_bytes", 2<<20)
	v.SetDefault("intake.min_similarity", 0.4)
	v.SetDefault("intake.duplicate_lookback", 24*time.Hour)
	v.SetDefault("intake.required_fields", []string{"address", "issue", "intent"})
	v.SetDefault("intake.homeowner_cache_ttl", time.Minute)
	v.SetDefault("intake.claim_lock_ttl", 10*time.Second)
	v.SetDefault("intake.min_issue_length", 10)
	v.SetDefault("intake.final_event_types", []string{"end-of-call-report"})
	v.SetDefault("intake.intermediate_event_types", model.DefaultIntermediateEventTypes)
	v.SetDefault("intake.auto_claim_intents", []string{"new-issue", "emergency"})
	v.SetDefault("intake.processing_timeout", 30*time.Second)
	v.SetDefault("notify.transport", "log")
	v.SetDefault("notify.default_recipient", "warranty@example.com")
	v.SetDefault("kafka.topic", "warranty.intake")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the given command are present.
// Modes: "serve", "replay", "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "replay", "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if mode == "serve" {
		if c.Webhook.Secret == "" {
			errs = append(errs, "webhook.secret is required")
		}
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	}

	if mode == "serve" || mode == "replay" {
		switch c.Notify.Transport {
		case "webhook":
			if c.Notify.WebhookURL == "" {
				errs = append(errs, "notify.webhook_url is required for the webhook transport")
			}
		case "log":
		default:
			errs = append(errs, fmt.Sprintf("notify.transport %q is not supported", c.Notify.Transport))
		}
		if c.Intake.MinSimilarity < 0 || c.Intake.MinSimilarity > 1 {
			errs = append(errs, "intake.min_similarity must be between 0 and 1")
		}
		if c.Intake.DuplicateLookback < 0 {
			errs = append(errs, "intake.duplicate_lookback must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
