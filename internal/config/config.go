// Package config loads and validates application configuration.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Massive   MassiveConfig   `yaml:"massive" mapstructure:"massive"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// MassiveConfig holds news provider API settings.
type MassiveConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PipelineConfig configures the ingestion pipeline behavior.
type PipelineConfig struct {
	ExtractConcurrency   int    `yaml:"extract_concurrency" mapstructure:"extract_concurrency"`
	ClassifyConcurrency  int    `yaml:"classify_concurrency" mapstructure:"classify_concurrency"`
	ExtractTimeoutMs     int    `yaml:"extract_timeout_ms" mapstructure:"extract_timeout_ms"`
	MinWordCount         int    `yaml:"min_word_count" mapstructure:"min_word_count"`
	MaxInputChars        int    `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	RetryAttempts        int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseDelayMs     int    `yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs      int    `yaml:"retry_max_delay_ms" mapstructure:"retry_max_delay_ms"`
	PromptVersion        string `yaml:"prompt_version" mapstructure:"prompt_version"`
	InitialLookbackHours int    `yaml:"initial_lookback_hours" mapstructure:"initial_lookback_hours"`
	FetchLimit           int    `yaml:"fetch_limit" mapstructure:"fetch_limit"`
}

// ExtractTimeout returns the per-item extraction deadline.
func (p PipelineConfig) ExtractTimeout() time.Duration {
	return time.Duration(p.ExtractTimeoutMs) * time.Millisecond
}

// RetryBaseDelay returns the backoff unit for retried network calls.
func (p PipelineConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap for retried network calls.
func (p PipelineConfig) RetryMaxDelay() time.Duration {
	return time.Duration(p.RetryMaxDelayMs) * time.Millisecond
}

// InitialLookback returns the fetch window used when no watermark exists yet.
func (p PipelineConfig) InitialLookback() time.Duration {
	return time.Duration(p.InitialLookbackHours) * time.Hour
}

// SchedulerConfig configures the cron trigger.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Cron    string `yaml:"cron" mapstructure:"cron"`
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("NEWSIMPACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("massive.base_url", "https://api.massive.com")
	v.SetDefault("massive.rate_limit_rps", 5)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("pipeline.extract_concurrency", 4)
	v.SetDefault("pipeline.classify_concurrency", 4)
	v.SetDefault("pipeline.extract_timeout_ms", 5000)
	v.SetDefault("pipeline.min_word_count", 200)
	v.SetDefault("pipeline.max_input_chars", 12000)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.retry_base_delay_ms", 300)
	v.SetDefault("pipeline.retry_max_delay_ms", 3000)
	v.SetDefault("pipeline.prompt_version", "v1")
	v.SetDefault("pipeline.initial_lookback_hours", 24)
	v.SetDefault("pipeline.fetch_limit", 100)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 * * * *")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects out-of-range pipeline settings at startup.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.ExtractConcurrency < 1 || p.ExtractConcurrency > 32:
		return eris.Errorf("config: pipeline.extract_concurrency %d out of range 1-32", p.ExtractConcurrency)
	case p.ClassifyConcurrency < 1 || p.ClassifyConcurrency > 32:
		return eris.Errorf("config: pipeline.classify_concurrency %d out of range 1-32", p.ClassifyConcurrency)
	case p.ExtractTimeoutMs < 1000:
		return eris.Errorf("config: pipeline.extract_timeout_ms %d below minimum 1000", p.ExtractTimeoutMs)
	case p.MinWordCount < 50:
		return eris.Errorf("config: pipeline.min_word_count %d below minimum 50", p.MinWordCount)
	case p.MaxInputChars < 1000:
		return eris.Errorf("config: pipeline.max_input_chars %d below minimum 1000", p.MaxInputChars)
	case p.RetryAttempts < 1 || p.RetryAttempts > 10:
		return eris.Errorf("config: pipeline.retry_attempts %d out of range 1-10", p.RetryAttempts)
	case p.RetryBaseDelayMs < 50:
		return eris.Errorf("config: pipeline.retry_base_delay_ms %d below minimum 50", p.RetryBaseDelayMs)
	case p.RetryMaxDelayMs < p.RetryBaseDelayMs:
		return eris.Errorf("config: pipeline.retry_max_delay_ms %d below base delay", p.RetryMaxDelayMs)
	case p.PromptVersion == "":
		return eris.New("config: pipeline.prompt_version must not be empty")
	case p.InitialLookbackHours < 1 || p.InitialLookbackHours > 168:
		return eris.Errorf("config: pipeline.initial_lookback_hours %d out of range 1-168", p.InitialLookbackHours)
	case p.FetchLimit < 1 || p.FetchLimit > 1000:
		return eris.Errorf("config: pipeline.fetch_limit %d out of range 1-1000", p.FetchLimit)
	}

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
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
