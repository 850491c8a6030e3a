// Package config loads process configuration: API credentials and pipeline
// tunables. Loaded once at start; runs never reload it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Apollo    ApolloConfig    `mapstructure:"apollo"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Resend    ResendConfig    `mapstructure:"resend"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Log       LogConfig       `mapstructure:"log"`
}

// ApolloConfig holds contacts API credentials.
type ApolloConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GeneratorConfig selects and configures the text-generation backend.
type GeneratorConfig struct {
	// Backend is "gemini" or "openai".
	Backend string `mapstructure:"backend"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// ResendConfig holds the email-sending backend credentials.
type ResendConfig struct {
	APIKey string `mapstructure:"api_key"`
	From   string `mapstructure:"from"`
}

// PipelineConfig holds the batching, pacing, and retry tunables.
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`

	EnrichChunkSize int           `mapstructure:"enrich_chunk_size"`
	SendBatchSize   int           `mapstructure:"send_batch_size"`
	PacingInterval  time.Duration `mapstructure:"pacing_interval"`
	SendRetries     int           `mapstructure:"send_retries"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file (optional) plus LEADFLOW_*
// environment variables. Env always wins over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can surface env-only
	// values during Unmarshal.
	v.SetDefault("apollo.api_key", "")
	v.SetDefault("apollo.base_url", "")
	v.SetDefault("generator.backend", "gemini")
	v.SetDefault("generator.model", "")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.base_url", "")
	v.SetDefault("resend.api_key", "")
	v.SetDefault("resend.from", "")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.request_timeout", 30*time.Second)
	v.SetDefault("pipeline.rate_limit_rps", 0.0)
	v.SetDefault("pipeline.enrich_chunk_size", 10)
	v.SetDefault("pipeline.send_batch_size", 5)
	v.SetDefault("pipeline.pacing_interval", 2*time.Second)
	v.SetDefault("pipeline.send_retries", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Apollo.APIKey) == "" {
		return fmt.Errorf("apollo.api_key is required (env: LEADFLOW_APOLLO_API_KEY)")
	}
	switch strings.ToLower(strings.TrimSpace(c.Generator.Backend)) {
	case "gemini", "openai":
	default:
		return fmt.Errorf("generator.backend must be gemini or openai (got %q)", c.Generator.Backend)
	}
	if strings.TrimSpace(c.Generator.APIKey) == "" {
		return fmt.Errorf("generator.api_key is required (env: LEADFLOW_GENERATOR_API_KEY)")
	}
	if strings.TrimSpace(c.Generator.Model) == "" {
		return fmt.Errorf("generator.model is required (env: LEADFLOW_GENERATOR_MODEL)")
	}
	return nil
}
