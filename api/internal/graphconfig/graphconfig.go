// Package graphconfig loads CLI-facing configuration for the
// graphsim-cli demo binary. It follows a viper defaults-then-env-override
// pattern, with a config surface scoped to one traversal invocation
// instead of a whole server.
package graphconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the set of CLI-tunable graph traversal settings.
type Config struct {
	BaseURL                 string        `mapstructure:"GRAPHSIM_BASE_URL"`
	AccessToken             string        `mapstructure:"GRAPHSIM_ACCESS_TOKEN"`
	Scopes                  []string      `mapstructure:"GRAPHSIM_SCOPES"`
	MaxConcurrentRequests   int           `mapstructure:"GRAPHSIM_MAX_CONCURRENT_REQUESTS"`
	PageSize                int           `mapstructure:"GRAPHSIM_PAGE_SIZE"`
	RequestSize             int           `mapstructure:"GRAPHSIM_REQUEST_SIZE"`
	RetryCount              int           `mapstructure:"GRAPHSIM_RETRY_COUNT"`
	MaximumTimeToRetryOn429 time.Duration `mapstructure:"GRAPHSIM_MAX_RETRY_429"`
	SeparateBundleResources bool          `mapstructure:"GRAPHSIM_SEPARATE_BUNDLE_RESOURCES"`
	UseDataStreaming        bool          `mapstructure:"GRAPHSIM_USE_DATA_STREAMING"`
	RedisURL                string        `mapstructure:"GRAPHSIM_REDIS_URL"`
}

// Load reads configuration from environment variables (optionally backed
// by a ".env" file in the working directory), applying the same page size,
// request size, retry count and 429 cap defaults as Options.WithDefaults(),
// plus a default concurrency limit of 8 where Options leaves it unbounded.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("GRAPHSIM_PAGE_SIZE", 10)
	v.SetDefault("GRAPHSIM_REQUEST_SIZE", 1)
	v.SetDefault("GRAPHSIM_RETRY_COUNT", 3)
	v.SetDefault("GRAPHSIM_MAX_RETRY_429", "60s")
	v.SetDefault("GRAPHSIM_MAX_CONCURRENT_REQUESTS", 8)

	for _, key := range []string{
		"GRAPHSIM_BASE_URL", "GRAPHSIM_ACCESS_TOKEN", "GRAPHSIM_SCOPES",
		"GRAPHSIM_MAX_CONCURRENT_REQUESTS", "GRAPHSIM_PAGE_SIZE", "GRAPHSIM_REQUEST_SIZE",
		"GRAPHSIM_RETRY_COUNT", "GRAPHSIM_MAX_RETRY_429", "GRAPHSIM_SEPARATE_BUNDLE_RESOURCES",
		"GRAPHSIM_USE_DATA_STREAMING", "GRAPHSIM_REDIS_URL",
	} {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal graphsim config: %w", err)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("GRAPHSIM_BASE_URL is required")
	}
	return cfg, nil
}
