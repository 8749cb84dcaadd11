package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	TokenStoreMemory   = "memory"
	TokenStoreFile     = "file"
	TokenStoreSQLite   = "sqlite"
	TokenStorePostgres = "postgres"
)

type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	Jitter      float64       `koanf:"jitter" mapstructure:"jitter"`
}

type IdempotencyConfig struct {
	TTL time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type TokenStoreConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	Path   string `koanf:"path" mapstructure:"path"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
}

type TokenConfig struct {
	RefreshBuffer time.Duration    `koanf:"refresh_buffer" mapstructure:"refresh_buffer"`
	AuthScheme    string           `koanf:"auth_scheme" mapstructure:"auth_scheme"`
	Store         TokenStoreConfig `koanf:"store" mapstructure:"store"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	BaseURL     string            `koanf:"base_url" mapstructure:"base_url"`
	Timeout     time.Duration     `koanf:"timeout" mapstructure:"timeout"`
	Retry       RetryConfig       `koanf:"retry" mapstructure:"retry"`
	Idempotency IdempotencyConfig `koanf:"idempotency" mapstructure:"idempotency"`
	Token       TokenConfig       `koanf:"token" mapstructure:"token"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "outbound",
		Timeout:     DefaultAttemptTimeout,
		Retry: RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBaseDelay,
		},
		Idempotency: IdempotencyConfig{TTL: DefaultIdempotencyTTL},
		Token: TokenConfig{
			RefreshBuffer: DefaultRefreshBuffer,
			AuthScheme:    DefaultAuthScheme,
			Store:         TokenStoreConfig{Driver: TokenStoreMemory},
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("core: timeout must be positive")
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.MaxAttempts > MaxAttemptsCap {
		return fmt.Errorf("core: retry.max_attempts must be between 1 and %d", MaxAttemptsCap)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("core: retry.base_delay must be positive")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("core: retry.jitter must be between 0 and 1")
	}
	if c.Idempotency.TTL < 0 {
		return fmt.Errorf("core: idempotency.ttl must be positive")
	}
	if c.Token.RefreshBuffer < 0 {
		return fmt.Errorf("core: token.refresh_buffer must be positive")
	}
	switch strings.TrimSpace(strings.ToLower(c.Token.Store.Driver)) {
	case "", TokenStoreMemory:
	case TokenStoreFile:
		if strings.TrimSpace(c.Token.Store.Path) == "" {
			return fmt.Errorf("core: token.store.path is required for the file driver")
		}
	case TokenStoreSQLite, TokenStorePostgres:
		if strings.TrimSpace(c.Token.Store.DSN) == "" {
			return fmt.Errorf("core: token.store.dsn is required for the %s driver", c.Token.Store.Driver)
		}
	default:
		return fmt.Errorf("core: token.store.driver %q is invalid", c.Token.Store.Driver)
	}
	return nil
}

// RetryPolicy converts the retry section into a policy.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Jitter:      c.Retry.Jitter,
	}.normalized()
}
