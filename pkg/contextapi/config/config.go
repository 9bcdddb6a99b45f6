// Package config loads the environment/config knobs named in spec §6:
// concurrency caps, retry policy, cache sizing, audit retention, batch
// sizing, and encryption toggles, plus the connection settings for the
// backing Postgres (framework controls) and Redis (context/evidence KV)
// stores.
//
// Grounded on the teacher's pkg/contextapi/config LoadConfig/LoadFromEnv
// pair: YAML file as the base, environment variables as an override
// layer applied on top, not `spf13/viper` (the teacher doesn't reach for
// viper here and neither do we).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the thin HTTP adapter's listen address (§1 Out-of-scope:
// the adapter itself is external, but it still needs somewhere to bind).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig is the relational framework-control repository's
// connection (pkg/storage/sqlstore).
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// CacheConfig is the Redis-backed KV store shared by the Context Store
// and Evidence Store (the Audit Log keeps its events in process).
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// CoreConfig carries the §6 knobs governing the scheduler, ETL batching,
// context cache, and audit retention.
type CoreConfig struct {
	MaxConcurrentTasksPerAgent  int     `yaml:"max_concurrent_tasks_per_agent"`
	GlobalConcurrencyCap        int     `yaml:"global_concurrency_cap"`
	DefaultTaskTimeoutSeconds   int     `yaml:"default_task_timeout_seconds"`
	RetryMaxAttempts            int     `yaml:"retry_max_attempts"`
	RetryBaseDelaySeconds       float64 `yaml:"retry_base_delay_seconds"`
	CacheMaxEntries             int     `yaml:"cache_max_entries"`
	CacheTTLSeconds             int     `yaml:"cache_ttl_seconds"`
	ContextCleanupIntervalSecs  int     `yaml:"context_cleanup_interval_seconds"`
	AuditRetentionDays          int     `yaml:"audit_retention_days"`
	BatchDefaultSize            int     `yaml:"batch_default_size"`
	BatchTimeoutMilliseconds    int     `yaml:"batch_timeout_milliseconds"`
	EncryptionEnabled           bool    `yaml:"encryption_enabled"`
}

// Config is the full set of §6 knobs plus backing-store connection info.
// IntegrityKey and EncryptionKeyRing are secrets: never populated from
// YAML, only from environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Core     CoreConfig     `yaml:"core"`

	IntegrityKey      string `yaml:"-"`
	EncryptionKeyRing string `yaml:"-"`
}

// LoadConfig reads and parses a YAML config file. It never reads secrets
// from disk; call LoadFromEnv afterward to layer in INTEGRITY_KEY and
// ENCRYPTION_KEY_RING plus any override variables.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv overrides fields already loaded from YAML with environment
// variables when present, and always pulls secrets from the environment.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Database.Port = n
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.RedisDB = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_TASKS_PER_AGENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Core.MaxConcurrentTasksPerAgent = n
		}
	}
	if v := os.Getenv("GLOBAL_CONCURRENCY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Core.GlobalConcurrencyCap = n
		}
	}
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Core.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("ENCRYPTION_ENABLED"); v != "" {
		c.Core.EncryptionEnabled = v == "true" || v == "1"
	}

	// Secrets: environment-only, never present in the YAML file.
	c.IntegrityKey = os.Getenv("INTEGRITY_KEY")
	c.EncryptionKeyRing = os.Getenv("ENCRYPTION_KEY_RING")
}

// Validate checks the minimum fields the backing stores need to connect.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database port required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name required")
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("server port required")
	}
	return nil
}

// DefaultTaskTimeout is a convenience accessor for the scheduler's
// Config.DefaultTaskTimeout field.
func (c *Config) DefaultTaskTimeout() time.Duration {
	if c.Core.DefaultTaskTimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Core.DefaultTaskTimeoutSeconds) * time.Second
}

// RetryBaseDelay mirrors DefaultTaskTimeout for the backoff base delay.
func (c *Config) RetryBaseDelay() time.Duration {
	if c.Core.RetryBaseDelaySeconds == 0 {
		return time.Second
	}
	return time.Duration(c.Core.RetryBaseDelaySeconds * float64(time.Second))
}
