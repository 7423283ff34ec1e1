package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. Every secret the
// orchestrator needs is an explicit field here and is injected at
// construction; nothing reads the environment at call sites.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	TaskSource TaskSourceConfig `yaml:"task_source"`
	Auth       AuthConfig       `yaml:"auth"`
	Stats      StatsConfig      `yaml:"stats"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, allowing an environment override for
// containerized deployments.
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings for the rate limiter and
// the stat-writer locks.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// TaskSourceConfig holds the remote task source API settings.
type TaskSourceConfig struct {
	BaseURL           string `yaml:"base_url"`
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	PageSize          int    `yaml:"page_size"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// Timeout returns the configured timeout as a duration.
func (c TaskSourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AuthConfig holds OAuth login and session configuration.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	SessionSecret string `yaml:"session_secret"`
	CookieName    string `yaml:"cookie_name"`
	CookieMaxAge  int    `yaml:"cookie_max_age"`
}

// StatsConfig holds the aggregation engine's tunables.
type StatsConfig struct {
	// BatchSecret is the pre-shared bearer secret for POST /stats/batch.
	BatchSecret string `yaml:"batch_secret"`
	// BatchConcurrency bounds the all-users fan-out.
	BatchConcurrency int `yaml:"batch_concurrency"`
	// BatchIntervalMinutes drives the in-process scheduler; 0 disables it.
	BatchIntervalMinutes int `yaml:"batch_interval_minutes"`
	// DistributionCacheSeconds is the Cache-Control max-age on the
	// distribution endpoint.
	DistributionCacheSeconds int `yaml:"distribution_cache_seconds"`
	// DistributionLimit caps the number of entries per distribution.
	DistributionLimit int `yaml:"distribution_limit"`
}

// BatchInterval returns the scheduler interval as a duration.
func (c StatsConfig) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalMinutes) * time.Minute
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.TaskSource.BaseURL == "" {
		cfg.TaskSource.BaseURL = "https://tasks.googleapis.com/tasks/v1"
	}
	if cfg.TaskSource.TimeoutSeconds == 0 {
		cfg.TaskSource.TimeoutSeconds = 30
	}
	if cfg.TaskSource.PageSize == 0 {
		cfg.TaskSource.PageSize = 100
	}
	if cfg.TaskSource.RequestsPerMinute == 0 {
		cfg.TaskSource.RequestsPerMinute = 300
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "taskmetrics_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 86400 * 7
	}
	if cfg.Stats.BatchConcurrency == 0 {
		cfg.Stats.BatchConcurrency = 4
	}
	if cfg.Stats.DistributionCacheSeconds == 0 {
		cfg.Stats.DistributionCacheSeconds = 300
	}
	if cfg.Stats.DistributionLimit == 0 {
		cfg.Stats.DistributionLimit = 10
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("TASKS_API_BASE_URL"); v != "" {
		cfg.TaskSource.BaseURL = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.TaskSource.ClientID = v
		cfg.Auth.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.TaskSource.ClientSecret = v
		cfg.Auth.ClientSecret = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := os.Getenv("STATS_BATCH_SECRET"); v != "" {
		cfg.Stats.BatchSecret = v
	}
	if v := os.Getenv("STATS_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Stats.BatchConcurrency = n
		}
	}

	return cfg, nil
}

// Validate checks that the fields required to run the server are present.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url (or DATABASE_URL) is required")
	}
	if cfg.Stats.BatchSecret == "" {
		return fmt.Errorf("stats.batch_secret (or STATS_BATCH_SECRET) is required")
	}
	return nil
}
