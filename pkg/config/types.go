package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Storage   StorageConfig   `toml:"storage"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	Worker    WorkerConfig    `toml:"worker"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Retention RetentionConfig `toml:"retention"`
	Providers ProvidersConfig `toml:"providers"`
}

// StorageConfig holds durable store settings shared by the API server and
// the worker pool.
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresURL string `toml:"postgres_url,omitempty"`
}

// RedisConfig holds the connection for the stream log and cancellation
// registry. An empty URL selects the in-memory backends.
type RedisConfig struct {
	URL string `toml:"url,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// WorkerConfig holds generation worker pool settings.
type WorkerConfig struct {
	Count           uint `toml:"count,omitempty"`
	QueueSize       uint `toml:"queue_size,omitempty"`
	CheckpointEvery int  `toml:"checkpoint_every,omitempty"`
}

// GatewayConfig holds streaming session settings.
type GatewayConfig struct {
	HeartbeatSeconds int `toml:"heartbeat_seconds,omitempty"`
	BlockSeconds     int `toml:"block_seconds,omitempty"`
}

// RetentionConfig controls the periodic stream log sweeper.
type RetentionConfig struct {
	MaxAgeHours     int   `toml:"max_age_hours,omitempty"`
	IntervalMinutes int   `toml:"interval_minutes,omitempty"`
	MaxLen          int64 `toml:"max_len,omitempty"`
}

// ProvidersConfig holds credentials for the upstream generation providers.
// A provider with no credential is simply not registered.
type ProvidersConfig struct {
	Gemini     GeminiConfig     `toml:"gemini"`
	OpenRouter OpenRouterConfig `toml:"openrouter"`
	GitHub     GitHubConfig     `toml:"github"`
}

type GeminiConfig struct {
	APIKey string `toml:"api_key,omitempty"`
}

type OpenRouterConfig struct {
	APIKey   string `toml:"api_key,omitempty"`
	SiteURL  string `toml:"site_url,omitempty"`
	SiteName string `toml:"site_name,omitempty"`
}

type GitHubConfig struct {
	Token string `toml:"token,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_url": {
		get: func(c *Config) string { return c.Storage.PostgresURL },
		set: func(c *Config, v string) error { c.Storage.PostgresURL = v; return nil },
	},
	"redis.url": {
		get: func(c *Config) string { return c.Redis.URL },
		set: func(c *Config, v string) error { c.Redis.URL = v; return nil },
	},
	"server.listen": {
		get: func(c *Config) string { return c.Server.Listen },
		set: func(c *Config, v string) error { c.Server.Listen = v; return nil },
	},
	"worker.count": {
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.Worker.Count), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for worker.count: %w", err)
			}
			c.Worker.Count = uint(n)
			return nil
		},
	},
	"worker.queue_size": {
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.Worker.QueueSize), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for worker.queue_size: %w", err)
			}
			c.Worker.QueueSize = uint(n)
			return nil
		},
	},
	"worker.checkpoint_every": {
		get: func(c *Config) string { return strconv.Itoa(c.Worker.CheckpointEvery) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for worker.checkpoint_every: %w", err)
			}
			c.Worker.CheckpointEvery = n
			return nil
		},
	},
	"gateway.heartbeat_seconds": {
		get: func(c *Config) string { return strconv.Itoa(c.Gateway.HeartbeatSeconds) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for gateway.heartbeat_seconds: %w", err)
			}
			c.Gateway.HeartbeatSeconds = n
			return nil
		},
	},
	"gateway.block_seconds": {
		get: func(c *Config) string { return strconv.Itoa(c.Gateway.BlockSeconds) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for gateway.block_seconds: %w", err)
			}
			c.Gateway.BlockSeconds = n
			return nil
		},
	},
	"retention.max_age_hours": {
		get: func(c *Config) string { return strconv.Itoa(c.Retention.MaxAgeHours) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for retention.max_age_hours: %w", err)
			}
			c.Retention.MaxAgeHours = n
			return nil
		},
	},
	"retention.interval_minutes": {
		get: func(c *Config) string { return strconv.Itoa(c.Retention.IntervalMinutes) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for retention.interval_minutes: %w", err)
			}
			c.Retention.IntervalMinutes = n
			return nil
		},
	},
	"retention.max_len": {
		get: func(c *Config) string { return strconv.FormatInt(c.Retention.MaxLen, 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for retention.max_len: %w", err)
			}
			c.Retention.MaxLen = n
			return nil
		},
	},
	"providers.gemini.api_key": {
		get: func(c *Config) string { return c.Providers.Gemini.APIKey },
		set: func(c *Config, v string) error { c.Providers.Gemini.APIKey = v; return nil },
	},
	"providers.openrouter.api_key": {
		get: func(c *Config) string { return c.Providers.OpenRouter.APIKey },
		set: func(c *Config, v string) error { c.Providers.OpenRouter.APIKey = v; return nil },
	},
	"providers.openrouter.site_url": {
		get: func(c *Config) string { return c.Providers.OpenRouter.SiteURL },
		set: func(c *Config, v string) error { c.Providers.OpenRouter.SiteURL = v; return nil },
	},
	"providers.openrouter.site_name": {
		get: func(c *Config) string { return c.Providers.OpenRouter.SiteName },
		set: func(c *Config, v string) error { c.Providers.OpenRouter.SiteName = v; return nil },
	},
	"providers.github.token": {
		get: func(c *Config) string { return c.Providers.GitHub.Token },
		set: func(c *Config, v string) error { c.Providers.GitHub.Token = v; return nil },
	},
}
