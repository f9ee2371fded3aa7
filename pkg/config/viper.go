package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/omnichat/relay/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the RELAY_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (RELAY_SERVER_LISTEN, RELAY_REDIS_URL, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: RELAY_SERVER_LISTEN, RELAY_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_url", d.Storage.PostgresURL)

	// Redis
	v.SetDefault("redis.url", d.Redis.URL)

	// Server
	v.SetDefault("server.listen", d.Server.Listen)

	// Worker pool
	v.SetDefault("worker.count", d.Worker.Count)
	v.SetDefault("worker.queue_size", d.Worker.QueueSize)
	v.SetDefault("worker.checkpoint_every", d.Worker.CheckpointEvery)

	// Gateway
	v.SetDefault("gateway.heartbeat_seconds", d.Gateway.HeartbeatSeconds)
	v.SetDefault("gateway.block_seconds", d.Gateway.BlockSeconds)

	// Retention
	v.SetDefault("retention.max_age_hours", d.Retention.MaxAgeHours)
	v.SetDefault("retention.interval_minutes", d.Retention.IntervalMinutes)
	v.SetDefault("retention.max_len", d.Retention.MaxLen)
}
