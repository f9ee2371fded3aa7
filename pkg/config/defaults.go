package config

const (
	defaultStorageDriver = "sqlite"
	defaultSQLitePath    = "relay.db"

	defaultRedisURL = "redis://localhost:6379/0"

	defaultServerListen = ":8080"

	defaultWorkerCount     = 4
	defaultQueueSize       = 256
	defaultCheckpointEvery = 10

	defaultHeartbeatSeconds = 45
	defaultBlockSeconds     = 5

	defaultRetentionMaxAgeHours     = 24
	defaultRetentionIntervalMinutes = 60
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver:     defaultStorageDriver,
			SQLitePath: defaultSQLitePath,
		},
		Redis: RedisConfig{
			URL: defaultRedisURL,
		},
		Server: ServerConfig{
			Listen: defaultServerListen,
		},
		Worker: WorkerConfig{
			Count:           defaultWorkerCount,
			QueueSize:       defaultQueueSize,
			CheckpointEvery: defaultCheckpointEvery,
		},
		Gateway: GatewayConfig{
			HeartbeatSeconds: defaultHeartbeatSeconds,
			BlockSeconds:     defaultBlockSeconds,
		},
		Retention: RetentionConfig{
			MaxAgeHours:     defaultRetentionMaxAgeHours,
			IntervalMinutes: defaultRetentionIntervalMinutes,
		},
	}
}
