// Package servecmder provides the serve command that runs the relay
// service: HTTP API, generation worker pool, stream gateway, and the
// retention sweeper.
package servecmder

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/omnichat/relay/api"
	"github.com/omnichat/relay/gateway"
	"github.com/omnichat/relay/pkg/cancel"
	cancelinmemory "github.com/omnichat/relay/pkg/cancel/inmemory"
	"github.com/omnichat/relay/pkg/cancel/redisflag"
	"github.com/omnichat/relay/pkg/config"
	"github.com/omnichat/relay/pkg/llm/provider"
	"github.com/omnichat/relay/pkg/llm/provider/gemini"
	"github.com/omnichat/relay/pkg/llm/provider/githubmodels"
	"github.com/omnichat/relay/pkg/llm/provider/openrouter"
	"github.com/omnichat/relay/pkg/logger"
	"github.com/omnichat/relay/pkg/store"
	storeinmemory "github.com/omnichat/relay/pkg/store/inmemory"
	"github.com/omnichat/relay/pkg/store/postgres"
	"github.com/omnichat/relay/pkg/store/sqlite"
	"github.com/omnichat/relay/pkg/streamlog"
	loginmemory "github.com/omnichat/relay/pkg/streamlog/inmemory"
	"github.com/omnichat/relay/pkg/streamlog/redisstream"
	"github.com/omnichat/relay/worker"
)

type ServeCommander struct {
	configDir string
	debug     bool

	listen        string
	storageDriver string
	sqlitePath    string
	postgresURL   string
	redisURL      string
	workers       uint

	logger *zap.Logger
}

const serveLongDesc string = `Run the relay service.

Starts the HTTP API, the generation worker pool, the resumable stream
gateway, and the stream log retention sweeper in one process.`

const serveShortDesc string = "Run the relay service"

// serveFlags is the flag registry for the serve command.
var serveFlags = config.FlagSet{
	config.FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "server.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Store driver (inmemory, sqlite, postgres)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to the SQLite database",
	},
	config.FlagPostgres: {
		Name:        "postgres",
		ViperKey:    "storage.postgres_url",
		Description: "PostgreSQL connection string",
	},
	config.FlagRedisURL: {
		Name:        "redis-url",
		Shorthand:   "r",
		ViperKey:    "redis.url",
		Description: "Redis URL for the stream log (empty: in-memory)",
	},
	config.FlagWorkers: {
		Name:        "workers",
		Shorthand:   "w",
		ViperKey:    "worker.count",
		Description: "Number of generation workers",
	},
}

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagRedisURL,
	config.FlagWorkers,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			return cmder.run(v)
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgres, &cmder.postgresURL)
	config.AddStringFlag(cmd, serveFlags, config.FlagRedisURL, &cmder.redisURL)
	config.AddUintFlag(cmd, serveFlags, config.FlagWorkers, &cmder.workers)

	return cmd
}

func (c *ServeCommander) run(v *viper.Viper) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared durable store
	storer, err := c.createStorer(ctx, v)
	if err != nil {
		return err
	}
	defer storer.Close()

	// Stream log and cancellation registry, sharing one Redis client when
	// Redis is configured.
	log, cancels, err := c.createTransport(v)
	if err != nil {
		return err
	}
	defer log.Close()

	providers, err := c.createProviders(ctx, v)
	if err != nil {
		return err
	}

	// Watch config.toml so operators get a nudge that edits need a restart.
	if cfger, err := config.NewConfiger(c.configDir); err == nil {
		go func() {
			if err := cfger.Watch(ctx, func(*config.Config) {
				c.logger.Info("config file changed, restart to apply")
			}); err != nil {
				c.logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	pool, err := worker.NewPool(&worker.Config{
		Store:           storer,
		Log:             log,
		Cancels:         cancels,
		Providers:       providers,
		NumWorkers:      v.GetUint("worker.count"),
		QueueSize:       v.GetUint("worker.queue_size"),
		CheckpointEvery: v.GetInt("worker.checkpoint_every"),
		Logger:          c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Close()

	dispatcher := worker.NewDispatcher(storer, pool, c.logger)
	terminator := worker.NewTerminator(storer, log, cancels, c.logger)

	gw := gateway.New(gateway.Config{
		Log:       log,
		Heartbeat: time.Duration(v.GetInt("gateway.heartbeat_seconds")) * time.Second,
		Block:     time.Duration(v.GetInt("gateway.block_seconds")) * time.Second,
		Logger:    c.logger,
	})

	sweeper := streamlog.NewSweeper(log, streamlog.TrimPolicy{
		MaxLen: v.GetInt64("retention.max_len"),
		MaxAge: time.Duration(v.GetInt("retention.max_age_hours")) * time.Hour,
	}, time.Duration(v.GetInt("retention.interval_minutes"))*time.Minute, c.logger)
	go sweeper.Run(ctx)

	apiServer := api.NewServer(api.Config{
		ListenAddr: v.GetString("server.listen"),
	}, storer, dispatcher, terminator, gw, c.logger)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	c.logger.Info("relay running",
		zap.String("listen", v.GetString("server.listen")),
		zap.Strings("providers", providers.Names()),
	)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		c.logger.Info("received signal, shutting down")
		return apiServer.Shutdown()
	}
}

func (c *ServeCommander) createStorer(ctx context.Context, v *viper.Viper) (store.Driver, error) {
	switch driver := v.GetString("storage.driver"); driver {
	case "inmemory":
		c.logger.Info("using in-memory store")
		return storeinmemory.NewDriver(), nil

	case "sqlite":
		path := v.GetString("storage.sqlite_path")
		storer, err := sqlite.NewDriver(path)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		c.logger.Info("using SQLite store", zap.String("path", path))
		return storer, nil

	case "postgres":
		url := v.GetString("storage.postgres_url")
		storer, err := postgres.NewDriver(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		c.logger.Info("using PostgreSQL store")
		return storer, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q (available: inmemory, sqlite, postgres)", driver)
	}
}

func (c *ServeCommander) createTransport(v *viper.Viper) (streamlog.Log, cancel.Registry, error) {
	url := v.GetString("redis.url")
	if url == "" {
		c.logger.Info("using in-memory stream log")
		return loginmemory.NewDriver(), cancelinmemory.NewRegistry(0), nil
	}

	log, err := redisstream.NewDriverFromURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("creating redis stream log: %w", err)
	}

	c.logger.Info("using Redis stream log")
	return log, redisflag.NewRegistry(log.Client(), 0), nil
}

func (c *ServeCommander) createProviders(ctx context.Context, v *viper.Viper) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	if key := v.GetString("providers.gemini.api_key"); key != "" {
		g, err := gemini.New(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("creating gemini provider: %w", err)
		}
		reg.Register(g)
	}

	if key := v.GetString("providers.openrouter.api_key"); key != "" {
		reg.Register(openrouter.New(openrouter.Config{
			APIKey:   key,
			SiteURL:  v.GetString("providers.openrouter.site_url"),
			SiteName: v.GetString("providers.openrouter.site_name"),
		}))
	}

	if token := v.GetString("providers.github.token"); token != "" {
		reg.Register(githubmodels.New(githubmodels.Config{
			Token: token,
		}))
	}

	if len(reg.Names()) == 0 {
		c.logger.Warn("no providers configured, generation requests will be rejected")
	}

	return reg, nil
}
