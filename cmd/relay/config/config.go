// Package configcmder provides the config command for managing persistent
// relay configuration stored in the .relay/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent relay configuration.

Configuration is stored as config.toml in the .relay/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.postgres_url,
  redis.url, server.listen,
  worker.count, worker.queue_size, worker.checkpoint_every,
  gateway.heartbeat_seconds, gateway.block_seconds,
  retention.max_age_hours, retention.interval_minutes, retention.max_len,
  providers.gemini.api_key, providers.openrouter.api_key,
  providers.openrouter.site_url, providers.openrouter.site_name,
  providers.github.token

Use subcommands to get, set, or list configuration values:
  relay config set <key> <value>    Set a configuration value
  relay config get <key>            Get a configuration value
  relay config list                 List all configuration values

Examples:
  relay config set storage.driver postgres
  relay config set redis.url redis://localhost:6379/0
  relay config get server.listen
  relay config list`

const configShortDesc string = "Manage persistent relay configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
