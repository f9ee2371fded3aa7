// Package relaycmder
package relaycmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/omnichat/relay/cmd/relay/config"
	servecmder "github.com/omnichat/relay/cmd/relay/serve"
	versioncmder "github.com/omnichat/relay/cmd/version"
)

const relayLongDesc string = `Relay generates AI responses asynchronously and streams them to clients
over resumable connections.

Run the service using:
  relay serve          Run the API server, worker pool, and stream gateway

Manage configuration using:
  relay config set <key> <value>
  relay config get <key>
  relay config list`

const relayShortDesc string = "Relay - Resumable AI Generation"

func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: relayShortDesc,
		Long:  relayLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to the .relay config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
