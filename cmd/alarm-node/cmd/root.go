package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/service/node"
	"github.com/oshokin/alarm-central/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd represents the base command for running the node agent.
	rootCmd = &cobra.Command{
		Use:   "alarm-node",
		Short: "Run the alarm node agent that reports sensor events to the central server.",
		Long: `Starts the alarm node agent.

The agent samples GPIO-backed sensors, applies the disarm/breach state
machine and reports every event to the central server with at-least-once
delivery: events are queued, numbered and retransmitted until the server
acknowledges them. Keepalive pings ride the primary UDP transport; when
it goes silent the agent fails over to the secondary TCP transport and
keeps probing the primary for recovery.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &node.Options{
				ConfigPath: configPath,
			}

			return node.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-node CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().
		StringVarP(&configPath, "config", "c", config.DefaultNodeConfigFilename, "path to configuration file")
}
